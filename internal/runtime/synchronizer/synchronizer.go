// Package synchronizer keeps every producer of a pipeline at a rate its
// downstream path can sustain. It measures each routine from the durations
// it reports, caps producers by the slowest stage they feed and broadcasts
// the resulting targets as update-fps events.
package synchronizer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/routineflow/internal/runtime/events"
	"github.com/drblury/routineflow/internal/runtime/logging"
)

// DefaultInterval is the period of one cycle.
const DefaultInterval = time.Second

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithInterval overrides the cycle period.
func WithInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithNotifier overrides where update-fps events go. Defaults to the bus.
func WithNotifier(n events.Notifier) Option {
	return func(s *Synchronizer) { s.notify = n }
}

// WithTracer overrides the tracer used for cycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Synchronizer) { s.tracer = t }
}

// Synchronizer owns the pacing graph and runs the periodic cycle.
type Synchronizer struct {
	bus      *events.Bus
	logger   logging.ServiceLogger
	notify   events.Notifier
	tracer   trace.Tracer
	interval time.Duration
	listener *DurationListener
	handlers *events.Registry[*Synchronizer]

	cycleMu sync.Mutex
	graph   *Graph
	last    []Target
	cycles  int

	runMu     sync.Mutex
	cycleStop chan struct{}
	cycleDone chan struct{}

	handle *events.Handle
	done   chan struct{}
}

var synchronizerEvents = events.NewRegistry[*Synchronizer]().
	On(events.Start, func(s *Synchronizer, _ events.Event) error {
		s.startCycle()
		return nil
	}).
	On(events.Stop, func(s *Synchronizer, _ events.Event) error {
		s.stopCycle()
		return nil
	}).
	On(events.RoutineDuration, func(s *Synchronizer, ev events.Event) error {
		return s.listener.Record(ev)
	})

// New returns a synchronizer listening on bus.
func New(bus *events.Bus, logger logging.ServiceLogger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		bus:      bus,
		logger:   logging.Component(logger, "synchronizer", "auto-pacing"),
		tracer:   otel.Tracer("routineflow/synchronizer"),
		interval: DefaultInterval,
		handlers: synchronizerEvents,
		graph:    NewGraph(nil),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notify == nil && bus != nil {
		s.notify = bus.Publish
	}
	if s.notify == nil {
		s.notify = events.NopNotifier
	}
	s.listener = NewDurationListener(3 * max(s.interval, DefaultInterval))
	return s
}

// Listener exposes the duration store.
func (s *Synchronizer) Listener() *DurationListener { return s.listener }

// EventNames lists the events the synchronizer listens to.
func (s *Synchronizer) EventNames() []string {
	return append(s.handlers.Names(), events.Kill)
}

// Build constructs the graph from links and starts the event loop.
func (s *Synchronizer) Build(ctx context.Context, links []Link) error {
	s.cycleMu.Lock()
	s.graph = NewGraph(links)
	nodes := s.graph.Len()
	roots := s.graph.Roots()
	s.cycleMu.Unlock()

	handle, err := s.bus.Subscribe(s.EventNames()...)
	if err != nil {
		return err
	}
	s.handle = handle
	s.logger.Info("Built pacing graph", logging.LogFields{"nodes": nodes, "roots": roots})
	go s.loop(ctx)
	return nil
}

// Join blocks until the event loop has exited.
func (s *Synchronizer) Join() { <-s.done }

func (s *Synchronizer) loop(ctx context.Context) {
	defer close(s.done)
	defer s.stopCycle()
	for {
		ev, err := s.handle.Wait(ctx)
		if err != nil {
			s.logger.Debug("Synchronizer stopped listening", logging.LogFields{"reason": err.Error()})
			return
		}
		if ev.Name == events.Kill {
			s.logger.Info("Synchronizer killed", nil)
			return
		}
		if err := s.handlers.Dispatch(s, ev); err != nil {
			s.logger.Error("Failed to execute event", err, logging.LogFields{"event": ev.Name})
		}
	}
}

func (s *Synchronizer) startCycle() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cycleStop != nil {
		return
	}
	s.cycleStop = make(chan struct{})
	s.cycleDone = make(chan struct{})
	go s.cycleLoop(s.cycleStop, s.cycleDone)
}

// stopCycle halts the periodic cycle and waits for a cycle in flight.
func (s *Synchronizer) stopCycle() {
	s.runMu.Lock()
	stop, done := s.cycleStop, s.cycleDone
	s.cycleStop, s.cycleDone = nil, nil
	s.runMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Synchronizer) cycleLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Cycle(context.Background())
		}
	}
}

// Cycle runs one measure, resolve, push, broadcast and reset pass. Cycles
// never overlap.
func (s *Synchronizer) Cycle(ctx context.Context) []Target {
	_, span := s.tracer.Start(ctx, "SynchronizerCycle")
	defer span.End()

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.graph.measure(s.listener.MedianFPS)
	s.graph.resolveUp()
	s.graph.pushDown()
	targets := s.graph.targets()
	s.broadcast(targets)
	s.graph.reset()

	s.last = targets
	s.cycles++
	span.SetAttributes(
		attribute.Int("synchronizer.nodes", s.graph.Len()),
		attribute.Int("synchronizer.targets", len(targets)),
	)
	return targets
}

func (s *Synchronizer) broadcast(targets []Target) {
	for _, t := range targets {
		ev := events.New(events.UpdateFPS,
			events.ParamFPS, t.FPS,
			events.ParamRoutineName, t.Name,
		).To(t.Flow, t.Name)
		if err := s.notify(ev); err != nil {
			s.logger.Error("Failed to broadcast target fps", err, logging.LogFields{"routine": t.Name})
		}
	}
}

// Snapshot is the outcome of the most recent cycle.
type Snapshot struct {
	Cycles  int
	Targets []Target
}

// Snapshot returns the targets of the last completed cycle.
func (s *Synchronizer) Snapshot() Snapshot {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	out := make([]Target, len(s.last))
	copy(out, s.last)
	return Snapshot{Cycles: s.cycles, Targets: out}
}
