package runtime

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/routineflow/internal/runtime/config"
	"github.com/drblury/routineflow/internal/runtime/dataplane"
	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
	"github.com/drblury/routineflow/internal/runtime/events"
	"github.com/drblury/routineflow/internal/runtime/logging"
	"github.com/drblury/routineflow/internal/runtime/pacing"
	"github.com/drblury/routineflow/internal/runtime/synchronizer"
	"github.com/drblury/routineflow/transmit"
	_ "github.com/drblury/routineflow/transmit/direct"
	_ "github.com/drblury/routineflow/transmit/sharedsegment"
)

const shutdownTimeout = 5 * time.Second

// PipeOption configures a Pipe.
type PipeOption func(*Pipe)

// WithRegisterer selects where pipeline metrics are registered. A registerer
// that is also a Gatherer backs the /metrics endpoint.
func WithRegisterer(reg prometheus.Registerer) PipeOption {
	return func(p *Pipe) { p.registerer = reg }
}

// WithStrategies replaces the transmission strategy registry.
func WithStrategies(reg *transmit.Registry) PipeOption {
	return func(p *Pipe) {
		if reg != nil {
			p.strategies = reg
		}
	}
}

// WithSynchronizerOptions passes options to the auto-pacing synchronizer.
func WithSynchronizerOptions(opts ...synchronizer.Option) PipeOption {
	return func(p *Pipe) { p.syncOpts = append(p.syncOpts, opts...) }
}

// WithPacingOptions passes options to the pacer of every routine.
func WithPacingOptions(opts ...pacing.Option) PipeOption {
	return func(p *Pipe) { p.pacingOpts = append(p.pacingOpts, opts...) }
}

type link struct {
	strategy     transmit.Strategy
	source       *Routine
	destinations []*Routine
}

// Pipe assembles flows and wires into a running pipeline. It owns the event
// bus, the data-plane network and, with auto pacing, the synchronizer.
type Pipe struct {
	cfg        config.Config
	logger     logging.ServiceLogger
	bus        *events.Bus
	network    *dataplane.Network
	strategies *transmit.Registry
	registerer prometheus.Registerer
	syncOpts   []synchronizer.Option
	pacingOpts []pacing.Option
	metrics    *PipelineMetrics
	resources  *resourceTracker

	mu         sync.Mutex
	flows      []*Flow
	routines   []*Routine
	links      []link
	violations *errspkg.BuildError
	built      bool
	syncer     *synchronizer.Synchronizer
	intro      *introspection
	cancel     context.CancelFunc
}

// NewPipe validates cfg and prepares an empty pipeline. A nil cfg selects
// config.Default.
func NewPipe(cfg *config.Config, logger logging.ServiceLogger, opts ...PipeOption) (*Pipe, error) {
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	var conf config.Config
	if cfg == nil {
		conf = config.Default()
	} else {
		conf = cfg.WithDefaults()
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	p := &Pipe{
		cfg:        conf,
		logger:     logging.Component(logger, "pipe", "routineflow"),
		bus:        events.NewBus(logger),
		network:    dataplane.NewNetwork(conf.QueueCapacity),
		strategies: transmit.DefaultRegistry,
		resources:  newResourceTracker(),
		violations: &errspkg.BuildError{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if conf.MetricsEnabled {
		p.metrics = NewPipelineMetrics(p.registerer)
		if err := p.metrics.Register(); err != nil {
			_ = p.bus.Close()
			return nil, err
		}
	}
	p.logger.Debug("Pipe configured", logging.LogFields{"config": conf.String()})
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipe) Config() config.Config { return p.cfg }

// Bus exposes the control plane, e.g. for custom event handlers.
func (p *Pipe) Bus() *events.Bus { return p.bus }

// Synchronizer returns the auto-pacing synchronizer once built, or nil.
func (p *Pipe) Synchronizer() *synchronizer.Synchronizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncer
}

func (p *Pipe) pacingMode() pacing.Mode {
	if p.cfg.AutoPacing() {
		return pacing.ModeAuto
	}
	return pacing.ModeNone
}

// CreateFlow initializes routines against the pipe and groups them in a
// flow. runner applies to every member that did not choose one.
func (p *Pipe) CreateFlow(name string, runner Runner, routines ...*Routine) (*Flow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.built {
		return nil, errspkg.ErrWiringSealed
	}

	for _, f := range p.flows {
		if f.Name() == name {
			p.violations.Add("duplicate flow %q", name)
		}
	}

	opts := append([]pacing.Option{
		pacing.WithMultiplier(p.cfg.FPSMultiplier),
		pacing.WithNotifyInterval(p.cfg.DurationNotifyInterval),
		pacing.WithWindow(p.cfg.DurationWindow),
	}, p.pacingOpts...)

	members := make([]*Routine, 0, len(routines))
	for _, r := range routines {
		if r == nil {
			continue
		}
		if p.knownNameLocked(r.Name()) {
			p.violations.Add("duplicate routine %q", r.Name())
			continue
		}
		r.adoptRunner(runner)
		r.bindFlow(name)
		r.useTelemetry(p.metrics, p.resources)
		if err := r.Initialize(p.network.Handler(r.Name()), p.bus.Publish, p.pacingMode(), opts...); err != nil {
			return nil, err
		}
		members = append(members, r)
		p.routines = append(p.routines, r)
	}

	f, err := NewFlow(name, p.bus, p.logger, members...)
	if err != nil {
		return nil, err
	}
	p.flows = append(p.flows, f)
	return f, nil
}

func (p *Pipe) knownNameLocked(name string) bool {
	return slices.ContainsFunc(p.routines, func(r *Routine) bool { return r.Name() == name })
}

// Link wires source to destinations. A nil strategy selects the configured
// default. Problems with the graph are reported by Build.
func (p *Pipe) Link(strategy transmit.Strategy, source *Routine, destinations ...*Routine) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.built {
		return errspkg.ErrWiringSealed
	}
	if strategy == nil {
		s, err := p.strategies.Build(p.cfg.DefaultStrategy, &p.cfg, logging.NewWatermillAdapter(p.logger))
		if err != nil {
			return err
		}
		strategy = s
	}
	p.links = append(p.links, link{strategy: strategy, source: source, destinations: slices.Clone(destinations)})
	return nil
}

// validateLocked collects every violation of the graph rules.
func (p *Pipe) validateLocked() error {
	violations := &errspkg.BuildError{Violations: slices.Clone(p.violations.Violations)}
	outbound := make(map[string]bool)
	adjacency := make(map[string][]string)

	for _, l := range p.links {
		if l.source == nil {
			violations.Add("wire without source")
			continue
		}
		src := l.source.Name()
		if !slices.Contains(p.routines, l.source) {
			violations.Add("routine %q is not part of any flow", src)
		}
		if len(l.destinations) == 0 {
			violations.Add("wire from %q has no destinations", src)
		}
		if outbound[src] {
			violations.Add("routine %q has more than one outbound wire", src)
		}
		outbound[src] = true
		if l.source.Kind() == KindDestination {
			violations.Add("destination %q cannot be a wire source", src)
		}
		for _, d := range l.destinations {
			if d == nil {
				violations.Add("wire from %q has a nil destination", src)
				continue
			}
			if !slices.Contains(p.routines, d) {
				violations.Add("routine %q is not part of any flow", d.Name())
			}
			if d.Kind() == KindSource {
				violations.Add("source %q cannot be a wire destination", d.Name())
			}
			adjacency[src] = append(adjacency[src], d.Name())
		}
	}

	if cycle := findCycle(adjacency); cycle != "" {
		violations.Add("wires form a cycle through %q", cycle)
	}
	return violations.OrNil()
}

// findCycle returns a routine on a cycle, or "" when the graph is acyclic.
func findCycle(adjacency map[string][]string) string {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int)
	var visit func(string) string
	visit = func(n string) string {
		switch state[n] {
		case visiting:
			return n
		case visited:
			return ""
		}
		state[n] = visiting
		for _, next := range adjacency[n] {
			if c := visit(next); c != "" {
				return c
			}
		}
		state[n] = visited
		return ""
	}

	nodes := make([]string, 0, len(adjacency))
	for n := range adjacency {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if state[n] == unvisited {
			if c := visit(n); c != "" {
				return c
			}
		}
	}
	return ""
}

// Build validates the graph, seals the wiring and starts every loop:
// flows, the synchronizer when auto pacing is on and the introspection
// server when enabled. Routines stay stopped until Start.
func (p *Pipe) Build(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.built {
		return errspkg.ErrAlreadyBuilt
	}
	if err := p.validateLocked(); err != nil {
		return err
	}

	syncLinks := make([]synchronizer.Link, 0, len(p.links))
	for _, l := range p.links {
		dests := make([]string, 0, len(l.destinations))
		refs := make([]synchronizer.NodeRef, 0, len(l.destinations))
		for _, d := range l.destinations {
			dests = append(dests, d.Name())
			refs = append(refs, synchronizer.NodeRef{Name: d.Name(), Flow: d.Flow()})
		}
		if err := p.network.Link(l.source.Name(), dests, l.strategy); err != nil {
			return err
		}
		syncLinks = append(syncLinks, synchronizer.Link{
			Source:       synchronizer.NodeRef{Name: l.source.Name(), Flow: l.source.Flow()},
			Destinations: refs,
		})
	}
	p.network.Seal()
	p.built = true

	if p.cfg.IntrospectionEnabled {
		intro := newIntrospection(p.cfg.IntrospectionPort, p.cfg.IntrospectionCORSAllowedOrigins, p.Stats, p.logger)
		if p.cfg.MetricsEnabled {
			gatherer, _ := p.registerer.(prometheus.Gatherer)
			intro.withMetrics(gatherer)
		}
		if err := intro.start(); err != nil {
			return err
		}
		p.intro = intro
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	if started, err := p.startLoopsLocked(loopCtx, syncLinks); err != nil {
		p.abortLocked(started)
		return err
	}

	p.logger.Info("Pipe built", logging.LogFields{
		"flows":    len(p.flows),
		"routines": len(p.routines),
		"wires":    len(p.links),
	})
	return nil
}

// startLoopsLocked starts the synchronizer and every flow loop and returns
// the flows it started.
func (p *Pipe) startLoopsLocked(ctx context.Context, links []synchronizer.Link) ([]*Flow, error) {
	if p.cfg.AutoPacing() {
		opts := append([]synchronizer.Option{synchronizer.WithInterval(p.cfg.SyncInterval)}, p.syncOpts...)
		syncer := synchronizer.New(p.bus, p.logger, opts...)
		if err := syncer.Build(ctx, links); err != nil {
			return nil, err
		}
		p.syncer = syncer
	}
	started := make([]*Flow, 0, len(p.flows))
	for _, f := range p.flows {
		if err := f.Build(ctx); err != nil {
			return started, fmt.Errorf("build flow %s: %w", f.Name(), err)
		}
		started = append(started, f)
	}
	return started, nil
}

// abortLocked unwinds a failed Build: the loops in started and the
// synchronizer exit and the introspection server is released.
func (p *Pipe) abortLocked(started []*Flow) {
	p.cancel()
	for _, f := range started {
		f.Join()
	}
	if p.syncer != nil {
		p.syncer.Join()
		p.syncer = nil
	}
	if p.intro != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := p.intro.shutdown(ctx); err != nil {
			p.logger.Error("Failed to shut down HTTP server", err, nil)
		}
		p.intro = nil
	}
}

// Notify publishes ev on the control plane.
func (p *Pipe) Notify(ev events.Event) error { return p.bus.Publish(ev) }

// Start starts every routine and the synchronizer cycle.
func (p *Pipe) Start() error { return p.Notify(events.New(events.Start)) }

// Stop stops every routine. The pipe can be started again.
func (p *Pipe) Stop() error { return p.Notify(events.New(events.Stop)) }

// Kill stops everything for good; Join returns afterwards.
func (p *Pipe) Kill() error { return p.Notify(events.New(events.Kill)) }

// Join blocks until every flow and the synchronizer have exited, then tears
// down the network, the bus and the introspection server.
func (p *Pipe) Join() {
	p.mu.Lock()
	flows := slices.Clone(p.flows)
	syncer, intro, cancel := p.syncer, p.intro, p.cancel
	p.mu.Unlock()

	for _, f := range flows {
		f.Join()
	}
	if syncer != nil {
		syncer.Join()
	}
	if cancel != nil {
		cancel()
	}
	p.network.Teardown()
	if err := p.bus.Close(); err != nil {
		p.logger.Error("Failed to close event bus", err, nil)
	}
	if intro != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := intro.shutdown(ctx); err != nil {
			p.logger.Error("Failed to shut down HTTP server", err, nil)
		}
	}
	p.logger.Info("Pipe joined", nil)
}

// Wires lists the links applied at Build.
func (p *Pipe) Wires() []dataplane.Wire { return p.network.Wires() }

// Stats returns the introspection view of every routine in creation order.
func (p *Pipe) Stats() []RoutineInfo {
	p.mu.Lock()
	routines := slices.Clone(p.routines)
	p.mu.Unlock()

	depths := p.network.QueueDepths()
	out := make([]RoutineInfo, 0, len(routines))
	for _, r := range routines {
		if depth, ok := depths[r.Name()]; ok {
			if q := p.network.Handler(r.Name()).Input(); q != nil {
				r.stats.backlog(depth, q.Cap())
			}
		}
		out = append(out, r.Info())
	}
	return out
}
