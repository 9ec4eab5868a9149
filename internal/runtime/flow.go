package runtime

import (
	"context"
	"slices"
	"sync"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
	"github.com/drblury/routineflow/internal/runtime/events"
	"github.com/drblury/routineflow/internal/runtime/logging"
)

// Flow groups routines that share one control-plane subscription. Its loop
// relays every event to the targeted members in order, then runs its own
// handlers, and coordinates the joint shutdown on kill.
type Flow struct {
	name     string
	logger   logging.ServiceLogger
	routines []*Routine
	handlers *events.Registry[*Flow]
	handle   *events.Handle

	mu    sync.Mutex
	built bool
	done  chan struct{}
}

var flowEvents = events.NewRegistry[*Flow]().
	On(events.Start, func(f *Flow, _ events.Event) error {
		f.logger.Info("Flow started", logging.LogFields{"routines": len(f.routines)})
		return nil
	}).
	On(events.Stop, func(f *Flow, _ events.Event) error {
		f.logger.Info("Flow stopped", nil)
		return nil
	})

// NewFlow groups routines under name and subscribes to the union of their
// events plus the flow's own. Members should be initialized first so their
// pacing events are part of the subscription.
func NewFlow(name string, bus *events.Bus, logger logging.ServiceLogger, routines ...*Routine) (*Flow, error) {
	if bus == nil {
		return nil, errspkg.ErrBusRequired
	}
	f := &Flow{
		name:     name,
		logger:   logging.Component(logger, "flow", name),
		routines: slices.Clone(routines),
		handlers: flowEvents,
		done:     make(chan struct{}),
	}
	for _, r := range f.routines {
		r.bindFlow(name)
	}

	handle, err := bus.Subscribe(f.EventNames()...)
	if err != nil {
		return nil, err
	}
	f.handle = handle
	return f, nil
}

func (f *Flow) Name() string { return f.name }

// Routines returns the members in the order events reach them.
func (f *Flow) Routines() []*Routine { return slices.Clone(f.routines) }

// EventNames is the sorted union of the member and flow events, plus kill.
func (f *Flow) EventNames() []string {
	names := append(f.handlers.Names(), events.Kill)
	for _, r := range f.routines {
		names = append(names, r.EventNames()...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Build spawns the flow loop. It may be called once.
func (f *Flow) Build(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built {
		return errspkg.ErrAlreadyBuilt
	}
	f.built = true
	go f.loop(ctx)
	return nil
}

// Join blocks until the flow loop has exited and every member has stopped.
// It returns immediately when the flow was never built.
func (f *Flow) Join() {
	f.mu.Lock()
	built := f.built
	f.mu.Unlock()
	if built {
		<-f.done
	}
}

func (f *Flow) loop(ctx context.Context) {
	defer close(f.done)
	for {
		ev, err := f.handle.Wait(ctx)
		if err != nil {
			f.logger.Debug("Flow stopped listening", logging.LogFields{"reason": err.Error()})
			f.shutdown()
			return
		}
		if ev.Name == events.Kill {
			f.logger.Info("Flow killed", nil)
			f.shutdown()
			return
		}
		f.dispatch(ev)
	}
}

// shutdown delivers a final stop and waits for every member.
func (f *Flow) shutdown() {
	f.dispatch(events.New(events.Stop))
	for _, r := range f.routines {
		r.Join()
	}
}

func (f *Flow) dispatch(ev events.Event) {
	for _, r := range f.routines {
		if !ev.Targeted(f.name, r.Name()) {
			continue
		}
		if err := r.Execute(ev); err != nil {
			f.logger.Error("Failed to execute event", err, logging.LogFields{"event": ev.Name, "routine": r.Name()})
		}
	}
	if !f.targeted(ev) {
		return
	}
	if err := f.handlers.Dispatch(f, ev); err != nil {
		f.logger.Error("Failed to execute event", err, logging.LogFields{"event": ev.Name})
	}
}

func (f *Flow) targeted(ev events.Event) bool {
	if len(ev.Targets) == 0 {
		return true
	}
	_, ok := ev.Targets[f.name]
	return ok
}
