package pacing

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/routineflow/internal/runtime/events"
	"github.com/drblury/routineflow/internal/runtime/logging"
)

// DefaultMultiplier is applied to every rate received through update-fps.
const DefaultMultiplier = 2.0

// Option configures a Paced pacer.
type Option func(*Paced)

// WithMultiplier overrides the safety multiplier.
func WithMultiplier(m float64) Option {
	return func(p *Paced) {
		if m > 0 {
			p.multiplier = m
		}
	}
}

// WithNotifyInterval overrides how often durations are reported.
func WithNotifyInterval(d time.Duration) Option {
	return func(p *Paced) { p.interval = d }
}

// WithWindow overrides how many recent durations are reported.
func WithWindow(n int) Option {
	return func(p *Paced) { p.window = n }
}

// WithSleeper replaces the delay implementation.
func WithSleeper(s Sleeper) Option {
	return func(p *Paced) {
		if s != nil {
			p.sleep = s
		}
	}
}

// WithLogger sets the logger used for rate changes.
func WithLogger(l logging.ServiceLogger) Option {
	return func(p *Paced) {
		if l != nil {
			p.logger = l
		}
	}
}

// Paced sleeps after each iteration so the routine runs no faster than its
// target rate, and reports iteration durations while started.
type Paced struct {
	routine    string
	multiplier float64
	interval   time.Duration
	window     int
	sleep      Sleeper
	logger     logging.ServiceLogger
	notifier   *BatchNotifier
	handlers   *events.Registry[*Paced]

	mu       sync.Mutex
	fps      float64
	constFPS float64
	last     time.Duration
	observed bool
}

var pacedEvents = events.NewRegistry[*Paced]().
	On(events.UpdateFPS, func(p *Paced, ev events.Event) error {
		fps, err := ev.Float(events.ParamFPS)
		if err != nil {
			return err
		}
		p.SetTargetFPS(fps)
		return nil
	}).
	On(events.Start, func(p *Paced, _ events.Event) error {
		p.Start()
		return nil
	}).
	On(events.Stop, func(p *Paced, _ events.Event) error {
		p.Stop()
		return nil
	})

// NewPaced returns a pacer for routine reporting through notify.
func NewPaced(routine string, notify events.Notifier, opts ...Option) *Paced {
	p := &Paced{
		routine:    routine,
		multiplier: DefaultMultiplier,
		sleep:      Sleep,
		logger:     logging.NewNopLogger(),
		handlers:   pacedEvents,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.notifier = NewBatchNotifier(p.interval, events.RoutineDuration, routine, p.window, notify, p.logger)
	return p
}

// Observe records the duration of the last iteration. With a constant rate
// the duration reported to the synchronizer is the constant period, while
// the delay still uses the measured one.
func (p *Paced) Observe(d time.Duration) {
	p.mu.Lock()
	reported := d
	if p.constFPS > 0 {
		reported = PeriodFor(p.constFPS)
	}
	p.last = d
	p.observed = true
	p.mu.Unlock()
	p.notifier.Add(reported.Seconds())
}

// Wait sleeps for the rest of the target period when the last iteration was
// shorter than it. The observation is consumed either way.
func (p *Paced) Wait(ctx context.Context) error {
	p.mu.Lock()
	observed, last := p.observed, p.last
	target := p.targetLocked()
	p.observed = false
	p.last = 0
	p.mu.Unlock()

	if !observed || target <= 0 {
		return nil
	}
	period := PeriodFor(target)
	if last >= period {
		return nil
	}
	return p.sleep(ctx, period-last)
}

// SetTargetFPS arms the dynamic target as fps times the multiplier.
// Non-positive rates are ignored.
func (p *Paced) SetTargetFPS(fps float64) {
	if fps <= 0 {
		return
	}
	p.mu.Lock()
	p.fps = fps * p.multiplier
	current := p.fps
	p.mu.Unlock()
	p.logger.Debug("Updated target fps", logging.LogFields{"fps": current})
}

func (p *Paced) SetConstFPS(fps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fps < 0 {
		fps = 0
	}
	p.constFPS = fps
}

func (p *Paced) TargetFPS() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetLocked()
}

func (p *Paced) targetLocked() float64 {
	if p.constFPS > 0 {
		return p.constFPS
	}
	return p.fps
}

// Start begins duration reporting.
func (p *Paced) Start() { p.notifier.Start() }

// Stop ends duration reporting.
func (p *Paced) Stop() { p.notifier.Stop() }

// Durations returns the current reporting window in seconds.
func (p *Paced) Durations() []float64 { return p.notifier.Snapshot() }

func (p *Paced) EventNames() []string { return p.handlers.Names() }

func (p *Paced) Execute(ev events.Event) error { return p.handlers.Dispatch(p, ev) }
