package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/routineflow/internal/runtime/dataplane"
	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
	"github.com/drblury/routineflow/internal/runtime/events"
	"github.com/drblury/routineflow/internal/runtime/ids"
	"github.com/drblury/routineflow/internal/runtime/logging"
	"github.com/drblury/routineflow/internal/runtime/pacing"
)

// Kind is the position of a routine in the graph.
type Kind int

const (
	KindSource Kind = iota
	KindMiddle
	KindDestination
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindMiddle:
		return "middle"
	case KindDestination:
		return "destination"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) consumes() bool { return k != KindSource }
func (k Kind) produces() bool { return k != KindDestination }

// State is the lifecycle state of a routine.
type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

const (
	phaseSetup   = "setup"
	phaseLogic   = "main logic"
	phaseCleanup = "cleanup"
)

// Option configures a Routine at construction.
type Option func(*Routine)

// WithName sets the routine name. Unnamed routines get "<kind>-<n>".
func WithName(name string) Option {
	return func(r *Routine) { r.name = name }
}

func WithRunner(runner Runner) Option {
	return func(r *Routine) {
		r.runner = runner
		r.runnerSet = true
	}
}

// WithConstFPS pins the routine to a fixed rate. It wins over any rate the
// synchronizer supplies.
func WithConstFPS(fps float64) Option {
	return func(r *Routine) {
		if fps > 0 {
			r.constFPS = fps
		}
	}
}

// WithHooks adds iteration hooks. Repeated calls merge in order.
func WithHooks(h IterationHooks) Option {
	return func(r *Routine) { r.hooks = r.hooks.Merge(h) }
}

// WithEventHandler reacts to a control event after the built-in handlers.
func WithEventHandler(name string, fn events.Handler[*Routine]) Option {
	return func(r *Routine) { r.user.On(name, fn) }
}

func WithLogger(logger logging.ServiceLogger) Option {
	return func(r *Routine) {
		if logger != nil {
			r.baseLogger = logger
		}
	}
}

// WithSetup runs fn once every time the routine starts.
func WithSetup(fn func(ctx context.Context) error) Option {
	return func(r *Routine) { r.setup = fn }
}

// WithCleanup runs fn once every time the routine stops.
func WithCleanup(fn func(ctx context.Context) error) Option {
	return func(r *Routine) { r.cleanup = fn }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Routine) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithErrorClassifier overrides how failures are bucketed in stats and
// metrics.
func WithErrorClassifier(c ErrorClassifier) Option {
	return func(r *Routine) {
		if c != nil {
			r.classify = c
		}
	}
}

// Routine runs one unit of user logic in a loop between a start and a stop
// event: setup once, then get, logic, put and pacing delay per iteration,
// then cleanup once.
type Routine struct {
	name       string
	kind       Kind
	runner     Runner
	runnerSet  bool
	constFPS   float64
	producer   Producer
	processor  Processor
	consumer   Consumer
	setup      func(context.Context) error
	cleanup    func(context.Context) error
	hooks      IterationHooks
	user       *events.Registry[*Routine]
	baseLogger logging.ServiceLogger
	tracer     trace.Tracer
	classify   ErrorClassifier
	stats      *RoutineStats
	iterations atomic.Uint64

	mu          sync.Mutex
	flow        string
	logger      logging.ServiceLogger
	metrics     *PipelineMetrics
	handler     *dataplane.MessageHandler
	pacer       pacing.Pacer
	mode        pacing.Mode
	handlers    *events.Registry[*Routine]
	initialized bool
	state       State
	cancel      context.CancelFunc
	done        chan struct{}

	// runMu serializes Start and Stop, Stop holds it until the loop exits.
	runMu sync.Mutex
}

var routineEvents = events.NewRegistry[*Routine]().
	On(events.Start, func(r *Routine, _ events.Event) error {
		return r.Start()
	}).
	On(events.Stop, func(r *Routine, _ events.Event) error {
		return r.Stop()
	})

// NewSource creates a routine that only produces.
func NewSource(p Producer, opts ...Option) *Routine {
	r := newRoutine(KindSource, p, opts)
	r.producer = p
	return r
}

// NewMiddle creates a routine that consumes a message and produces one per
// iteration.
func NewMiddle(p Processor, opts ...Option) *Routine {
	r := newRoutine(KindMiddle, p, opts)
	r.processor = p
	return r
}

// NewDestination creates a routine that only consumes.
func NewDestination(c Consumer, opts ...Option) *Routine {
	r := newRoutine(KindDestination, c, opts)
	r.consumer = c
	return r
}

func newRoutine(kind Kind, logic any, opts []Option) *Routine {
	r := &Routine{
		kind:       kind,
		runner:     RunnerThread,
		user:       events.NewRegistry[*Routine](),
		baseLogger: logging.NewNopLogger(),
		tracer:     otel.Tracer("routineflow/routine"),
		classify:   defaultErrorClassifier,
		stats:      newRoutineStats(nil),
		pacer:      pacing.Plain{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.name == "" {
		r.name = ids.RoutineName(kind.String())
	}
	if s, ok := logic.(Setupper); ok && r.setup == nil {
		r.setup = s.Setup
	}
	if c, ok := logic.(Cleaner); ok && r.cleanup == nil {
		r.cleanup = c.Cleanup
	}
	r.logger = logging.Component(r.baseLogger, "routine", r.name)
	return r
}

func (r *Routine) Name() string   { return r.name }
func (r *Routine) Kind() Kind     { return r.kind }
func (r *Routine) Runner() Runner { return r.runner }

func (r *Routine) Flow() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flow
}

func (r *Routine) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PacingMode returns the mode selected at Initialize.
func (r *Routine) PacingMode() pacing.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// TargetFPS returns the rate the routine currently paces to, 0 when unpaced.
func (r *Routine) TargetFPS() float64 {
	r.mu.Lock()
	p := r.pacer
	r.mu.Unlock()
	return p.TargetFPS()
}

// Stats returns the live counters of the routine.
func (r *Routine) Stats() *RoutineStats { return r.stats }

// Info returns the introspection view of the routine.
func (r *Routine) Info() RoutineInfo {
	r.mu.Lock()
	flow, state, mode, p := r.flow, r.state, r.mode, r.pacer
	r.mu.Unlock()
	return RoutineInfo{
		Name:      r.name,
		Flow:      flow,
		Kind:      r.kind.String(),
		Runner:    r.runner.String(),
		State:     state.String(),
		Pacing:    mode.String(),
		TargetFPS: p.TargetFPS(),
		Stats:     r.stats,
	}
}

func (r *Routine) bindFlow(flow string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flow = flow
	r.logger = logging.Component(r.baseLogger, "routine", r.name).With(logging.LogFields{"flow": flow})
}

// adoptRunner applies a flow-wide runner unless one was chosen explicitly.
func (r *Routine) adoptRunner(runner Runner) {
	if !r.runnerSet {
		r.runner = runner
	}
}

func (r *Routine) useTelemetry(metrics *PipelineMetrics, resources *resourceTracker) {
	r.mu.Lock()
	r.metrics = metrics
	r.mu.Unlock()
	r.stats.mu.Lock()
	r.stats.resourceSampler = resources
	r.stats.mu.Unlock()
}

func (r *Routine) hasLogic() bool {
	switch r.kind {
	case KindSource:
		return r.producer != nil
	case KindMiddle:
		return r.processor != nil
	default:
		return r.consumer != nil
	}
}

// Initialize binds the routine to its data-plane endpoint and control-plane
// emitter and selects its pacing strategy. It must be called exactly once,
// before Start. A nil handler gives the routine an unwired endpoint.
//
// ModeNone is upgraded to ModeFixed when a constant rate was configured.
func (r *Routine) Initialize(handler *dataplane.MessageHandler, notify events.Notifier, mode pacing.Mode, opts ...pacing.Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errspkg.ErrAlreadyInitialized
	}
	if !r.hasLogic() {
		return errspkg.ErrLogicRequired
	}
	if handler == nil {
		handler = dataplane.NewMessageHandler(r.name)
	}
	if notify == nil {
		notify = events.NopNotifier
	}
	if mode == pacing.ModeNone && r.constFPS > 0 {
		mode = pacing.ModeFixed
	}

	opts = append(opts[:len(opts):len(opts)], pacing.WithLogger(r.logger))
	switch mode {
	case pacing.ModeFixed:
		p := pacing.NewPaced(r.name, events.NopNotifier, opts...)
		p.SetConstFPS(r.constFPS)
		r.pacer = p
	case pacing.ModeAuto:
		p := pacing.NewPaced(r.name, notify, opts...)
		p.SetConstFPS(r.constFPS)
		r.pacer = p
	default:
		r.pacer = pacing.Plain{}
	}

	r.handler = handler
	r.mode = mode
	r.handlers = routineEvents.Merge(pacerForwarders(r.pacer), r.user)
	r.initialized = true
	return nil
}

// pacerForwarders routes the pacer's own events to it. Start and stop are
// driven by the routine lifecycle instead.
func pacerForwarders(p pacing.Pacer) *events.Registry[*Routine] {
	reg := events.NewRegistry[*Routine]()
	for _, name := range p.EventNames() {
		if name == events.Start || name == events.Stop {
			continue
		}
		reg.On(name, func(r *Routine, ev events.Event) error {
			return p.Execute(ev)
		})
	}
	return reg
}

// EventNames lists the control events the routine reacts to. Before
// Initialize the pacer's events are not known yet.
func (r *Routine) EventNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers != nil {
		return r.handlers.Names()
	}
	return routineEvents.Merge(r.user).Names()
}

// Execute dispatches ev to every handler registered for its name.
func (r *Routine) Execute(ev events.Event) error {
	r.mu.Lock()
	handlers := r.handlers
	r.mu.Unlock()
	if handlers == nil {
		return errspkg.ErrNotInitialized
	}
	return handlers.Dispatch(r, ev)
}

// Start launches the iteration loop on the routine's runner. Starting a
// running routine is a no-op.
func (r *Routine) Start() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return errspkg.ErrNotInitialized
	}
	if r.state == StateRunning {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel, r.done, r.state = cancel, done, StateRunning
	p := r.pacer
	r.mu.Unlock()

	p.Start()
	r.runner.launcher()(func() { r.run(ctx, done) })
	return nil
}

// Stop raises the stop signal and blocks until the loop has exited and
// cleanup has run. Stopping a stopped routine is a no-op.
func (r *Routine) Stop() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	cancel, done, p := r.cancel, r.done, r.pacer
	r.mu.Unlock()

	cancel()
	<-done
	p.Stop()

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	return nil
}

// Join blocks until the current or last execution context has exited.
func (r *Routine) Join() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Routine) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	r.mu.Lock()
	logger, p := r.logger, r.pacer
	r.mu.Unlock()

	// User logic is never interrupted mid-call; only waits on the data
	// plane and the pacing delay observe the stop signal.
	logic := context.WithoutCancel(ctx)

	logger.Info("Starting routine", logging.LogFields{"kind": r.kind.String(), "runner": r.runner.String()})
	r.bracket(logic, phaseSetup, r.setup)

	for ctx.Err() == nil {
		if err := r.iterate(ctx, logic); errors.Is(err, errspkg.ErrClosed) {
			logger.Error("Message handler closed", err, nil)
			<-ctx.Done()
			break
		}
		if err := p.Wait(ctx); err != nil {
			break
		}
	}

	r.bracket(logic, phaseCleanup, r.cleanup)
	logger.Info("Routine stopped", logging.LogFields{"iterations": r.iterations.Load()})
}

func (r *Routine) bracket(ctx context.Context, phase string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	if err := r.guard(phase, func() error { return fn(ctx) }); err != nil {
		r.loggerFor().Error("Iteration failed", err, logging.LogFields{"phase": phase})
	}
}

// guard runs fn and turns errors and panics into typed failures.
func (r *Routine) guard(phase string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &errspkg.IterationError{Routine: r.name, Phase: phase, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	err = fn()
	if err == nil {
		return nil
	}
	var unsupported *errspkg.UnsupportedPayloadError
	if errors.As(err, &unsupported) {
		if unsupported.Routine == "" {
			unsupported.Routine = r.name
		}
		return err
	}
	var iteration *errspkg.IterationError
	if errors.As(err, &iteration) {
		return err
	}
	return &errspkg.IterationError{Routine: r.name, Phase: phase, Err: err}
}

func (r *Routine) loggerFor() logging.ServiceLogger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger
}

// iterate runs one get, logic and put pass. Only ErrClosed is returned.
func (r *Routine) iterate(ctx, logic context.Context) error {
	r.mu.Lock()
	handler, p, metrics, logger, flow := r.handler, r.pacer, r.metrics, r.logger, r.flow
	r.mu.Unlock()

	var in *dataplane.Message
	if r.kind.consumes() {
		msg, err := handler.Get(ctx)
		switch {
		case err == nil:
			in = msg
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errspkg.ErrClosed):
			return err
		default:
			logger.Error("Failed to receive message", err, nil)
			r.stats.record(0, ErrorCategoryTransport, err)
			metrics.RecordIteration(flow, r.name, 0, ErrorCategoryTransport)
			return nil
		}
		if q := handler.Input(); q != nil {
			r.stats.backlog(q.Len(), q.Cap())
			metrics.SetQueueDepth(flow, r.name, q.Len())
		}
	}

	it := IterationContext{
		Routine:   r.name,
		Flow:      flow,
		Kind:      r.kind,
		Iteration: r.iterations.Add(1),
		StartedAt: time.Now(),
	}
	if in != nil {
		it.MessageID = in.ID
	}

	spanCtx, span := r.tracer.Start(logic, "RoutineIteration", trace.WithAttributes(
		attribute.String("routine.name", r.name),
		attribute.String("routine.flow", flow),
		attribute.String("routine.kind", r.kind.String()),
		attribute.Int64("routine.iteration", int64(it.Iteration)),
	))
	r.hooks.start(it)

	var out any
	err := r.guard(phaseLogic, func() error {
		var logicErr error
		out, logicErr = r.invoke(spanCtx, in)
		return logicErr
	})
	it.Duration = time.Since(it.StartedAt)
	p.Observe(it.Duration)

	category := r.classify(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	r.hooks.finish(it, err)
	r.stats.record(it.Duration, category, err)
	metrics.RecordIteration(flow, r.name, it.Duration, category)
	metrics.SetTargetFPS(flow, r.name, p.TargetFPS())

	switch category {
	case ErrorCategoryNone:
	case ErrorCategoryUnsupported:
		logger.Error("Dropping message with unsupported payload", err, logging.LogFields{"message_id": it.MessageID})
	default:
		logger.Error("Iteration failed", err, logging.LogFields{"iteration": it.Iteration, "phase": phaseLogic})
	}

	if err != nil || isNilPayload(out) || !r.kind.produces() {
		return nil
	}
	return r.emit(ctx, handler, in, out)
}

func (r *Routine) invoke(ctx context.Context, in *dataplane.Message) (any, error) {
	switch r.kind {
	case KindSource:
		return r.producer.Produce(ctx)
	case KindMiddle:
		return r.processor.Process(ctx, in.Payload)
	default:
		return nil, r.consumer.Consume(ctx, in.Payload)
	}
}

// emit wraps payload in a fresh message and puts it on the outbound wire.
// Metadata of the consumed message travels along.
func (r *Routine) emit(ctx context.Context, handler *dataplane.MessageHandler, in *dataplane.Message, payload any) error {
	if !handler.HasOutput() {
		return nil
	}
	msg := dataplane.NewMessage(r.name, payload)
	if in != nil {
		msg.Metadata = in.Metadata.Clone()
		delete(msg.Metadata, dataplane.MetadataStrategy)
	}

	if err := handler.Put(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errspkg.ErrClosed) {
			return err
		}
		r.loggerFor().Error("Failed to transmit message", err, logging.LogFields{"message_id": msg.ID})
		return nil
	}

	r.stats.emitted()
	r.mu.Lock()
	metrics, flow := r.metrics, r.flow
	r.mu.Unlock()
	metrics.RecordEmitted(flow, r.name)
	return nil
}
