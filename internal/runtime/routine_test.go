package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/routineflow/internal/runtime/dataplane"
	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
	"github.com/drblury/routineflow/internal/runtime/events"
	"github.com/drblury/routineflow/internal/runtime/logging"
	"github.com/drblury/routineflow/internal/runtime/pacing"
)

func TestRoutineAutoNames(t *testing.T) {
	a := NewSource(&counter{})
	b := NewSource(&counter{})
	named := NewDestination(&collector{}, WithName("sink"))

	assert.Regexp(t, `^source-\d+$`, a.Name())
	assert.NotEqual(t, a.Name(), b.Name())
	assert.Equal(t, "sink", named.Name())
	assert.Equal(t, KindDestination, named.Kind())
}

func TestRoutineStopBeforeStartIsNoop(t *testing.T) {
	r := NewSource(&counter{})
	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.State())

	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.State())
}

func TestRoutineStartRequiresInitialize(t *testing.T) {
	r := NewSource(&counter{})
	assert.ErrorIs(t, r.Start(), errspkg.ErrNotInitialized)
	assert.ErrorIs(t, r.Execute(events.New(events.Start)), errspkg.ErrNotInitialized)
}

func TestRoutineInitializeOnce(t *testing.T) {
	r := NewSource(&counter{})
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	assert.ErrorIs(t, r.Initialize(nil, nil, pacing.ModeNone), errspkg.ErrAlreadyInitialized)
}

func TestRoutineRequiresLogic(t *testing.T) {
	r := NewSource(nil)
	assert.ErrorIs(t, r.Initialize(nil, nil, pacing.ModeNone), errspkg.ErrLogicRequired)
}

func TestRoutineDoubleStartRunsOneLoop(t *testing.T) {
	var setups atomic.Int32
	r := NewSource(&counter{}, WithSetup(func(context.Context) error {
		setups.Add(1)
		return nil
	}))
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))

	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	assert.Equal(t, StateRunning, r.State())

	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.State())
	assert.Equal(t, int32(1), setups.Load())
}

func TestRoutineSetupAndCleanupBracketEachRun(t *testing.T) {
	var setups, cleanups atomic.Int32
	r := NewSource(&counter{},
		WithSetup(func(context.Context) error { setups.Add(1); return nil }),
		WithCleanup(func(context.Context) error { cleanups.Add(1); return nil }),
	)
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))

	for range 2 {
		require.NoError(t, r.Start())
		require.NoError(t, r.Stop())
	}
	assert.Equal(t, int32(2), setups.Load())
	assert.Equal(t, int32(2), cleanups.Load())
}

type lifecycleLogic struct {
	counter
	setups, cleanups atomic.Int32
}

func (l *lifecycleLogic) Setup(context.Context) error   { l.setups.Add(1); return nil }
func (l *lifecycleLogic) Cleanup(context.Context) error { l.cleanups.Add(1); return nil }

func TestRoutineDetectsSetupAndCleanupOnLogic(t *testing.T) {
	logic := &lifecycleLogic{}
	r := NewSource(logic)
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	require.NoError(t, r.Start())
	require.NoError(t, r.Stop())

	assert.Equal(t, int32(1), logic.setups.Load())
	assert.Equal(t, int32(1), logic.cleanups.Load())
}

func TestRoutineIterationFailureIsContained(t *testing.T) {
	rec := logging.NewRecorder()
	var calls atomic.Int32
	src := NewSource(ProducerFunc(func(context.Context) (any, error) {
		n := int(calls.Add(1))
		switch {
		case n == 3:
			return nil, errors.New("camera glitch")
		case n > 10:
			time.Sleep(time.Millisecond)
			return nil, nil
		default:
			return n, nil
		}
	}), WithName("src"), WithLogger(rec))

	_, out, in := wire(t, 20, "src", "sink")
	require.NoError(t, src.Initialize(out, nil, pacing.ModeNone))
	require.NoError(t, src.Start())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	var got []any
	for range 9 {
		msg, err := in.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "src", msg.Source)
		got = append(got, msg.Payload)
	}
	require.NoError(t, src.Stop())

	assert.Equal(t, []any{1, 2, 4, 5, 6, 7, 8, 9, 10}, got)
	assert.Equal(t, 1, rec.Count("error", "Iteration failed"))

	var iteration *errspkg.IterationError
	for _, e := range rec.Entries() {
		if e.Msg == "Iteration failed" {
			require.ErrorAs(t, e.Err, &iteration)
		}
	}
	assert.Equal(t, "src", iteration.Routine)

	snap := src.Stats().Snapshot()
	assert.Equal(t, uint64(1), snap.Failures)
	assert.Equal(t, uint64(1), snap.Errors.Iteration)
	assert.GreaterOrEqual(t, snap.Emitted, uint64(9))
}

func TestRoutineRecoversPanics(t *testing.T) {
	rec := logging.NewRecorder()
	var calls atomic.Int32
	r := NewSource(ProducerFunc(func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		time.Sleep(time.Millisecond)
		return nil, nil
	}), WithLogger(rec))
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	require.NoError(t, r.Start())

	require.Eventually(t, func() bool { return calls.Load() > 2 }, waitFor, tick)
	require.NoError(t, r.Stop())

	require.Equal(t, 1, rec.Count("error", "Iteration failed"))
	for _, e := range rec.Entries() {
		if e.Msg == "Iteration failed" {
			assert.ErrorContains(t, e.Err, "panic: boom")
		}
	}
}

func TestRoutineSetupFailureDoesNotStopLoop(t *testing.T) {
	rec := logging.NewRecorder()
	logic := &counter{}
	r := NewSource(logic, WithLogger(rec), WithSetup(func(context.Context) error {
		return errors.New("no device")
	}))
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	require.NoError(t, r.Start())

	require.Eventually(t, func() bool { return logic.Count() > 5 }, waitFor, tick)
	require.NoError(t, r.Stop())

	found := false
	for _, e := range rec.Entries() {
		if e.Msg == "Iteration failed" && e.Fields["phase"] == phaseSetup {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRoutineStopMidQueue(t *testing.T) {
	_, out, in := wire(t, 10, "src", "sink")
	ctx := context.Background()
	for i := range 10 {
		require.NoError(t, out.Put(ctx, dataplane.NewMessage("src", i)))
	}

	sink := &collector{delay: 20 * time.Millisecond}
	r := NewDestination(sink, WithName("sink"))
	require.NoError(t, r.Initialize(in, nil, pacing.ModeNone))
	require.NoError(t, r.Start())

	require.Eventually(t, func() bool { return sink.Len() >= 1 }, waitFor, tick)
	require.NoError(t, r.Stop())

	consumed := sink.Len()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, consumed, sink.Len(), "no iterations after stop")
	assert.Equal(t, StateStopped, r.State())
	assert.Positive(t, in.Input().Len(), "queue still holds messages")
	assert.Equal(t, 10-consumed, in.Input().Len())
}

func TestRoutineDropsUnsupportedPayload(t *testing.T) {
	rec := logging.NewRecorder()
	_, out, in := wire(t, 10, "src", "sink")
	ctx := context.Background()
	require.NoError(t, out.Put(ctx, dataplane.NewMessage("src", 42)))
	require.NoError(t, out.Put(ctx, dataplane.NewMessage("src", "frame")))

	var mu sync.Mutex
	var seen []string
	r := NewDestination(ConsumeOf(func(_ context.Context, s string) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
		return nil
	}), WithName("sink"), WithLogger(rec))
	require.NoError(t, r.Initialize(in, nil, pacing.ModeNone))
	require.NoError(t, r.Start())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, waitFor, tick)
	require.NoError(t, r.Stop())

	assert.Equal(t, []string{"frame"}, seen)
	assert.Equal(t, 1, rec.Count("error", "Dropping message with unsupported payload"))
	assert.Zero(t, rec.Count("error", "Iteration failed"))

	snap := r.Stats().Snapshot()
	assert.Equal(t, uint64(1), snap.Dropped)
	assert.Equal(t, uint64(1), snap.Errors.Unsupported)
	assert.Equal(t, uint64(2), snap.Iterations)
}

func TestMiddleEmitsFreshMessages(t *testing.T) {
	network := dataplane.NewNetwork(10)
	require.NoError(t, network.Link("src", []string{"double"}, passThrough{}))
	require.NoError(t, network.Link("double", []string{"sink"}, passThrough{}))
	network.Seal()
	t.Cleanup(network.Teardown)

	ctx := context.Background()
	first := dataplane.NewMessage("src", 21)
	first.Metadata = first.Metadata.With("trace", "abc")
	require.NoError(t, network.Handler("src").Put(ctx, first))

	mid := NewMiddle(ProcessOf(func(_ context.Context, n int) (int, error) { return n * 2, nil }), WithName("double"))
	require.NoError(t, mid.Initialize(network.Handler("double"), nil, pacing.ModeNone))
	require.NoError(t, mid.Start())
	defer mid.Stop()

	getCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	got, err := network.Handler("sink").Get(getCtx)
	require.NoError(t, err)

	assert.Equal(t, 42, got.Payload)
	assert.Equal(t, "double", got.Source)
	assert.NotEqual(t, first.ID, got.ID)
	assert.Equal(t, "abc", got.Metadata["trace"])
	assert.Equal(t, 21, first.Payload, "incoming message untouched")
}

func TestMiddleEmitsNothingForTypedNil(t *testing.T) {
	network := dataplane.NewNetwork(10)
	require.NoError(t, network.Link("src", []string{"filter"}, passThrough{}))
	require.NoError(t, network.Link("filter", []string{"sink"}, passThrough{}))
	network.Seal()
	t.Cleanup(network.Teardown)

	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, network.Handler("src").Put(ctx, dataplane.NewMessage("src", []byte{byte(i)})))
	}

	var seen atomic.Int32
	mid := NewMiddle(ProcessOf(func(_ context.Context, frame []byte) ([]byte, error) {
		seen.Add(1)
		if frame[0] == 1 {
			return frame, nil
		}
		return nil, nil
	}), WithName("filter"))
	require.NoError(t, mid.Initialize(network.Handler("filter"), nil, pacing.ModeNone))
	require.NoError(t, mid.Start())
	require.Eventually(t, func() bool { return seen.Load() == 3 }, waitFor, tick)
	require.NoError(t, mid.Stop())

	sink := network.Handler("sink")
	assert.Equal(t, 1, sink.Input().Len(), "only the kept frame is emitted")
	got, err := sink.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got.Payload)
}

func TestIsNilPayload(t *testing.T) {
	var frame []byte
	var ptr *int
	var record map[string]any
	assert.True(t, isNilPayload(nil))
	assert.True(t, isNilPayload(frame))
	assert.True(t, isNilPayload(ptr))
	assert.True(t, isNilPayload(record))
	assert.False(t, isNilPayload([]byte{}))
	assert.False(t, isNilPayload(0))
	assert.False(t, isNilPayload(""))
}

func TestRoutineHooks(t *testing.T) {
	var starts, dones, failures atomic.Int32
	var calls atomic.Int32
	r := NewSource(ProducerFunc(func(context.Context) (any, error) {
		if calls.Add(1)%2 == 0 {
			return nil, errors.New("odd")
		}
		time.Sleep(time.Millisecond)
		return nil, nil
	}), WithHooks(IterationHooks{
		OnIterationStart: func(IterationContext) { starts.Add(1) },
		OnIterationDone:  func(IterationContext) { dones.Add(1) },
	}), WithHooks(AlertingHooks(func(ctx IterationContext, err error) {
		failures.Add(1)
	})))
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	require.NoError(t, r.Start())
	require.Eventually(t, func() bool { return calls.Load() >= 6 }, waitFor, tick)
	require.NoError(t, r.Stop())

	assert.Equal(t, starts.Load(), dones.Load()+failures.Load())
	assert.Positive(t, failures.Load())
	assert.Positive(t, dones.Load())
}

func TestRoutineEventRegistry(t *testing.T) {
	var custom atomic.Int32
	r := NewDestination(&collector{}, WithEventHandler("snapshot", func(r *Routine, ev events.Event) error {
		custom.Add(1)
		return nil
	}))
	assert.ElementsMatch(t, []string{events.Start, events.Stop, "snapshot"}, r.EventNames())

	require.NoError(t, r.Initialize(nil, nil, pacing.ModeAuto))
	assert.ElementsMatch(t, []string{events.Start, events.Stop, events.UpdateFPS, "snapshot"}, r.EventNames())

	require.NoError(t, r.Execute(events.New("snapshot")))
	require.NoError(t, r.Execute(events.New("unknown")))
	assert.Equal(t, int32(1), custom.Load())

	require.NoError(t, r.Execute(events.New(events.UpdateFPS, events.ParamFPS, 10.0)))
	assert.Equal(t, 20.0, r.TargetFPS())
}

func TestRoutineStartStopThroughEvents(t *testing.T) {
	r := NewSource(&counter{})
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeAuto))

	require.NoError(t, r.Execute(events.New(events.Start)))
	assert.Equal(t, StateRunning, r.State())
	require.NoError(t, r.Execute(events.New(events.Stop)))
	assert.Equal(t, StateStopped, r.State())
}

func TestRoutineConstFPSSelectsFixedPacing(t *testing.T) {
	r := NewSource(&counter{}, WithConstFPS(50))
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	assert.Equal(t, pacing.ModeFixed, r.PacingMode())
	assert.Equal(t, 50.0, r.TargetFPS())

	// the constant rate wins over synchronizer updates
	require.NoError(t, r.Execute(events.New(events.UpdateFPS, events.ParamFPS, 5.0)))
	assert.Equal(t, 50.0, r.TargetFPS())
}

func TestRoutineFixedPacingLimitsRate(t *testing.T) {
	logic := &counter{}
	r := NewSource(logic, WithConstFPS(20))
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	require.NoError(t, r.Start())
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, r.Stop())

	// 20 fps for 0.3s is about 6 iterations
	assert.LessOrEqual(t, logic.Count(), 10)
	assert.GreaterOrEqual(t, logic.Count(), 3)
}

func TestRoutineReportsDurationsWhenAutoPaced(t *testing.T) {
	var mu sync.Mutex
	var batches []events.Event
	notify := func(ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, ev)
		return nil
	}

	r := NewSource(ProducerFunc(func(context.Context) (any, error) {
		time.Sleep(2 * time.Millisecond)
		return nil, nil
	}), WithName("cam"))
	require.NoError(t, r.Initialize(nil, notify, pacing.ModeAuto, pacing.WithNotifyInterval(20*time.Millisecond)))
	require.NoError(t, r.Start())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) >= 2
	}, waitFor, tick)
	require.NoError(t, r.Stop())

	mu.Lock()
	ev := batches[len(batches)-1]
	mu.Unlock()
	assert.Equal(t, events.RoutineDuration, ev.Name)
	name, err := ev.String(events.ParamRoutineName)
	require.NoError(t, err)
	assert.Equal(t, "cam", name)
	durations, err := ev.Floats(events.ParamDurations)
	require.NoError(t, err)
	assert.NotEmpty(t, durations)
}

func TestRoutineParksWhenHandlerClosed(t *testing.T) {
	rec := logging.NewRecorder()
	_, _, in := wire(t, 10, "src", "sink")
	r := NewDestination(&collector{}, WithName("sink"), WithLogger(rec))
	require.NoError(t, r.Initialize(in, nil, pacing.ModeNone))
	require.NoError(t, r.Start())

	in.Teardown()
	require.Eventually(t, func() bool { return rec.Count("error", "Message handler closed") == 1 }, waitFor, tick)
	require.NoError(t, r.Stop())
	assert.Equal(t, 1, rec.Count("error", "Message handler closed"))
}

func TestRoutineInfo(t *testing.T) {
	r := NewDestination(&collector{}, WithName("sink"), WithRunner(RunnerProcess))
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeAuto))
	r.bindFlow("display")

	info := r.Info()
	assert.Equal(t, "sink", info.Name)
	assert.Equal(t, "display", info.Flow)
	assert.Equal(t, "destination", info.Kind)
	assert.Equal(t, "process", info.Runner)
	assert.Equal(t, "stopped", info.State)
	assert.Equal(t, "auto", info.Pacing)
}

func TestProcessRunnerRunsLoop(t *testing.T) {
	logic := &counter{}
	r := NewSource(logic, WithRunner(RunnerProcess))
	require.NoError(t, r.Initialize(nil, nil, pacing.ModeNone))
	require.NoError(t, r.Start())
	require.Eventually(t, func() bool { return logic.Count() > 3 }, waitFor, tick)
	require.NoError(t, r.Stop())
	r.Join()
}

// passThrough is a strategy that stamps nothing.
type passThrough struct{}

func (passThrough) Name() string { return "pass" }

func (passThrough) Transmit(m *dataplane.Message) (*dataplane.Message, error) { return m, nil }

func (passThrough) Receive(m *dataplane.Message) (*dataplane.Message, error) { return m, nil }
