package runtime

import (
	"time"

	"github.com/drblury/routineflow/internal/runtime/logging"
)

// IterationContext describes one loop iteration of a routine to hooks.
type IterationContext struct {
	// Routine is the name of the routine running the iteration.
	Routine string
	// Flow is the flow owning the routine.
	Flow string
	// Kind is the routine kind: source, middle or destination.
	Kind Kind
	// Iteration counts iterations since the routine was created, from 1.
	Iteration uint64
	// MessageID identifies the message consumed or produced, when any.
	MessageID string
	// StartedAt is when the user logic was entered.
	StartedAt time.Time
	// Duration is how long the user logic took (only set in OnIterationDone
	// and OnIterationError).
	Duration time.Duration
}

// IterationHooks defines callbacks around the user logic of an iteration.
// All hooks are optional.
type IterationHooks struct {
	OnIterationStart func(ctx IterationContext)
	OnIterationDone  func(ctx IterationContext)
	// OnIterationError receives the failure. Unsupported payloads arrive
	// here too, wrapped in *errors.UnsupportedPayloadError.
	OnIterationError func(ctx IterationContext, err error)
}

// Merge returns hooks calling h first and other second.
func (h IterationHooks) Merge(other IterationHooks) IterationHooks {
	return IterationHooks{
		OnIterationStart: chain(h.OnIterationStart, other.OnIterationStart),
		OnIterationDone:  chain(h.OnIterationDone, other.OnIterationDone),
		OnIterationError: chainWithErr(h.OnIterationError, other.OnIterationError),
	}
}

func chain(a, b func(IterationContext)) func(IterationContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx IterationContext) {
		a(ctx)
		b(ctx)
	}
}

func chainWithErr(a, b func(IterationContext, error)) func(IterationContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx IterationContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h IterationHooks) start(ctx IterationContext) {
	if h.OnIterationStart != nil {
		h.OnIterationStart(ctx)
	}
}

func (h IterationHooks) finish(ctx IterationContext, err error) {
	if err != nil {
		if h.OnIterationError != nil {
			h.OnIterationError(ctx, err)
		}
		return
	}
	if h.OnIterationDone != nil {
		h.OnIterationDone(ctx)
	}
}

// LoggingHooks logs every iteration at debug level. Failures are already
// logged by the routine itself.
func LoggingHooks(logger logging.ServiceLogger) IterationHooks {
	return IterationHooks{
		OnIterationDone: func(ctx IterationContext) {
			logger.Debug("Iteration completed", logging.LogFields{
				"routine":     ctx.Routine,
				"flow":        ctx.Flow,
				"iteration":   ctx.Iteration,
				"message_id":  ctx.MessageID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks calls the supplied counters with routine and flow names.
func MetricsHooks(onStart, onDone, onError func(routine, flow string)) IterationHooks {
	return IterationHooks{
		OnIterationStart: func(ctx IterationContext) {
			if onStart != nil {
				onStart(ctx.Routine, ctx.Flow)
			}
		},
		OnIterationDone: func(ctx IterationContext) {
			if onDone != nil {
				onDone(ctx.Routine, ctx.Flow)
			}
		},
		OnIterationError: func(ctx IterationContext, _ error) {
			if onError != nil {
				onError(ctx.Routine, ctx.Flow)
			}
		},
	}
}

// AlertingHooks calls alert for every failed iteration.
func AlertingHooks(alert func(ctx IterationContext, err error)) IterationHooks {
	return IterationHooks{OnIterationError: alert}
}
