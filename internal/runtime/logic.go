package runtime

import (
	"context"
	"reflect"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
)

// Producer is the main logic of a source routine. A nil payload, including a
// nil slice, map or pointer, emits nothing for that iteration.
type Producer interface {
	Produce(ctx context.Context) (any, error)
}

// Processor is the main logic of a middle routine. It receives the payload of
// the incoming message and returns the payload to emit; nil, including a nil
// slice, map or pointer, emits nothing.
type Processor interface {
	Process(ctx context.Context, payload any) (any, error)
}

// Consumer is the main logic of a destination routine.
type Consumer interface {
	Consume(ctx context.Context, payload any) error
}

// Setupper is implemented by logic that needs one-time preparation each time
// its routine starts.
type Setupper interface {
	Setup(ctx context.Context) error
}

// Cleaner is implemented by logic that releases resources when its routine
// stops.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

type ProducerFunc func(ctx context.Context) (any, error)

func (f ProducerFunc) Produce(ctx context.Context) (any, error) { return f(ctx) }

type ProcessorFunc func(ctx context.Context, payload any) (any, error)

func (f ProcessorFunc) Process(ctx context.Context, payload any) (any, error) { return f(ctx, payload) }

type ConsumerFunc func(ctx context.Context, payload any) error

func (f ConsumerFunc) Consume(ctx context.Context, payload any) error { return f(ctx, payload) }

// Unsupported reports that payload has no logic path. The routine logs it as
// an error and drops the message.
func Unsupported(payload any) error {
	return &errspkg.UnsupportedPayloadError{Payload: payload}
}

// ConsumeOf adapts a typed consumer. Payloads of any other type are reported
// as unsupported.
func ConsumeOf[T any](fn func(ctx context.Context, payload T) error) Consumer {
	return ConsumerFunc(func(ctx context.Context, payload any) error {
		typed, ok := payload.(T)
		if !ok {
			return Unsupported(payload)
		}
		return fn(ctx, typed)
	})
}

// ProcessOf adapts a typed processor. Payloads of any other type are
// reported as unsupported.
func ProcessOf[In, Out any](fn func(ctx context.Context, payload In) (Out, error)) Processor {
	return ProcessorFunc(func(ctx context.Context, payload any) (any, error) {
		typed, ok := payload.(In)
		if !ok {
			return nil, Unsupported(payload)
		}
		out, err := fn(ctx, typed)
		if isNilPayload(out) {
			return nil, err
		}
		return out, err
	})
}

// isNilPayload reports whether v is nil or a typed nil boxed in an interface.
func isNilPayload(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
