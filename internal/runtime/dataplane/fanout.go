package dataplane

import (
	"context"
	"sync"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
)

// Encoder prepares a message for one outbound leg. Strategies that keep the
// payload in place return msg itself; others return a per-leg copy.
type Encoder func(*Message) (*Message, error)

// Discarder releases whatever an Encoder allocated for a leg that never
// received its message.
type Discarder func(*Message)

// FanOut publishes every message from one producer into each registered
// consumer queue.
type FanOut struct {
	encode  Encoder
	discard Discarder

	mu     sync.RWMutex
	queues []*Queue
	sealed bool
	closed bool
}

// NewFanOut returns a fan-out applying encode to each leg. A nil encoder
// forwards the same reference to every queue. discard may be nil.
func NewFanOut(encode Encoder, discard Discarder) *FanOut {
	return &FanOut{encode: encode, discard: discard}
}

// Register adds a consumer queue. Registration is rejected once the fan-out
// is sealed.
func (f *FanOut) Register(q *Queue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed {
		return errspkg.ErrWiringSealed
	}
	f.queues = append(f.queues, q)
	return nil
}

// Seal freezes the set of consumer queues.
func (f *FanOut) Seal() {
	f.mu.Lock()
	f.sealed = true
	f.mu.Unlock()
}

// Legs returns the number of registered consumer queues.
func (f *FanOut) Legs() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.queues)
}

// Publish delivers msg to every leg. Legs with free capacity receive it
// immediately; the call then blocks on each full leg in turn. Closed legs are
// skipped. ErrClosed is returned when the fan-out is closed or no leg is
// still open.
func (f *FanOut) Publish(ctx context.Context, msg *Message) error {
	f.mu.Lock()
	f.sealed = true
	closed := f.closed
	queues := f.queues
	f.mu.Unlock()
	if closed {
		return errspkg.ErrClosed
	}

	var blocked []int
	encoded := make([]*Message, len(queues))
	open := 0
	for i, q := range queues {
		if q.Closed() {
			continue
		}
		out := msg
		if f.encode != nil {
			var err error
			if out, err = f.encode(msg); err != nil {
				for _, held := range blocked {
					f.drop(msg, encoded[held])
				}
				return err
			}
		}
		encoded[i] = out
		ok, err := q.TryPut(out)
		switch {
		case err != nil:
			f.drop(msg, out)
		case ok:
			open++
		default:
			blocked = append(blocked, i)
		}
	}

	for n, i := range blocked {
		err := queues[i].Put(ctx, encoded[i])
		switch {
		case err == nil:
			open++
		case ctx.Err() != nil:
			for _, rest := range blocked[n:] {
				f.drop(msg, encoded[rest])
			}
			return ctx.Err()
		default:
			f.drop(msg, encoded[i])
		}
	}

	if open == 0 && len(queues) > 0 {
		return errspkg.ErrClosed
	}
	return nil
}

func (f *FanOut) drop(original, leg *Message) {
	if f.discard != nil && leg != original {
		f.discard(leg)
	}
}

// Close rejects further publishes.
func (f *FanOut) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
