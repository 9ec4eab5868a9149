package dataplane

import (
	"context"
	"sync"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
)

// DefaultQueueCapacity bounds a consumer queue when no capacity is given.
const DefaultQueueCapacity = 200

// Queue is a bounded blocking queue feeding one consumer routine.
type Queue struct {
	items  chan *Message
	closed chan struct{}
	once   sync.Once
}

// NewQueue returns a queue holding up to capacity messages. Non-positive
// capacities fall back to DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:  make(chan *Message, capacity),
		closed: make(chan struct{}),
	}
}

// Put blocks until msg is enqueued, ctx is done or the queue is closed.
func (q *Queue) Put(ctx context.Context, msg *Message) error {
	select {
	case <-q.closed:
		return errspkg.ErrClosed
	default:
	}
	select {
	case q.items <- msg:
		return nil
	case <-q.closed:
		return errspkg.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut enqueues msg only if there is room right now.
func (q *Queue) TryPut(msg *Message) (bool, error) {
	select {
	case <-q.closed:
		return false, errspkg.ErrClosed
	default:
	}
	select {
	case q.items <- msg:
		return true, nil
	default:
		return false, nil
	}
}

// Get blocks until a message is available, ctx is done or the queue is
// closed.
func (q *Queue) Get(ctx context.Context) (*Message, error) {
	select {
	case <-q.closed:
		return nil, errspkg.ErrClosed
	default:
	}
	select {
	case msg := <-q.items:
		return msg, nil
	case <-q.closed:
		return nil, errspkg.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases every blocked caller with ErrClosed. It is idempotent.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int { return len(q.items) }
func (q *Queue) Cap() int { return cap(q.items) }
