package dataplane

import (
	"context"
	"fmt"
	"sync"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
)

// Strategy is the transmit/receive pair a wire applies around put and get.
type Strategy interface {
	Name() string
	Transmit(*Message) (*Message, error)
	Receive(*Message) (*Message, error)
}

// Discarding is implemented by strategies that allocate per message and need
// to release a transmitted message nobody received.
type Discarding interface {
	Discard(*Message)
}

// MessageHandler is the data-plane facade of one routine. It owns at most
// one inbound queue and at most one outbound fan-out.
type MessageHandler struct {
	routine string

	mu        sync.RWMutex
	input     *Queue
	output    *FanOut
	receivers map[string]Strategy
	done      chan struct{}
	once      sync.Once
}

// NewMessageHandler returns an unwired handler for routine.
func NewMessageHandler(routine string) *MessageHandler {
	return &MessageHandler{
		routine:   routine,
		receivers: make(map[string]Strategy),
		done:      make(chan struct{}),
	}
}

func (h *MessageHandler) Routine() string { return h.routine }

// Input returns the inbound queue, or nil when nothing feeds the routine.
func (h *MessageHandler) Input() *Queue {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.input
}

// HasOutput reports whether an outbound wire is attached.
func (h *MessageHandler) HasOutput() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.output != nil
}

func (h *MessageHandler) ensureInput(capacity int) *Queue {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.input == nil {
		h.input = NewQueue(capacity)
	}
	return h.input
}

func (h *MessageHandler) attachReceiver(s Strategy) {
	h.mu.Lock()
	h.receivers[s.Name()] = s
	h.mu.Unlock()
}

func (h *MessageHandler) attachOutput(out *FanOut) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.output != nil {
		return false
	}
	h.output = out
	return true
}

// Get blocks until a message arrives on the inbound queue and returns it
// after applying the receive side of the strategy it was transmitted with.
// A handler without inbound queue blocks until ctx is done or teardown.
func (h *MessageHandler) Get(ctx context.Context) (*Message, error) {
	select {
	case <-h.done:
		return nil, errspkg.ErrClosed
	default:
	}

	input := h.Input()
	if input == nil {
		select {
		case <-h.done:
			return nil, errspkg.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	msg, err := input.Get(ctx)
	if err != nil {
		return nil, err
	}
	name, ok := msg.Metadata[MetadataStrategy]
	if !ok {
		return msg, nil
	}
	h.mu.RLock()
	strategy, found := h.receivers[name]
	h.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownStrategy, name)
	}
	return strategy.Receive(msg)
}

// Put publishes msg on the outbound wire, blocking on back-pressure. With no
// outbound wire the message is dropped.
func (h *MessageHandler) Put(ctx context.Context, msg *Message) error {
	select {
	case <-h.done:
		return errspkg.ErrClosed
	default:
	}
	if msg.Source == "" {
		msg.Source = h.routine
	}

	h.mu.RLock()
	out := h.output
	h.mu.RUnlock()
	if out == nil {
		return nil
	}
	return out.Publish(ctx, msg)
}

// Teardown closes both endpoints. Further Get and Put calls fail with
// ErrClosed and blocked callers are released.
func (h *MessageHandler) Teardown() {
	h.once.Do(func() {
		close(h.done)
		h.mu.RLock()
		defer h.mu.RUnlock()
		if h.input != nil {
			h.input.Close()
		}
		if h.output != nil {
			h.output.Close()
		}
	})
}

func strategyEncoder(s Strategy) Encoder {
	return func(msg *Message) (*Message, error) {
		out, err := s.Transmit(msg)
		if err != nil {
			return nil, err
		}
		if out != msg {
			out.Metadata = out.Metadata.With(MetadataStrategy, s.Name())
		}
		return out, nil
	}
}

func strategyDiscarder(s Strategy) Discarder {
	d, ok := s.(Discarding)
	if !ok {
		return nil
	}
	return d.Discard
}
