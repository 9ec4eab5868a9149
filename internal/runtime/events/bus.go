package events

import (
	"context"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
	"github.com/drblury/routineflow/internal/runtime/jsoncodec"
	"github.com/drblury/routineflow/internal/runtime/logging"
)

// ControlTopic is the single watermill topic carrying control events.
const ControlTopic = "routineflow.control"

// PubSubFactory builds the in-memory pub/sub backing a Bus. Tests replace it
// to observe or break delivery.
var PubSubFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// Bus fans control events out to every handle subscribed to their name.
//
// Publishing waits until each live handle has copied the event into its own
// mailbox, so a sequence of publishes from one caller is observed in the same
// order by every handle. Handles never make the publisher wait for a slow
// reader: mailboxes are unbounded.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     logging.ServiceLogger

	mu      sync.Mutex
	closed  bool
	handles map[*Handle]struct{}
}

// NewBus creates an in-memory bus. A nil logger discards bus diagnostics.
func NewBus(logger logging.ServiceLogger) *Bus {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logging.Component(logger, "bus", ControlTopic)
	pub, sub := PubSubFactory(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logging.NewWatermillAdapter(logger))
	return &Bus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
		handles:    make(map[*Handle]struct{}),
	}
}

// Subscribe returns a handle receiving the events named in names. An empty
// set yields a valid handle that never receives anything.
func (b *Bus) Subscribe(names ...string) (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errspkg.ErrClosed
	}

	h := newHandle(names)
	b.handles[h] = struct{}{}
	if len(h.names) == 0 {
		return h, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := b.subscriber.Subscribe(ctx, ControlTopic)
	if err != nil {
		cancel()
		delete(b.handles, h)
		return nil, err
	}
	h.cancel = cancel
	h.pumpDone = make(chan struct{})
	go h.pump(msgs, b.logger)
	return h, nil
}

// Publish delivers ev to every live handle subscribed to ev.Name.
func (b *Bus) Publish(ev Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errspkg.ErrClosed
	}

	payload, err := jsoncodec.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set("event", ev.Name)
	if err := b.publisher.Publish(ControlTopic, msg); err != nil {
		b.logger.Error("Failed to publish event", err, logging.LogFields{"event": ev.Name})
		return err
	}
	return nil
}

// Close tears the bus down. Every handle blocked in Wait returns ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	handles := make([]*Handle, 0, len(b.handles))
	for h := range b.handles {
		handles = append(handles, h)
	}
	b.handles = nil
	b.mu.Unlock()

	for _, h := range handles {
		h.close()
	}
	err := b.publisher.Close()
	if any(b.subscriber) != any(b.publisher) {
		if subErr := b.subscriber.Close(); err == nil {
			err = subErr
		}
	}
	return err
}

// Handle is one subscription to the bus.
type Handle struct {
	names map[string]struct{}

	cancel   context.CancelFunc
	pumpDone chan struct{}

	mu      sync.Mutex
	pending []Event
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newHandle(names []string) *Handle {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &Handle{
		names:  set,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Names lists the subscribed event names in sorted order.
func (h *Handle) Names() []string {
	out := make([]string, 0, len(h.names))
	for n := range h.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Wait blocks until the next matching event, ctx cancellation or bus
// teardown. Events already queued when the bus closes are still returned.
func (h *Handle) Wait(ctx context.Context) (Event, error) {
	for {
		h.mu.Lock()
		if len(h.pending) > 0 {
			ev := h.pending[0]
			h.pending[0] = Event{}
			h.pending = h.pending[1:]
			h.mu.Unlock()
			return ev, nil
		}
		h.mu.Unlock()

		select {
		case <-h.notify:
		case <-h.done:
			h.mu.Lock()
			empty := len(h.pending) == 0
			h.mu.Unlock()
			if empty {
				return Event{}, errspkg.ErrClosed
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (h *Handle) pump(msgs <-chan *message.Message, logger logging.ServiceLogger) {
	defer close(h.pumpDone)
	for msg := range msgs {
		var ev Event
		if err := jsoncodec.Unmarshal(msg.Payload, &ev); err != nil {
			logger.Error("Dropping undecodable event", err, logging.LogFields{"message_uuid": msg.UUID})
			msg.Ack()
			continue
		}
		if _, ok := h.names[ev.Name]; ok {
			h.push(ev)
		}
		msg.Ack()
	}
}

func (h *Handle) push(ev Event) {
	h.mu.Lock()
	h.pending = append(h.pending, ev)
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *Handle) close() {
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
			<-h.pumpDone
		}
		close(h.done)
	})
}
