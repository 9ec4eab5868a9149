package dataplane

import (
	"fmt"
	"slices"
	"sync"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
)

// Wire records one link: a source, its destinations and the strategy used.
type Wire struct {
	Source       string
	Destinations []string
	Strategy     string
}

// Network owns the message handlers of every routine in a pipe and the wires
// between them.
type Network struct {
	capacity int

	mu       sync.Mutex
	handlers map[string]*MessageHandler
	wires    []Wire
	sealed   bool
}

// NewNetwork returns an empty network whose consumer queues hold capacity
// messages each.
func NewNetwork(capacity int) *Network {
	return &Network{capacity: capacity, handlers: make(map[string]*MessageHandler)}
}

// Handler returns the message handler of routine, creating it on first use.
func (n *Network) Handler(routine string) *MessageHandler {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handlerLocked(routine)
}

func (n *Network) handlerLocked(routine string) *MessageHandler {
	h, ok := n.handlers[routine]
	if !ok {
		h = NewMessageHandler(routine)
		n.handlers[routine] = h
	}
	return h
}

// Link connects source to destinations through strategy. Every destination
// keeps a single inbound queue shared by all wires feeding it; a source may
// have only one outbound wire.
func (n *Network) Link(source string, destinations []string, strategy Strategy) error {
	if strategy == nil {
		return fmt.Errorf("%w: nil strategy for wire from %q", errspkg.ErrUnknownStrategy, source)
	}
	if len(destinations) == 0 {
		return fmt.Errorf("routineflow: wire from %q has no destinations", source)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sealed {
		return errspkg.ErrWiringSealed
	}

	src := n.handlerLocked(source)
	if src.HasOutput() {
		return fmt.Errorf("routineflow: routine %q already has an outbound wire", source)
	}

	out := NewFanOut(strategyEncoder(strategy), strategyDiscarder(strategy))
	for _, dst := range destinations {
		h := n.handlerLocked(dst)
		if err := out.Register(h.ensureInput(n.capacity)); err != nil {
			return err
		}
		h.attachReceiver(strategy)
	}
	src.attachOutput(out)

	n.wires = append(n.wires, Wire{
		Source:       source,
		Destinations: slices.Clone(destinations),
		Strategy:     strategy.Name(),
	})
	return nil
}

// Seal freezes the wiring. Later Link calls fail with ErrWiringSealed.
func (n *Network) Seal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sealed = true
	for _, h := range n.handlers {
		h.mu.RLock()
		if h.output != nil {
			h.output.Seal()
		}
		h.mu.RUnlock()
	}
}

// Wires returns a copy of every link made so far.
func (n *Network) Wires() []Wire {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Wire, len(n.wires))
	for i, w := range n.wires {
		out[i] = Wire{Source: w.Source, Destinations: slices.Clone(w.Destinations), Strategy: w.Strategy}
	}
	return out
}

// QueueDepths reports the current inbound queue length per routine.
func (n *Network) QueueDepths() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	depths := make(map[string]int, len(n.handlers))
	for name, h := range n.handlers {
		if q := h.Input(); q != nil {
			depths[name] = q.Len()
		}
	}
	return depths
}

// Teardown closes every handler.
func (n *Network) Teardown() {
	n.mu.Lock()
	handlers := make([]*MessageHandler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.Unlock()
	for _, h := range handlers {
		h.Teardown()
	}
}
