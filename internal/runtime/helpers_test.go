package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/routineflow/internal/runtime/dataplane"
	"github.com/drblury/routineflow/transmit/direct"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// wire links two handlers of a fresh network with the direct strategy and
// returns them.
func wire(t *testing.T, capacity int, source, sink string) (*dataplane.Network, *dataplane.MessageHandler, *dataplane.MessageHandler) {
	t.Helper()
	network := dataplane.NewNetwork(capacity)
	require.NoError(t, network.Link(source, []string{sink}, direct.Strategy{}))
	network.Seal()
	t.Cleanup(network.Teardown)
	return network, network.Handler(source), network.Handler(sink)
}

// collector is a consumer recording every payload it sees.
type collector struct {
	mu       sync.Mutex
	payloads []any
	delay    time.Duration
}

func (c *collector) Consume(_ context.Context, payload any) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *collector) Payloads() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// counter is a producer emitting 1, 2, 3 and so on.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) Produce(context.Context) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

func (c *counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
