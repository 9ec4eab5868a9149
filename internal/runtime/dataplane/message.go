// Package dataplane moves messages between routines: bounded per-consumer
// queues, fan-out from one producer to many consumers, and the per-routine
// message handler that applies a wire's transmission strategy.
package dataplane

import (
	"time"

	"github.com/drblury/routineflow/internal/runtime/ids"
)

// Metadata keys set by the data plane.
const (
	MetadataStrategy = "routineflow_strategy"
	MetadataWire     = "routineflow_wire"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

// Clone returns a shallow copy of the metadata map. The result is never nil.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// Message is one unit of data flowing along a wire. The payload is a mutable
// slot owned by whichever routine currently holds the message.
type Message struct {
	ID        string
	Source    string
	CreatedAt time.Time
	Metadata  Metadata
	Payload   any
}

// NewMessage stamps a fresh identity on payload emitted by source.
func NewMessage(source string, payload any) *Message {
	return &Message{
		ID:        ids.CreateULID(),
		Source:    source,
		CreatedAt: time.Now(),
		Metadata:  Metadata{},
		Payload:   payload,
	}
}

// Update replaces the payload in place.
func (m *Message) Update(payload any) { m.Payload = payload }

// Copy returns a message with the same identity and a cloned metadata map.
// The payload reference is shared.
func (m *Message) Copy() *Message {
	out := *m
	out.Metadata = m.Metadata.Clone()
	return &out
}

// Age reports how long ago the message was emitted.
func (m *Message) Age() time.Duration { return time.Since(m.CreatedAt) }
