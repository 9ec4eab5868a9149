// Package transmit defines how a message crosses a wire. Each strategy lives
// in its own sub-package and registers itself with the strategy registry.
package transmit

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/routineflow/internal/runtime/dataplane"
)

// Strategy is the transmit/receive pair applied around put and get.
type Strategy = dataplane.Strategy

// Message is the unit moved along a wire.
type Message = dataplane.Message

// Builder creates a strategy from config.
type Builder func(cfg Config, logger watermill.LoggerAdapter) (Strategy, error)

// Config provides the values strategies may need without depending on the
// full config package.
type Config interface {
	GetDefaultStrategy() string
	GetSharedSegmentDir() string
}

// StaticConfig is a Config built from literal values.
type StaticConfig struct {
	Strategy   string
	SegmentDir string
}

func (c StaticConfig) GetDefaultStrategy() string  { return c.Strategy }
func (c StaticConfig) GetSharedSegmentDir() string { return c.SegmentDir }
