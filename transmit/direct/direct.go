// Package direct provides the in-process transmission strategy: the message
// reference is handed to every destination unchanged.
package direct

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/routineflow/transmit"
)

// StrategyName is the name used to register this strategy.
const StrategyName = "direct"

func init() {
	Register()
}

// Register registers the direct strategy with the default registry.
func Register() {
	transmit.Register(StrategyName, Build, transmit.DirectCapabilities)
}

// Build returns the direct strategy. It never fails.
func Build(transmit.Config, watermill.LoggerAdapter) (transmit.Strategy, error) {
	return Strategy{}, nil
}

// Strategy passes messages through untouched.
type Strategy struct{}

func (Strategy) Name() string { return StrategyName }

func (Strategy) Transmit(msg *transmit.Message) (*transmit.Message, error) { return msg, nil }

func (Strategy) Receive(msg *transmit.Message) (*transmit.Message, error) { return msg, nil }
