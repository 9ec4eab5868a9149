package routineflow

import (
	"context"

	runtimepkg "github.com/drblury/routineflow/internal/runtime"
	configpkg "github.com/drblury/routineflow/internal/runtime/config"
	"github.com/drblury/routineflow/internal/runtime/dataplane"
	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
	eventspkg "github.com/drblury/routineflow/internal/runtime/events"
	idspkg "github.com/drblury/routineflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/routineflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/routineflow/internal/runtime/logging"
	"github.com/drblury/routineflow/internal/runtime/pacing"
	"github.com/drblury/routineflow/internal/runtime/synchronizer"
	"github.com/drblury/routineflow/transmit"
)

type (
	Config = configpkg.Config
	Pipe   = runtimepkg.Pipe
	Flow   = runtimepkg.Flow

	Routine       = runtimepkg.Routine
	RoutineOption = runtimepkg.Option
	PipeOption    = runtimepkg.PipeOption
	Kind          = runtimepkg.Kind
	State         = runtimepkg.State
	Runner        = runtimepkg.Runner

	Producer      = runtimepkg.Producer
	Processor     = runtimepkg.Processor
	Consumer      = runtimepkg.Consumer
	ProducerFunc  = runtimepkg.ProducerFunc
	ProcessorFunc = runtimepkg.ProcessorFunc
	ConsumerFunc  = runtimepkg.ConsumerFunc
	Setupper      = runtimepkg.Setupper
	Cleaner       = runtimepkg.Cleaner

	// Iteration lifecycle hooks
	IterationContext = runtimepkg.IterationContext
	IterationHooks   = runtimepkg.IterationHooks

	// Introspection
	RoutineInfo     = runtimepkg.RoutineInfo
	RoutineStats    = runtimepkg.RoutineStats
	StatsSnapshot   = runtimepkg.StatsSnapshot
	PipelineMetrics = runtimepkg.PipelineMetrics

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Control plane
	Event        = eventspkg.Event
	EventParams  = eventspkg.Params
	EventTargets = eventspkg.Targets
	Notifier     = eventspkg.Notifier
	EventHandler = eventspkg.Handler[*Routine]
	Bus          = eventspkg.Bus

	// Data plane
	Message  = dataplane.Message
	Metadata = dataplane.Metadata
	Wire     = dataplane.Wire

	// Transmission strategies
	Strategy             = transmit.Strategy
	StrategyBuilder      = transmit.Builder
	StrategyConfig       = transmit.Config
	StrategyRegistry     = transmit.Registry
	StrategyCapabilities = transmit.Capabilities

	PacingMode          = pacing.Mode
	PacingOption        = pacing.Option
	SynchronizerOption  = synchronizer.Option
	SynchronizerSummary = synchronizer.Snapshot

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError   = errspkg.ConfigValidationError
	IterationError          = errspkg.IterationError
	UnsupportedPayloadError = errspkg.UnsupportedPayloadError
	BuildError              = errspkg.BuildError
)

var (
	NewPipe        = runtimepkg.NewPipe
	NewFlow        = runtimepkg.NewFlow
	NewSource      = runtimepkg.NewSource
	NewMiddle      = runtimepkg.NewMiddle
	NewDestination = runtimepkg.NewDestination
	Unsupported    = runtimepkg.Unsupported

	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	WithName            = runtimepkg.WithName
	WithRunner          = runtimepkg.WithRunner
	WithConstFPS        = runtimepkg.WithConstFPS
	WithHooks           = runtimepkg.WithHooks
	WithEventHandler    = runtimepkg.WithEventHandler
	WithLogger          = runtimepkg.WithLogger
	WithSetup           = runtimepkg.WithSetup
	WithCleanup         = runtimepkg.WithCleanup
	WithTracer          = runtimepkg.WithTracer
	WithErrorClassifier = runtimepkg.WithErrorClassifier

	WithRegisterer            = runtimepkg.WithRegisterer
	WithStrategies            = runtimepkg.WithStrategies
	WithSynchronizerOptions   = runtimepkg.WithSynchronizerOptions
	WithPacingOptions         = runtimepkg.WithPacingOptions
	WithSynchronizerInterval  = synchronizer.WithInterval
	WithSynchronizerTracer    = synchronizer.WithTracer
	WithPacingSleeper         = pacing.WithSleeper
	NewPipelineMetrics        = runtimepkg.NewPipelineMetrics
	DefaultStrategyRegistry   = transmit.DefaultRegistry
	RegisterStrategy          = transmit.Register
	BuildStrategy             = transmit.Build
	GetStrategyCapabilities   = transmit.GetCapabilities
	NewMessage                = dataplane.NewMessage
	NewEvent                  = eventspkg.New
	LoggingHooks              = runtimepkg.LoggingHooks
	MetricsHooks              = runtimepkg.MetricsHooks
	AlertingHooks             = runtimepkg.AlertingHooks
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	CreateULID = idspkg.CreateULID

	ErrClosed             = errspkg.ErrClosed
	ErrAlreadyInitialized = errspkg.ErrAlreadyInitialized
	ErrNotInitialized     = errspkg.ErrNotInitialized
	ErrWiringSealed       = errspkg.ErrWiringSealed
	ErrAlreadyBuilt       = errspkg.ErrAlreadyBuilt
	ErrLogicRequired      = errspkg.ErrLogicRequired
	ErrBusRequired        = errspkg.ErrBusRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrUnknownStrategy    = errspkg.ErrUnknownStrategy
	ErrMissingParameter   = errspkg.ErrMissingParameter
)

const (
	KindSource      = runtimepkg.KindSource
	KindMiddle      = runtimepkg.KindMiddle
	KindDestination = runtimepkg.KindDestination

	StateStopped = runtimepkg.StateStopped
	StateRunning = runtimepkg.StateRunning

	// RunnerThread runs a routine loop on its own goroutine.
	RunnerThread = runtimepkg.RunnerThread
	// RunnerProcess runs a routine loop on a dedicated locked OS thread of
	// the same process. It does not spawn a process and provides no
	// address-space isolation.
	RunnerProcess = runtimepkg.RunnerProcess

	PacingNone  = pacing.ModeNone
	PacingFixed = pacing.ModeFixed
	PacingAuto  = pacing.ModeAuto
)

// Control event names understood by every routine and flow.
const (
	EventStart           = eventspkg.Start
	EventStop            = eventspkg.Stop
	EventKill            = eventspkg.Kill
	EventUpdateFPS       = eventspkg.UpdateFPS
	EventRoutineDuration = eventspkg.RoutineDuration
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone        = runtimepkg.ErrorCategoryNone
	ErrorCategoryIteration   = runtimepkg.ErrorCategoryIteration
	ErrorCategoryUnsupported = runtimepkg.ErrorCategoryUnsupported
	ErrorCategoryTransport   = runtimepkg.ErrorCategoryTransport
	ErrorCategoryOther       = runtimepkg.ErrorCategoryOther
)

// Consume adapts a typed consumer. Payloads of any other type are dropped as
// unsupported.
func Consume[T any](fn func(ctx context.Context, payload T) error) Consumer {
	return runtimepkg.ConsumeOf(fn)
}

// Process adapts a typed processor. Payloads of any other type are dropped
// as unsupported.
func Process[In, Out any](fn func(ctx context.Context, payload In) (Out, error)) Processor {
	return runtimepkg.ProcessOf(fn)
}
