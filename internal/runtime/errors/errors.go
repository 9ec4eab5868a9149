package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrClosed             = sterrors.New("routineflow: closed")
	ErrAlreadyInitialized = sterrors.New("routineflow: routine is already initialized")
	ErrNotInitialized     = sterrors.New("routineflow: routine is not initialized")
	ErrWiringSealed       = sterrors.New("routineflow: wiring is sealed once the pipeline runs")
	ErrAlreadyBuilt       = sterrors.New("routineflow: already built")
	ErrLogicRequired      = sterrors.New("routineflow: routine logic is required")
	ErrBusRequired        = sterrors.New("routineflow: event bus is required")
	ErrLoggerRequired     = sterrors.New("routineflow: logger is required")
	ErrConfigRequired     = sterrors.New("routineflow: configuration is required")
	ErrUnknownStrategy    = sterrors.New("routineflow: unknown transmission strategy")
	ErrMissingParameter   = sterrors.New("routineflow: event parameter is missing")
)

// ConfigValidationError wraps configuration problems detected before the
// pipeline is assembled.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "routineflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// IterationError is raised by user logic during a single loop iteration. The
// routine logs it and moves on to the next iteration.
type IterationError struct {
	Routine string
	Phase   string
	Err     error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("routineflow: routine %q failed during %s: %v", e.Routine, e.Phase, e.Err)
}

func (e *IterationError) Unwrap() error { return e.Err }

// UnsupportedPayloadError signals that a consumer has no logic path for the
// payload it received. The message is dropped.
type UnsupportedPayloadError struct {
	Routine string
	Payload any
}

func (e *UnsupportedPayloadError) Error() string {
	if e.Routine == "" {
		return fmt.Sprintf("routineflow: unsupported payload of type %T", e.Payload)
	}
	return fmt.Sprintf("routineflow: routine %q has no logic for payload of type %T", e.Routine, e.Payload)
}

// BuildError collects the graph violations found while assembling a pipeline.
type BuildError struct {
	Violations []string
}

func (e *BuildError) Error() string {
	return "routineflow: invalid pipeline: " + strings.Join(e.Violations, "; ")
}

// Add records a violation and returns the receiver for chaining.
func (e *BuildError) Add(format string, args ...any) *BuildError {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
	return e
}

// OrNil returns nil when no violations were recorded.
func (e *BuildError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}
