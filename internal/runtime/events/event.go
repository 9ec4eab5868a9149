// Package events implements the control plane: named events, the in-memory
// bus that delivers them to interested components, and the per-type handler
// registries components use to react to them.
package events

import (
	"fmt"
	"slices"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
)

// Control event vocabulary. The names and parameter keys are the contract
// between routines, flows and the synchronizer.
const (
	Start           = "start"
	Stop            = "stop"
	Kill            = "kill"
	UpdateFPS       = "update-fps"
	RoutineDuration = "routine-duration"

	ParamFPS         = "fps"
	ParamRoutineName = "routine_name"
	ParamDurations   = "durations"
)

// Params carries the named arguments of an event.
type Params map[string]any

// Targets restricts delivery inside flows: flow name to routine names. A nil
// Targets reaches every member of every flow.
type Targets map[string][]string

// Event is an immutable control-plane occurrence.
type Event struct {
	Name    string  `json:"name"`
	Params  Params  `json:"params,omitempty"`
	Targets Targets `json:"targets,omitempty"`
}

// New builds an event from alternating key/value pairs.
func New(name string, kv ...any) Event {
	ev := Event{Name: name}
	if len(kv) > 1 {
		ev.Params = make(Params, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				key = fmt.Sprint(kv[i])
			}
			ev.Params[key] = kv[i+1]
		}
	}
	return ev
}

// To returns a copy of the event restricted to one routine of one flow.
func (e Event) To(flow string, routines ...string) Event {
	targets := make(Targets, len(e.Targets)+1)
	for f, rs := range e.Targets {
		targets[f] = slices.Clone(rs)
	}
	targets[flow] = append(targets[flow], routines...)
	e.Targets = targets
	return e
}

// Targeted reports whether the event should reach routine inside flow.
func (e Event) Targeted(flow, routine string) bool {
	if len(e.Targets) == 0 {
		return true
	}
	routines, ok := e.Targets[flow]
	if !ok {
		return false
	}
	return len(routines) == 0 || slices.Contains(routines, routine)
}

// Float reads a numeric parameter.
func (e Event) Float(key string) (float64, error) {
	v, ok := e.Params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", errspkg.ErrMissingParameter, e.Name, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("event %s: parameter %q is %T, not a number", e.Name, key, v)
	}
}

// String reads a string parameter.
func (e Event) String(key string) (string, error) {
	v, ok := e.Params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", errspkg.ErrMissingParameter, e.Name, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("event %s: parameter %q is %T, not a string", e.Name, key, v)
	}
	return s, nil
}

// Floats reads a numeric sequence parameter. Both in-process []float64 values
// and decoded []any values are accepted.
func (e Event) Floats(key string) ([]float64, error) {
	v, ok := e.Params[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", errspkg.ErrMissingParameter, e.Name, key)
	}
	switch xs := v.(type) {
	case []float64:
		return slices.Clone(xs), nil
	case []any:
		out := make([]float64, 0, len(xs))
		for _, x := range xs {
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("event %s: parameter %q holds %T, not a number", e.Name, key, x)
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("event %s: parameter %q is %T, not a sequence", e.Name, key, v)
	}
}

// Notifier publishes an event on the control plane.
type Notifier func(Event) error

// NopNotifier drops every event.
func NopNotifier(Event) error { return nil }
