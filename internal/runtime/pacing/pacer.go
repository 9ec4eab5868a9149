// Package pacing decides how long a routine rests between iterations and
// reports how long its iterations take.
package pacing

import (
	"context"
	"time"

	"github.com/drblury/routineflow/internal/runtime/events"
)

// Mode selects the pacing strategy of a routine.
type Mode int

const (
	// ModeNone runs as fast as input and output allow.
	ModeNone Mode = iota
	// ModeFixed sleeps towards a constant rate set with SetConstFPS.
	ModeFixed
	// ModeAuto sleeps towards the rate supplied by update-fps events and
	// reports iteration durations to the synchronizer.
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeFixed:
		return "fixed"
	case ModeAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// Pacer is consulted by a routine around every iteration.
type Pacer interface {
	// Observe records how long the last iteration's user logic took.
	Observe(d time.Duration)
	// Wait applies the post-iteration delay. It returns early with ctx's
	// error when ctx is done.
	Wait(ctx context.Context) error
	// SetTargetFPS arms the dynamic target; the safety multiplier applies.
	SetTargetFPS(fps float64)
	// SetConstFPS pins the rate, overriding any dynamic target.
	SetConstFPS(fps float64)
	// TargetFPS returns the rate currently enforced, 0 when unpaced.
	TargetFPS() float64
	Start()
	Stop()
	// EventNames lists the control events the pacer reacts to.
	EventNames() []string
	Execute(ev events.Event) error
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Plain never delays and reports nothing.
type Plain struct{}

func (Plain) Observe(time.Duration)          {}
func (Plain) Wait(ctx context.Context) error { return nil }
func (Plain) SetTargetFPS(float64)           {}
func (Plain) SetConstFPS(float64)            {}
func (Plain) TargetFPS() float64             { return 0 }
func (Plain) Start()                         {}
func (Plain) Stop()                          {}
func (Plain) EventNames() []string           { return nil }
func (Plain) Execute(events.Event) error     { return nil }

// PeriodFor converts a rate into the duration of one iteration.
func PeriodFor(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}
