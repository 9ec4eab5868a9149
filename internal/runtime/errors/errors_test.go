package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrClosed", ErrClosed, "routineflow: closed"},
		{"ErrAlreadyInitialized", ErrAlreadyInitialized, "routineflow: routine is already initialized"},
		{"ErrNotInitialized", ErrNotInitialized, "routineflow: routine is not initialized"},
		{"ErrWiringSealed", ErrWiringSealed, "routineflow: wiring is sealed once the pipeline runs"},
		{"ErrConfigRequired", ErrConfigRequired, "routineflow: configuration is required"},
		{"ErrAlreadyBuilt", ErrAlreadyBuilt, "routineflow: already built"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "routineflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}

func TestIterationErrorUnwrap(t *testing.T) {
	boom := errors.New("boom")
	err := &IterationError{Routine: "capture", Phase: "main logic", Err: boom}

	if !errors.Is(err, boom) {
		t.Fatal("expected IterationError to unwrap to its cause")
	}
	want := `routineflow: routine "capture" failed during main logic: boom`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnsupportedPayloadError(t *testing.T) {
	err := &UnsupportedPayloadError{Routine: "sink", Payload: 3.5}
	want := `routineflow: routine "sink" has no logic for payload of type float64`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var target *UnsupportedPayloadError
	if !errors.As(error(err), &target) {
		t.Fatal("expected errors.As to match UnsupportedPayloadError")
	}
}

func TestBuildError(t *testing.T) {
	var empty *BuildError
	if empty.OrNil() != nil {
		t.Fatal("nil BuildError should collapse to nil")
	}
	if (&BuildError{}).OrNil() != nil {
		t.Fatal("BuildError without violations should collapse to nil")
	}

	err := (&BuildError{}).Add("duplicate routine %q", "a").Add("wire from %q has no destinations", "b").OrNil()
	if err == nil {
		t.Fatal("expected an error")
	}
	want := `routineflow: invalid pipeline: duplicate routine "a"; wire from "b" has no destinations`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
