package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
)

func TestNewBuildsParamsFromPairs(t *testing.T) {
	ev := New(RoutineDuration, ParamRoutineName, "capture", ParamDurations, []float64{0.1, 0.2})

	assert.Equal(t, RoutineDuration, ev.Name)
	name, err := ev.String(ParamRoutineName)
	require.NoError(t, err)
	assert.Equal(t, "capture", name)

	durations, err := ev.Floats(ParamDurations)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, durations)
}

func TestNewWithoutParams(t *testing.T) {
	ev := New(Start)
	assert.Nil(t, ev.Params)
	assert.Nil(t, ev.Targets)
}

func TestFloatAcceptsNumericKinds(t *testing.T) {
	for _, v := range []any{10.0, float32(10), 10, int64(10)} {
		got, err := New(UpdateFPS, ParamFPS, v).Float(ParamFPS)
		require.NoError(t, err)
		assert.InDelta(t, 10.0, got, 1e-9)
	}

	_, err := New(UpdateFPS, ParamFPS, "ten").Float(ParamFPS)
	assert.Error(t, err)
}

func TestMissingParameter(t *testing.T) {
	ev := New(UpdateFPS)
	_, err := ev.Float(ParamFPS)
	assert.ErrorIs(t, err, errspkg.ErrMissingParameter)
	_, err = ev.String(ParamRoutineName)
	assert.ErrorIs(t, err, errspkg.ErrMissingParameter)
	_, err = ev.Floats(ParamDurations)
	assert.ErrorIs(t, err, errspkg.ErrMissingParameter)
}

func TestFloatsFromDecodedSequence(t *testing.T) {
	ev := Event{Name: RoutineDuration, Params: Params{ParamDurations: []any{0.5, 0.25}}}
	got, err := ev.Floats(ParamDurations)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, got)

	ev.Params[ParamDurations] = []any{"x"}
	_, err = ev.Floats(ParamDurations)
	assert.Error(t, err)
}

func TestTargeting(t *testing.T) {
	broadcast := New(Start)
	assert.True(t, broadcast.Targeted("f1", "a"))

	ev := New(UpdateFPS, ParamFPS, 5.0).To("f1", "a")
	assert.True(t, ev.Targeted("f1", "a"))
	assert.False(t, ev.Targeted("f1", "b"))
	assert.False(t, ev.Targeted("f2", "a"))

	whole := New(Stop).To("f2")
	assert.True(t, whole.Targeted("f2", "anything"))
	assert.False(t, whole.Targeted("f1", "anything"))
}

func TestToDoesNotAliasOriginal(t *testing.T) {
	base := New(UpdateFPS).To("f1", "a")
	derived := base.To("f1", "b")

	assert.Equal(t, []string{"a"}, base.Targets["f1"])
	assert.Equal(t, []string{"a", "b"}, derived.Targets["f1"])
}
