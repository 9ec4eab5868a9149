package jsoncodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Routine string    `json:"routine_name"`
	Samples []float64 `json:"durations"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{Routine: "capture", Samples: []float64{0.1, 0.25}}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out testPayload
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestGenericMapsDecodeNumbersAsFloat(t *testing.T) {
	data, err := Marshal(map[string]any{"fps": 12, "durations": []float64{1, 2}})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, float64(12), out["fps"])
	assert.Equal(t, []any{float64(1), float64(2)}, out["durations"])
}

func TestEncode(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Encode(buf, testPayload{Routine: "sink"}))
	assert.Contains(t, buf.String(), `"routine_name":"sink"`)
}
