// Package jsoncodec is the JSON codec shared by the control plane and the
// introspection endpoint.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// Event parameters travel as generic maps, so numbers must decode as float64
// exactly like encoding/json does.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}
