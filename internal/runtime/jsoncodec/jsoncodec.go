// Package jsoncodec is the single JSON entry point used for message bodies and
// model artifacts.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// api mirrors encoding/json semantics: sorted map keys, HTML escaping and
// type-checked decoding, so field order in encoded replies is stable.
var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
