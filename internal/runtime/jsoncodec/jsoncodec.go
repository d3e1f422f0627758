// Package jsoncodec is the single JSON codec for mbus. Everything that
// touches the wire (payload parsing, response bodies, query encoding)
// goes through it so the whole module agrees on one implementation.
package jsoncodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// ToObject coerces v through JSON into object form. Messages sent as a
// query string must be object-shaped; this is the shape check. Numbers
// decode as json.Number so their literal form survives re-encoding
// (1000000 stays "1000000", never "1e+06").
func ToObject(v any) (map[string]any, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := defaultConfig.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("value of type %T is not a JSON object", v)
	}
	return obj, nil
}
