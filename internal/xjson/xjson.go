// Package xjson is the single switch point between encoding/json and
// goccy/go-json for payloads stored as raw bytes.
package xjson

import (
	stdjson "encoding/json"

	gjson "github.com/goccy/go-json"
)

// RawMessage is kept identical to encoding/json's RawMessage so values cross
// database/sql and net/http boundaries without conversion.
type RawMessage = stdjson.RawMessage

// Marshal encodes v without HTML escaping.
func Marshal(v any) ([]byte, error) {
	return gjson.MarshalWithOption(v, gjson.DisableHTMLEscape())
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return gjson.Valid(data)
}

// Clone returns a copy of raw that does not alias the caller's buffer.
func Clone(raw RawMessage) RawMessage {
	if raw == nil {
		return nil
	}
	return append(RawMessage(nil), raw...)
}
