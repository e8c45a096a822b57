// Package codec serializes job variables and outcome events.
package codec

import (
	"fmt"
)

// Codec defines the serialization contract for variables and event payloads
type Codec interface {
	// Marshal serializes v to bytes
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes data into v, which must be a pointer
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier used in configuration
	Name() string

	// ContentType returns the MIME type of the encoded payload
	ContentType() string
}

// Codec names accepted in configuration
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. An empty name selects JSON.
func Get(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSON{}, nil
	case NameMsgpack:
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// EncodeVariables encodes a variables document. A nil map is encoded as an
// empty document.
func EncodeVariables(c Codec, variables map[string]any) ([]byte, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	data, err := c.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables with %s: %w", c.Name(), err)
	}
	return data, nil
}

// DecodeVariables decodes a variables document. Empty input yields an
// empty, non-nil map.
func DecodeVariables(c Codec, data []byte) (map[string]any, error) {
	variables := map[string]any{}
	if len(data) == 0 {
		return variables, nil
	}
	if err := c.Unmarshal(data, &variables); err != nil {
		return nil, fmt.Errorf("failed to decode variables with %s: %w", c.Name(), err)
	}
	if variables == nil {
		variables = map[string]any{}
	}
	return variables, nil
}
