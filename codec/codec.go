// Package codec serializes call arguments and decodes reply payloads.
package codec

import "encoding/json"

// Codec turns Go values into the structured documents carried by wsj1 frames.
type Codec interface {
	Encode(v any) (json.RawMessage, error)
	Decode(data []byte, v any) error
}

// Default is the codec used when none is configured.
var Default Codec = &JSONCodec{}
