package codec

import (
	"encoding/json"
	"errors"
)

// ErrInvalidDocument is returned when pre-encoded bytes are not valid JSON.
var ErrInvalidDocument = errors.New("codec: invalid JSON document")

// JSONCodec uses encoding/json. Arguments that are already encoded
// (json.RawMessage or []byte) are passed through after a validity check.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) (json.RawMessage, error) {
	switch doc := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return checked(doc)
	case []byte:
		return checked(doc)
	}
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func checked(doc []byte) (json.RawMessage, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	if !json.Valid(doc) {
		return nil, ErrInvalidDocument
	}
	return json.RawMessage(doc), nil
}
