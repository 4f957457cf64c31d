package codec

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONCodecEncodeValue(t *testing.T) {
	c := &JSONCodec{}

	data, err := c.Encode(map[string]string{"event": "foo"})
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}
	if string(data) != `{"event":"foo"}` {
		t.Fatalf("unexpected document: %s", data)
	}
}

func TestJSONCodecPassesThroughRawDocuments(t *testing.T) {
	c := &JSONCodec{}

	data, err := c.Encode(json.RawMessage(`{"actions":["a","b"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"actions":["a","b"]}` {
		t.Fatalf("raw document changed: %s", data)
	}

	if _, err := c.Encode([]byte(`{broken`)); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expect ErrInvalidDocument, got %v", err)
	}
}

func TestJSONCodecNil(t *testing.T) {
	data, err := Default.Encode(nil)
	if err != nil || data != nil {
		t.Fatalf("expect nil document, got %s, %v", data, err)
	}
}

func TestJSONCodecDecode(t *testing.T) {
	var out struct {
		Data string `json:"data"`
	}
	if err := Default.Decode([]byte(`{"data":"pong"}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.Data != "pong" {
		t.Fatalf("expect pong, got %q", out.Data)
	}
}
