// Package message defines the envelopes exchanged with the binder above the framing layer.
//
// Replies and events are opaque JSON documents on the wire. By convention a reply is
//
//	{"jtype":"afb-reply","request":{"status":"success",...},"response":...}
//
// and an event is
//
//	{"jtype":"afb-event","event":"api/name","data":...}
//
// Only the fields needed by the client are interpreted here; the rest is left to callers.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrNoPayload is returned by Reply.Decode when the server sent no body.
var ErrNoPayload = errors.New("message: reply has no payload")

// Call is one outgoing verb invocation.
type Call struct {
	API  string
	Verb string
	Args any // encoded by the client codec
}

// Reply carries the result of a completed call.
//
//   - OK is false when the server answered with an error reply.
//   - Payload is empty when the server omitted the body; that is not an error.
type Reply struct {
	Payload json.RawMessage
	OK      bool
}

// HasPayload reports whether the server sent a body.
func (r *Reply) HasPayload() bool {
	return r != nil && len(r.Payload) > 0
}

// Status returns request.status of the conventional reply envelope, or "".
func (r *Reply) Status() string {
	var env struct {
		Request struct {
			Status string `json:"status"`
		} `json:"request"`
	}
	if !r.HasPayload() || json.Unmarshal(r.Payload, &env) != nil {
		return ""
	}
	return env.Request.Status
}

// Response returns the response field of the conventional reply envelope.
func (r *Reply) Response() (json.RawMessage, bool) {
	if !r.HasPayload() {
		return nil, false
	}
	return field(r.Payload, "response")
}

// Decode unmarshals the whole payload into v.
func (r *Reply) Decode(v any) error {
	if !r.HasPayload() {
		return ErrNoPayload
	}
	return json.Unmarshal(r.Payload, v)
}

// Event is an unsolicited notification pushed by the server.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Data extracts the inner payload of the event envelope. Only events without
// a data field report false; an explicit null is returned as the literal null.
func (e *Event) Data() (json.RawMessage, bool) {
	return lookup(e.Payload, "data")
}

// IsNull reports whether doc is the JSON null literal.
func IsNull(doc json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(doc), []byte("null"))
}

func lookup(doc json.RawMessage, name string) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}

func field(doc json.RawMessage, name string) (json.RawMessage, bool) {
	v, ok := lookup(doc, name)
	if !ok || IsNull(v) {
		return nil, false
	}
	return v, true
}
