// Package protocol implements the wsj1 framing used by the application framework binder.
//
// Every WebSocket text message carries exactly one frame, encoded as a JSON array whose
// first element is the message type:
//
//	[2, "id", "api/verb", args, "token"?]   call (either direction)
//	[3, "id", object, "token"?]             successful reply
//	[4, "id", object, "token"?]             error reply
//	[5, "api/event", object]                event pushed by the server
//
// The id of a reply is the id of the call it answers. That is the only correlation key;
// the payload object itself is opaque at this layer.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MsgType distinguishes calls, replies and events.
type MsgType int

const (
	MsgTypeCall   MsgType = 2
	MsgTypeRetOK  MsgType = 3
	MsgTypeRetErr MsgType = 4
	MsgTypeEvent  MsgType = 5
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeCall:
		return "call"
	case MsgTypeRetOK:
		return "retok"
	case MsgTypeRetErr:
		return "reterr"
	case MsgTypeEvent:
		return "event"
	}
	return fmt.Sprintf("msgtype(%d)", int(t))
}

// IsReply reports whether t answers a call.
func (t MsgType) IsReply() bool {
	return t == MsgTypeRetOK || t == MsgTypeRetErr
}

// Frame is one decoded wsj1 message. Which fields are meaningful depends on Type:
// calls use ID, Method and Body; replies use ID and Body; events use Event and Body.
type Frame struct {
	Type   MsgType
	ID     string
	Method string // "api/verb", calls only
	Event  string // "api/name", events only
	Body   json.RawMessage
	Token  string
}

var null = []byte("null")

// Encode serializes f into the array form sent over the socket.
func Encode(f *Frame) ([]byte, error) {
	body := f.Body
	if len(body) == 0 {
		body = null
	}

	var elems []any
	switch f.Type {
	case MsgTypeCall:
		if f.ID == "" || f.Method == "" {
			return nil, fmt.Errorf("protocol: call frame needs id and method")
		}
		elems = []any{f.Type, f.ID, f.Method, body}
	case MsgTypeRetOK, MsgTypeRetErr:
		if f.ID == "" {
			return nil, fmt.Errorf("protocol: reply frame needs id")
		}
		elems = []any{f.Type, f.ID, body}
	case MsgTypeEvent:
		if f.Event == "" {
			return nil, fmt.Errorf("protocol: event frame needs a name")
		}
		elems = []any{f.Type, f.Event, body}
	default:
		return nil, fmt.Errorf("protocol: unsupported message type: %d", int(f.Type))
	}
	if f.Token != "" && f.Type != MsgTypeEvent {
		elems = append(elems, f.Token)
	}
	return json.Marshal(elems)
}

// Decode parses one message received from the socket.
//
// A missing or null object decodes to an empty Body; callers treat that as "no result".
func Decode(data []byte) (*Frame, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("protocol: frame is not a JSON array: %w", err)
	}
	if len(elems) < 2 {
		return nil, fmt.Errorf("protocol: short frame: %d elements", len(elems))
	}

	var code int
	if err := json.Unmarshal(elems[0], &code); err != nil {
		return nil, fmt.Errorf("protocol: invalid message type: %s", elems[0])
	}
	f := &Frame{Type: MsgType(code)}

	var key string
	if err := json.Unmarshal(elems[1], &key); err != nil {
		return nil, fmt.Errorf("protocol: %v frame: second element must be a string", f.Type)
	}

	switch f.Type {
	case MsgTypeCall:
		if len(elems) < 3 {
			return nil, fmt.Errorf("protocol: call frame without method")
		}
		f.ID = key
		if err := json.Unmarshal(elems[2], &f.Method); err != nil {
			return nil, fmt.Errorf("protocol: call frame: method must be a string")
		}
		f.Body = body(elems, 3)
		f.Token = token(elems, 4)
	case MsgTypeRetOK, MsgTypeRetErr:
		f.ID = key
		f.Body = body(elems, 2)
		f.Token = token(elems, 3)
	case MsgTypeEvent:
		f.Event = key
		f.Body = body(elems, 2)
	default:
		return nil, fmt.Errorf("protocol: unsupported message type: %d", code)
	}
	return f, nil
}

func body(elems []json.RawMessage, i int) json.RawMessage {
	if i >= len(elems) {
		return nil
	}
	raw := bytes.TrimSpace(elems[i])
	if bytes.Equal(raw, null) {
		return nil
	}
	return raw
}

func token(elems []json.RawMessage, i int) string {
	if i >= len(elems) {
		return ""
	}
	var s string
	if err := json.Unmarshal(elems[i], &s); err != nil {
		return ""
	}
	return s
}

// JoinMethod builds the "api/verb" method string of a call.
func JoinMethod(api, verb string) string {
	return api + "/" + verb
}

// SplitMethod splits a method on its first slash. Verbs may contain slashes
// themselves, as in "vshl-capabilities/navigation/subscribe".
func SplitMethod(method string) (api, verb string, ok bool) {
	api, verb, ok = strings.Cut(method, "/")
	if !ok || api == "" || verb == "" {
		return "", "", false
	}
	return api, verb, true
}
