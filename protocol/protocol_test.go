package protocol

import (
	"testing"
)

func TestEncodeCall(t *testing.T) {
	data, err := Encode(&Frame{
		Type:   MsgTypeCall,
		ID:     "7",
		Method: JoinMethod("echo", "ping"),
		Body:   []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `[2,"7","echo/ping",{}]` {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func TestEncodeCallWithoutBodySendsNull(t *testing.T) {
	data, err := Encode(&Frame{Type: MsgTypeCall, ID: "1", Method: "a/b"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[2,"1","a/b",null]` {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func TestEncodeRejectsIncompleteFrames(t *testing.T) {
	cases := []*Frame{
		{Type: MsgTypeCall, Method: "a/b"},
		{Type: MsgTypeCall, ID: "1"},
		{Type: MsgTypeRetOK},
		{Type: MsgTypeEvent},
		{Type: MsgType(9), ID: "1"},
	}
	for _, f := range cases {
		if _, err := Encode(f); err == nil {
			t.Errorf("expected error for %+v", f)
		}
	}
}

func TestDecodeReply(t *testing.T) {
	f, err := Decode([]byte(`[3,"12",{"response":"pong"},"tok"]`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != MsgTypeRetOK || !f.Type.IsReply() {
		t.Fatalf("expect retok, got %v", f.Type)
	}
	if f.ID != "12" {
		t.Fatalf("expect id 12, got %q", f.ID)
	}
	if string(f.Body) != `{"response":"pong"}` {
		t.Fatalf("unexpected body: %s", f.Body)
	}
	if f.Token != "tok" {
		t.Fatalf("expect token tok, got %q", f.Token)
	}
}

func TestDecodeReplyWithoutBody(t *testing.T) {
	for _, raw := range []string{`[3,"1"]`, `[4,"1",null]`} {
		f, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if len(f.Body) != 0 {
			t.Fatalf("%s: expect empty body, got %s", raw, f.Body)
		}
	}
}

func TestDecodeEvent(t *testing.T) {
	f, err := Decode([]byte(`[5,"foo/bar",{"jtype":"afb-event","data":{"x":1}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != MsgTypeEvent || f.Event != "foo/bar" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if f.ID != "" {
		t.Fatalf("event frames carry no id, got %q", f.ID)
	}
}

func TestDecodeCall(t *testing.T) {
	f, err := Decode([]byte(`[2,"s1","monitor/get",{"verbosity":1}]`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Method != "monitor/get" || f.ID != "s1" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecodeInvalid(t *testing.T) {
	cases := []string{
		`{"not":"an array"}`,
		`[3]`,
		`["3","1"]`,
		`[3,1,{}]`,
		`[7,"1",{}]`,
		`[2,"1"]`,
		`[2,"1",42]`,
	}
	for _, raw := range cases {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Errorf("expected error decoding %s", raw)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	api, verb, ok := SplitMethod("vshl-capabilities/navigation/subscribe")
	if !ok || api != "vshl-capabilities" || verb != "navigation/subscribe" {
		t.Fatalf("got %q %q %v", api, verb, ok)
	}
	for _, bad := range []string{"noslash", "/verb", "api/"} {
		if _, _, ok := SplitMethod(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
