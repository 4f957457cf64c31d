package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"alexa-viewer/protocol"
)

func startServer(t *testing.T, token string) (*Server, int) {
	t.Helper()
	svr := NewServer(token)
	port, err := svr.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, port
}

func dial(t *testing.T, port int, token string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/api?token=%s", port, token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f *protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func recv(t *testing.T, conn *websocket.Conn) *protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := protocol.Decode(data)
	require.NoError(t, err)
	return f
}

func TestServerReply(t *testing.T) {
	svr, port := startServer(t, "abc")
	svr.Handle("echo", "ping", func(ctx context.Context, req *Request) (any, error) {
		return json.RawMessage(`{"data":"pong"}`), nil
	})

	conn := dial(t, port, "abc")
	send(t, conn, &protocol.Frame{Type: protocol.MsgTypeCall, ID: "123", Method: "echo/ping", Body: []byte(`{}`)})

	reply := recv(t, conn)
	require.Equal(t, protocol.MsgTypeRetOK, reply.Type)
	require.Equal(t, "123", reply.ID)
	require.JSONEq(t, `{"data":"pong"}`, string(reply.Body))
	require.EqualValues(t, 1, svr.Calls())
}

func TestServerErrorReply(t *testing.T) {
	svr, port := startServer(t, "")
	svr.Handle("lights", "set", func(ctx context.Context, req *Request) (any, error) {
		return nil, errors.New("bad state")
	})

	conn := dial(t, port, "")
	send(t, conn, &protocol.Frame{Type: protocol.MsgTypeCall, ID: "1", Method: "lights/set"})
	send(t, conn, &protocol.Frame{Type: protocol.MsgTypeCall, ID: "2", Method: "lights/missing"})

	seen := map[string]*protocol.Frame{}
	for i := 0; i < 2; i++ {
		f := recv(t, conn)
		seen[f.ID] = f
	}
	require.Equal(t, protocol.MsgTypeRetErr, seen["1"].Type)
	require.Contains(t, string(seen["1"].Body), "bad state")
	require.Equal(t, protocol.MsgTypeRetErr, seen["2"].Type)
	require.Contains(t, string(seen["2"].Body), "unknown verb")
}

func TestServerRejectsBadToken(t *testing.T) {
	_, port := startServer(t, "secret")

	url := fmt.Sprintf("ws://127.0.0.1:%d/api?token=wrong", port)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerPush(t *testing.T) {
	svr, port := startServer(t, "")
	conn := dial(t, port, "")

	require.Eventually(t, func() bool { return svr.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, svr.Push("vshl-capabilities/render_template", map[string]string{"type": "BodyTemplate1"}))

	ev := recv(t, conn)
	require.Equal(t, protocol.MsgTypeEvent, ev.Type)
	require.Equal(t, "vshl-capabilities/render_template", ev.Event)
	require.JSONEq(t, `{"jtype":"afb-event","event":"vshl-capabilities/render_template","data":{"type":"BodyTemplate1"}}`, string(ev.Body))
}

func TestServerShutdownWaitsForRequests(t *testing.T) {
	svr := NewServer("")
	port, err := svr.Start("127.0.0.1:0")
	require.NoError(t, err)

	release := make(chan struct{})
	svr.Handle("slow", "op", func(ctx context.Context, req *Request) (any, error) {
		<-release
		return nil, ErrNoReply
	})

	conn := dial(t, port, "")
	send(t, conn, &protocol.Frame{Type: protocol.MsgTypeCall, ID: "1", Method: "slow/op"})
	require.Eventually(t, func() bool { return svr.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Error(t, svr.Shutdown(50*time.Millisecond))
	close(release)
	require.NoError(t, svr.Shutdown(time.Second))
}
