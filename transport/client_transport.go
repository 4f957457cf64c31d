// Package transport drives one wsj1 session over a WebSocket connection.
//
// ClientTransport owns the connection and the loop runner: a single reader goroutine
// (recvLoop) that decodes every frame and hands it to the Handler, plus a heartbeat
// goroutine that pings the binder so a dead peer is noticed within a bounded wait.
//
//	caller-1 ──Send(id=1)──┐
//	caller-2 ──Send(id=2)──┼──→ one websocket ──→ binder
//	caller-3 ──Send(id=3)──┘
//
//	recvLoop: ←── [3,"2",{...}] → Handler.OnReply("2", ...) → caller-2's pending record
//	          ←── [5,"api/ev",{...}] → Handler.OnEvent("api/ev", ...)
//
// Every Handler callback runs on the recvLoop goroutine. A slow callback stalls replies
// and events for the whole connection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"alexa-viewer/protocol"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: connection closed")

	// ErrHangup is returned by Send once the peer has gone away.
	ErrHangup = errors.New("transport: connection hung up")
)

const (
	// DefaultHeartbeat is the ping interval. The read side gives up after
	// readWaitFactor intervals without any traffic.
	DefaultHeartbeat = 30 * time.Second

	readWaitFactor = 3
	writeWait      = 10 * time.Second
)

// Handler receives everything the binder sends. These are the hooks the
// session requires: replies, events, server-initiated calls and hangup.
type Handler interface {
	OnReply(id string, ok bool, body json.RawMessage)
	OnEvent(name string, body json.RawMessage)
	OnCall(id, method string, body json.RawMessage)
	OnHangup(err error)
}

// Options tunes a ClientTransport. The zero value is usable.
type Options struct {
	Heartbeat time.Duration // <0 disables pings and the read deadline
	Dialer    *websocket.Dialer
	Logger    *slog.Logger
}

// ClientTransport manages a single multiplexed WebSocket connection.
type ClientTransport struct {
	conn      *websocket.Conn
	handler   Handler
	logger    *slog.Logger
	heartbeat time.Duration

	sending sync.Mutex // one writer at a time; gorilla connections are not write-safe

	closed atomic.Bool
	hungUp atomic.Bool
	done   chan struct{} // closed by Close
	lost   chan struct{} // closed on hangup

	closeOnce  sync.Once
	hangupOnce sync.Once
	connOnce   sync.Once
	connErr    error
	wg         sync.WaitGroup
}

// Dial opens the WebSocket at url and starts the loop runner. There is no retry.
func Dial(ctx context.Context, url string, h Handler, opts Options) (*ClientTransport, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", Redact(url), err)
	}
	t := NewClientTransport(conn, h, opts)
	t.Start()
	return t, nil
}

// NewClientTransport wraps an established connection. Start must be called
// before any traffic is processed.
func NewClientTransport(conn *websocket.Conn, h Handler, opts Options) *ClientTransport {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := opts.Heartbeat
	if heartbeat == 0 {
		heartbeat = DefaultHeartbeat
	}
	return &ClientTransport{
		conn:      conn,
		handler:   h,
		logger:    logger,
		heartbeat: heartbeat,
		done:      make(chan struct{}),
		lost:      make(chan struct{}),
	}
}

// Start launches the reader and heartbeat goroutines.
func (t *ClientTransport) Start() {
	t.wg.Add(2)
	go t.recvLoop()
	go t.heartbeatLoop()
}

// Send encodes f and writes it as one text message.
func (t *ClientTransport) Send(f *protocol.Frame) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.hungUp.Load() {
		return ErrHangup
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Alive reports whether the connection is neither closed nor hung up.
func (t *ClientTransport) Alive() bool {
	return !t.closed.Load() && !t.hungUp.Load()
}

// Close sends a close frame, shuts the socket and waits for the loop runner
// to exit. No Handler callback runs after Close returns. It must not be called
// from inside a Handler callback.
func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = t.closeConn()
		t.wg.Wait()
	})
	return err
}

func (t *ClientTransport) readWait() time.Duration {
	if t.heartbeat < 0 {
		return 0
	}
	return readWaitFactor * t.heartbeat
}

func (t *ClientTransport) extendDeadline() error {
	wait := t.readWait()
	if wait == 0 {
		return nil
	}
	return t.conn.SetReadDeadline(time.Now().Add(wait))
}

// recvLoop is the only reader of the connection. It exits on the first read
// error, which is either Close or the peer going away.
func (t *ClientTransport) recvLoop() {
	defer t.wg.Done()

	_ = t.extendDeadline()
	t.conn.SetPongHandler(func(string) error { return t.extendDeadline() })

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.hangup(err)
			return
		}
		_ = t.extendDeadline()

		frame, err := protocol.Decode(data)
		if err != nil {
			t.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if t.closed.Load() {
			return
		}
		t.dispatch(frame)
	}
}

func (t *ClientTransport) dispatch(f *protocol.Frame) {
	switch f.Type {
	case protocol.MsgTypeRetOK, protocol.MsgTypeRetErr:
		t.handler.OnReply(f.ID, f.Type == protocol.MsgTypeRetOK, f.Body)
	case protocol.MsgTypeEvent:
		t.handler.OnEvent(f.Event, f.Body)
	case protocol.MsgTypeCall:
		t.handler.OnCall(f.ID, f.Method, f.Body)
	}
}

func (t *ClientTransport) hangup(err error) {
	t.hangupOnce.Do(func() {
		t.hungUp.Store(true)
		close(t.lost)
		_ = t.closeConn()
		if t.closed.Load() {
			return
		}
		t.logger.Warn("binder connection lost", "error", err)
		t.handler.OnHangup(err)
	})
}

// closeConn releases the socket. Whichever of Close and hangup comes first
// closes it.
func (t *ClientTransport) closeConn() error {
	t.connOnce.Do(func() {
		t.connErr = t.conn.Close()
	})
	return t.connErr
}

// heartbeatLoop pings the binder. Pongs extend the read deadline in recvLoop.
func (t *ClientTransport) heartbeatLoop() {
	defer t.wg.Done()
	if t.heartbeat < 0 {
		return
	}

	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-t.lost:
			return
		case <-ticker.C:
			// WriteControl is safe to call concurrently with WriteMessage.
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				t.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}
