// Package client is the application framework client used by the viewer.
//
// A Client owns one wsj1 session to the local binder. Calls are correlated with their
// replies through a table of pending records keyed by the wire id; server-pushed events
// are unwrapped and forwarded to a single registered handler.
//
//	app goroutine ──CallSync──→ pending["4"] ──Send──→ binder
//	                    ↑ blocks on record.done
//	loop goroutine  ←── [3,"4",{...}] ──→ complete("4") closes record.done
//	loop goroutine  ←── [5,"api/ev",{"data":...}] ──→ event handler
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"alexa-viewer/codec"
	"alexa-viewer/message"
	"alexa-viewer/metrics"
	"alexa-viewer/middleware"
	"alexa-viewer/transport"
)

const (
	// DefaultCallTimeout bounds calls whose context carries no deadline.
	DefaultCallTimeout = 30 * time.Second

	// DefaultHost is where the binder listens.
	DefaultHost = "localhost"
)

// ReplyFunc receives the outcome of an asynchronous call, exactly once.
// Either reply is non-nil and err is nil, or reply is nil and err says why
// the call ended without one.
type ReplyFunc func(reply *message.Reply, err error)

// EventFunc receives the inner data of an event together with the context
// given at registration.
type EventFunc func(event string, data json.RawMessage, userCtx any)

type eventTarget struct {
	fn      EventFunc
	userCtx any
}

// Client is a connection to the binder. A Client whose construction failed is
// inert: IsValid reports false and every call fails with ErrInvalid.
type Client struct {
	host        string
	logger      *slog.Logger
	codec       codec.Codec
	callTimeout time.Duration
	heartbeat   time.Duration
	dialer      *websocket.Dialer
	middlewares []middleware.Middleware
	metrics     *metrics.Metrics

	url       string
	transport *transport.ClientTransport
	err       error

	seq     atomic.Uint64
	pending sync.Map // map[string]*pendingCall
	event   atomic.Pointer[eventTarget]
	invoke  middleware.HandlerFunc
	closed  atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCallTimeout sets the deadline applied to calls whose context has none.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithHeartbeat sets the transport ping interval; negative disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) {
		c.heartbeat = d
	}
}

// WithMiddleware appends middlewares to the synchronous call chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithMetrics records call and event meters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHost overrides the binder host.
func WithHost(host string) Option {
	return func(c *Client) {
		if host != "" {
			c.host = host
		}
	}
}

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithCodec sets the codec used for call arguments.
func WithCodec(cdc codec.Codec) Option {
	return func(c *Client) {
		if cdc != nil {
			c.codec = cdc
		}
	}
}

// New connects to the binder on port using token. It always returns a Client;
// if the connection could not be made the failure is logged, Err reports it and
// the Client is inert. There is no retry.
func New(ctx context.Context, port int, token string, opts ...Option) *Client {
	c := &Client{
		host:        DefaultHost,
		logger:      slog.Default(),
		codec:       codec.Default,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.invoke = middleware.Chain(c.middlewares...)(c.callSync)
	c.url = transport.URL(c.host, port, token)

	t, err := transport.Dial(ctx, c.url, c, transport.Options{
		Heartbeat: c.heartbeat,
		Dialer:    c.dialer,
		Logger:    c.logger,
	})
	if err != nil {
		c.err = err
		c.logger.Error("failed to create binder connection", "url", transport.Redact(c.url), "error", err)
		return c
	}
	c.transport = t
	c.logger.Debug("binder connection established", "url", transport.Redact(c.url))
	return c
}

// Connect is New for callers that want the construction error up front. The
// returned Client is never nil.
func Connect(ctx context.Context, port int, token string, opts ...Option) (*Client, error) {
	c := New(ctx, port, token, opts...)
	return c, c.err
}

// Err returns the error that made construction fail, or nil.
func (c *Client) Err() error {
	return c.err
}

// IsValid reports whether the connection was established and has been
// neither closed nor lost.
func (c *Client) IsValid() bool {
	return c.transport != nil && !c.closed.Load() && c.transport.Alive()
}

// Close tears down the connection, waits for the loop runner to stop and
// fails every outstanding call with ErrClosed. It must not be called from a
// reply or event handler.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if c.transport != nil {
		err = c.transport.Close()
	}
	c.failAll(ErrClosed)
	return err
}

// OnReply implements transport.Handler.
func (c *Client) OnReply(id string, ok bool, body json.RawMessage) {
	if !c.complete(id, &message.Reply{Payload: body, OK: ok}, nil) {
		c.logger.Debug("reply for unknown call", "id", id)
	}
}

// OnEvent implements transport.Handler.
func (c *Client) OnEvent(name string, body json.RawMessage) {
	c.dispatch(&message.Event{Name: name, Payload: body})
}

// OnCall implements transport.Handler. The viewer exposes no verbs, so calls
// from the binder are ignored.
func (c *Client) OnCall(id, method string, body json.RawMessage) {
	c.logger.Debug("ignoring call from binder", "id", id, "method", method)
}

// OnHangup implements transport.Handler.
func (c *Client) OnHangup(err error) {
	c.logger.Error("binder hung up", "error", err)
	c.failAll(ErrHangup)
}
