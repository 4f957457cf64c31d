// Package server implements a small wsj1 binder: verb registration, parallel request
// processing, event push and graceful shutdown. It stands in for the application
// framework in tests and local tooling.
//
// Request processing pipeline:
//
//	Upgrade → handleConn (single goroutine reads frames)
//	  → for each call: go handleRequest (parallel processing)
//	    → verb lookup → HandlerFunc → reply frame written under the session write lock
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"alexa-viewer/codec"
	"alexa-viewer/protocol"
)

// ErrNoReply makes the server swallow a call without answering it.
var ErrNoReply = errors.New("server: no reply")

// Request is one call received from a client.
type Request struct {
	API  string
	Verb string
	Args json.RawMessage
}

// HandlerFunc serves one verb. A nil error produces a success reply carrying body
// (a nil body is sent as an empty reply); any other error produces an error reply,
// except ErrNoReply which produces nothing.
type HandlerFunc func(ctx context.Context, req *Request) (body any, err error)

// Server is an in-process binder that accepts wsj1 sessions on /api.
type Server struct {
	token    string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	verbs    map[string]HandlerFunc // "api/verb" → handler
	sessions map[*session]struct{}

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup // in-flight requests
	shutdown   atomic.Bool
	calls      atomic.Int64
}

type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *session) write(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer creates a binder that requires token on connect. An empty token
// accepts any client.
func NewServer(token string) *Server {
	return &Server{
		token:    token,
		logger:   slog.Default(),
		verbs:    make(map[string]HandlerFunc),
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetLogger replaces the server logger.
func (svr *Server) SetLogger(l *slog.Logger) {
	if l != nil {
		svr.logger = l
	}
}

// Handle registers fn for api/verb, replacing any previous handler.
func (svr *Server) Handle(api, verb string, fn HandlerFunc) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.verbs[protocol.JoinMethod(api, verb)] = fn
}

// Calls returns the number of call frames received so far.
func (svr *Server) Calls() int64 {
	return svr.calls.Load()
}

// Sessions returns the number of connected clients.
func (svr *Server) Sessions() int {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	return len(svr.sessions)
}

// Start listens on address and serves in the background. It returns the bound port.
func (svr *Server) Start(address string) (int, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return 0, err
	}
	svr.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/api", svr)
	svr.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		err := svr.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !svr.shutdown.Load() {
			svr.logger.Error("binder serve failed", "error", err)
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// ServeHTTP upgrades the request to a wsj1 session after checking the token.
func (svr *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if svr.token != "" && r.URL.Query().Get("token") != svr.token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := svr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		svr.logger.Debug("upgrade failed", "error", err)
		return
	}
	svr.handleConn(&session{conn: conn})
}

// handleConn reads frames sequentially and dispatches each call to its own
// goroutine, so a slow verb does not hold up the others on the same session.
func (svr *Server) handleConn(s *session) {
	svr.mu.Lock()
	svr.sessions[s] = struct{}{}
	svr.mu.Unlock()

	defer func() {
		svr.mu.Lock()
		delete(svr.sessions, s)
		svr.mu.Unlock()
		s.conn.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			svr.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if frame.Type != protocol.MsgTypeCall {
			continue
		}
		svr.calls.Add(1)
		svr.wg.Add(1)
		go svr.handleRequest(s, frame)
	}
}

func (svr *Server) handleRequest(s *session, frame *protocol.Frame) {
	defer svr.wg.Done()

	reply := &protocol.Frame{Type: protocol.MsgTypeRetOK, ID: frame.ID}

	api, verb, ok := protocol.SplitMethod(frame.Method)
	svr.mu.RLock()
	fn := svr.verbs[frame.Method]
	svr.mu.RUnlock()

	var body any
	var err error
	switch {
	case !ok:
		err = fmt.Errorf("invalid method %q", frame.Method)
	case fn == nil:
		err = fmt.Errorf("unknown verb %s", frame.Method)
	default:
		body, err = fn(context.Background(), &Request{API: api, Verb: verb, Args: frame.Body})
	}

	if errors.Is(err, ErrNoReply) {
		return
	}
	if err != nil {
		reply.Type = protocol.MsgTypeRetErr
		body = Failure(err)
	}
	encoded, encErr := codec.Default.Encode(body)
	if encErr != nil {
		svr.logger.Error("failed to encode reply", "method", frame.Method, "error", encErr)
		return
	}
	reply.Body = encoded
	if err := s.write(reply); err != nil {
		svr.logger.Debug("failed to write reply", "method", frame.Method, "error", err)
	}
}

// Push sends event to every session, wrapped in the conventional event
// envelope with data as its inner payload.
func (svr *Server) Push(event string, data any) error {
	return svr.PushRaw(event, map[string]any{
		"jtype": "afb-event",
		"event": event,
		"data":  data,
	})
}

// PushRaw sends event with body used verbatim as the envelope.
func (svr *Server) PushRaw(event string, body any) error {
	encoded, err := codec.Default.Encode(body)
	if err != nil {
		return err
	}
	frame := &protocol.Frame{Type: protocol.MsgTypeEvent, Event: event, Body: encoded}

	svr.mu.RLock()
	defer svr.mu.RUnlock()
	var errs []error
	for s := range svr.sessions {
		if err := s.write(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hangup drops every session without a close handshake.
func (svr *Server) Hangup() {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	for s := range svr.sessions {
		s.conn.UnderlyingConn().Close()
	}
}

// Shutdown performs graceful shutdown:
//  1. Set the shutdown flag so the serve error is recognized as intentional
//  2. Close the listener and every session
//  3. Wait for in-flight requests to finish (with timeout)
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.shutdown.Store(true)
	if svr.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = svr.httpServer.Shutdown(ctx)
	}
	svr.Hangup()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// Success builds the conventional success reply envelope around response.
func Success(response any) map[string]any {
	return map[string]any{
		"jtype":    "afb-reply",
		"request":  map[string]any{"status": "success"},
		"response": response,
	}
}

// Failure builds the conventional error reply envelope for err.
func Failure(err error) map[string]any {
	return map[string]any{
		"jtype":   "afb-reply",
		"request": map[string]any{"status": "failed", "info": err.Error()},
	}
}
