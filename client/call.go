package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"alexa-viewer/message"
	"alexa-viewer/protocol"
)

// pendingCall is the record of one in-flight call. It lives in Client.pending
// from submission until complete removes it; whoever removes it owns the
// outcome, which makes completion exactly-once across reply, deadline,
// cancellation, hangup and close.
type pendingCall struct {
	api, verb string
	start     time.Time
	cancel    context.CancelFunc
	stop      func() bool // disarms the deadline timer
	accepted  atomic.Bool // set once the frame is on the wire

	sync  bool
	done  chan struct{} // sync only
	reply *message.Reply
	err   error

	onReply ReplyFunc // async only, may be nil
}

// Call submits api/verb asynchronously and returns its handle. If the call is
// accepted, onReply (when non-nil) runs exactly once: on the loop goroutine
// with the reply, or with the error that ended the call. A call is never
// retried.
func (c *Client) Call(ctx context.Context, api, verb string, args any, onReply ReplyFunc) (uint64, error) {
	if !c.IsValid() {
		return 0, ErrInvalid
	}
	handle, _, err := c.submit(ctx, &message.Call{API: api, Verb: verb, Args: args}, onReply, false)
	return handle, err
}

// CallSync submits api/verb and blocks until its reply, its deadline, the
// cancellation of ctx, or the loss of the connection. Calls whose context has
// no deadline get the client default. Error replies are not Go errors: they
// come back with Reply.OK false.
func (c *Client) CallSync(ctx context.Context, api, verb string, args any) (*message.Reply, error) {
	if !c.IsValid() {
		return nil, ErrInvalid
	}
	return c.invoke(ctx, &message.Call{API: api, Verb: verb, Args: args})
}

// callSync is the innermost handler of the middleware chain.
func (c *Client) callSync(ctx context.Context, call *message.Call) (*message.Reply, error) {
	_, p, err := c.submit(ctx, call, nil, true)
	if err != nil {
		return nil, err
	}
	<-p.done
	return p.reply, p.err
}

func (c *Client) submit(ctx context.Context, call *message.Call, onReply ReplyFunc, sync bool) (uint64, *pendingCall, error) {
	if c.transport == nil {
		return 0, nil, ErrInvalid
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, fmt.Errorf("client: call %s/%s: %w", call.API, call.Verb, err)
	}
	body, err := c.codec.Encode(call.Args)
	if err != nil {
		return 0, nil, fmt.Errorf("client: encode %s/%s arguments: %w", call.API, call.Verb, err)
	}

	handle := c.seq.Add(1)
	id := strconv.FormatUint(handle, 10)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.callTimeout)
	}
	callCtx, cancel := context.WithDeadline(ctx, deadline)

	p := &pendingCall{
		api:     call.API,
		verb:    call.Verb,
		start:   time.Now(),
		cancel:  cancel,
		sync:    sync,
		onReply: onReply,
	}
	if sync {
		p.done = make(chan struct{})
	}

	// The timer only acts on accepted calls; submit itself retires a call
	// whose deadline passed before acceptance.
	p.stop = context.AfterFunc(callCtx, func() {
		if p.accepted.Load() {
			c.complete(id, nil, expired(call, callCtx.Err()))
		}
	})

	// Register before sending so a fast reply always finds its record.
	c.pending.Store(id, p)
	if c.metrics != nil {
		c.metrics.PendingCalls.Inc()
	}

	frame := &protocol.Frame{
		Type:   protocol.MsgTypeCall,
		ID:     id,
		Method: protocol.JoinMethod(call.API, call.Verb),
		Body:   body,
	}
	if err := c.transport.Send(frame); err != nil {
		if _, ok := c.pending.LoadAndDelete(id); ok {
			p.stop()
			cancel()
			c.observe(p, "rejected")
		}
		c.logger.Error("failed to call", "api", call.API, "verb", call.Verb, "error", err)
		return 0, nil, fmt.Errorf("client: call %s/%s: %w", call.API, call.Verb, err)
	}
	p.accepted.Store(true)

	// A hangup, close or deadline that came before acceptance skipped the
	// record. It is retired off the caller's goroutine so an async handler
	// never runs before Call returns.
	switch {
	case !c.IsValid():
		go c.complete(id, nil, c.lostErr())
	case callCtx.Err() != nil:
		go c.complete(id, nil, expired(call, callCtx.Err()))
	}
	return handle, p, nil
}

// complete retires the record for id with its outcome. It reports false if the
// record was already retired.
func (c *Client) complete(id string, reply *message.Reply, err error) bool {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	p := v.(*pendingCall)
	p.stop()
	p.cancel()
	c.observe(p, status(reply, err))

	if p.sync {
		p.reply, p.err = reply, err
		close(p.done)
		return true
	}
	if p.onReply != nil {
		p.onReply(reply, err)
	}
	return true
}

// failAll retires every accepted call with err.
func (c *Client) failAll(err error) {
	c.pending.Range(func(key, value any) bool {
		if value.(*pendingCall).accepted.Load() {
			c.complete(key.(string), nil, err)
		}
		return true
	})
}

func (c *Client) lostErr() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return ErrHangup
}

func (c *Client) observe(p *pendingCall, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.PendingCalls.Dec()
	c.metrics.CallsTotal.WithLabelValues(p.api, p.verb, status).Inc()
	c.metrics.CallDuration.WithLabelValues(p.api, p.verb).Observe(time.Since(p.start).Seconds())
}

func expired(call *message.Call, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("client: call %s/%s: %w: %w", call.API, call.Verb, ErrTimeout, cause)
	}
	return fmt.Errorf("client: call %s/%s: %w", call.API, call.Verb, cause)
}

func status(reply *message.Reply, err error) string {
	switch {
	case err == nil && reply.OK:
		return "ok"
	case err == nil:
		return "error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrHangup):
		return "hangup"
	case errors.Is(err, ErrClosed):
		return "closed"
	}
	return "failed"
}
