// Package middleware wraps synchronous binder calls.
//
// A chain is built once when the client is created:
//
//	Chain(A, B, C)(invoke) → A(B(C(invoke)))
//	Execution order: A.before → B.before → C.before → invoke → C.after → B.after → A.after
package middleware

import (
	"context"

	"alexa-viewer/message"
)

// HandlerFunc performs one synchronous call.
type HandlerFunc func(ctx context.Context, call *message.Call) (*message.Reply, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
