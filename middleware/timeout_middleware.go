package middleware

import (
	"context"
	"time"

	"alexa-viewer/message"
)

// TimeOutMiddleware bounds every call in the chain by timeout. An earlier
// deadline already on the context still wins.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Reply, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, call)
		}
	}
}
