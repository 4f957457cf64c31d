package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"alexa-viewer/message"
)

// ErrRateLimited is returned when the call budget is exhausted.
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware rejects calls beyond a token bucket of r calls per second
// with the given burst. Rejected calls never reach the binder.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Reply, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, call)
		}
	}
}
