package middleware

import (
	"context"
	"log/slog"
	"time"

	"alexa-viewer/message"
)

// LoggingMiddleware logs every call with its duration at debug level, and
// failures at warn level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Reply, error) {
			start := time.Now()
			reply, err := next(ctx, call)
			duration := time.Since(start)
			if err != nil {
				logger.Warn("call failed", "api", call.API, "verb", call.Verb, "duration", duration, "error", err)
				return reply, err
			}
			logger.Debug("call done", "api", call.API, "verb", call.Verb, "duration", duration, "ok", reply != nil && reply.OK)
			return reply, nil
		}
	}
}
