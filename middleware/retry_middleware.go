package middleware

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	"mini-broker/log"
	"mini-broker/message"
	"mini-broker/transport"
)

// Retryable reports whether a failed call may be sent again on a fresh socket.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, transport.ErrBroken) ||
		errors.Is(err, transport.ErrClosed)
}

// RetryMiddleware retries retryable failures with exponential backoff
// (baseDelay, 2*baseDelay, ...). A retried request may be processed twice.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger log.Logger) Middleware {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp.Err == nil || !Retryable(resp.Err) {
					return resp
				}
				delay := baseDelay * time.Duration(1<<i)
				logger.Info("retrying request",
					log.Int("attempt", i+1),
					log.Duration("delay", delay),
					log.Err(resp.Err),
				)

				t := time.NewTimer(delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return resp
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
