package middleware

import (
	"context"
	"errors"
	"time"

	"mini-broker/message"
)

var ErrTimeout = errors.New("request timed out")

func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				if resp.Err != nil && errors.Is(resp.Err, context.DeadlineExceeded) {
					return &message.Response{Err: ErrTimeout}
				}
				return resp
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return &message.Response{Err: ErrTimeout}
				}
				return &message.Response{Err: ctx.Err()}
			}
		}
	}
}
