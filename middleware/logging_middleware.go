package middleware

import (
	"context"
	"time"

	"mini-broker/log"
	"mini-broker/message"
)

func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			if resp.Err != nil {
				logger.Warn("request failed",
					log.Int("payload_bytes", len(req.Payload)),
					log.Duration("duration", duration),
					log.Err(resp.Err),
				)
				return resp
			}
			logger.Debug("request done",
				log.Int("payload_bytes", len(req.Payload)),
				log.Int("frames", resp.Frames.Len()),
				log.Duration("duration", duration),
			)
			return resp
		}
	}
}
