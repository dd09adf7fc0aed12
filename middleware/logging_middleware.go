package middleware

import (
	"context"
	"time"

	"duplex-rpc/message"
)

func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			duration := time.Since(start)
			if err != nil {
				log.Warningf("call %s serial=%d failed after %s: %v", call.Name, call.Serial, duration, err)
			} else {
				log.Infof("call %s serial=%d took %s", call.Name, call.Serial, duration)
			}
			return result, err
		}
	}
}
