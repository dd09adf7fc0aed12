package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"duplex-rpc/message"
)

// RateLimitMiddleware rejects calls beyond r per second (token bucket with the given burst).
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimit
			}
			return next(ctx, call)
		}
	}
}
