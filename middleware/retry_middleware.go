package middleware

import (
	"context"
	"errors"
	"time"

	"duplex-rpc/message"
)

// RetryMiddleware re-runs the handler while it fails with a temporary error
// (one whose Temporary method reports true), backing off exponentially from baseDelay.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			result, err := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !IsTemporary(err) {
					return result, err
				}
				log.Debugf("retry attempt %d for %s due to error: %v", i+1, call.Name, err)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, err
				}
				result, err = next(ctx, call)
			}
			return result, err
		}
	}
}

// IsTemporary reports whether err, or anything it wraps, says retrying may succeed.
func IsTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
