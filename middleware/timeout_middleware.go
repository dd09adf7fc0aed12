package middleware

import (
	"context"
	"time"

	"duplex-rpc/message"
)

// TimeOutMiddleware answers ErrTimeout when the handler does not finish in time.
// The handler keeps running in the background; it sees the cancelled ctx.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, call)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
