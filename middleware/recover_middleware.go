package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"duplex-rpc/message"
)

// RecoverMiddleware turns a handler panic into a RuntimeError response and logs the stack.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("panic in %s: %v\n%s", call.Name, r, debug.Stack())
					result, err = nil, &Error{Class: "RuntimeError", Text: fmt.Sprint(r)}
				}
			}()
			return next(ctx, call)
		}
	}
}
