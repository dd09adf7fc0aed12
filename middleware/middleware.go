// Package middleware wraps the handling of incoming calls.
//
// A Middleware takes the next HandlerFunc and returns a new one, so behaviour can be layered
// around whatever finally answers the call (provider method, named handler or fallback):
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"github.com/op/go-logging"

	"duplex-rpc/message"
)

var log = logging.MustGetLogger("middleware")

// HandlerFunc answers one incoming call. The returned value becomes the response result;
// a non-nil error becomes the response error.
type HandlerFunc func(ctx context.Context, call *message.Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Error is a failure produced by a middleware itself.
// It carries the error class reported to the caller and whether retrying may help.
type Error struct {
	Class     string
	Text      string
	Retryable bool
}

func (e *Error) Error() string      { return e.Text }
func (e *Error) ErrorClass() string { return e.Class }
func (e *Error) Temporary() bool    { return e.Retryable }

var (
	ErrTimeout   = &Error{Class: "TimeoutError", Text: "request timed out", Retryable: true}
	ErrRateLimit = &Error{Class: "RateLimitError", Text: "rate limit exceeded", Retryable: true}
)
