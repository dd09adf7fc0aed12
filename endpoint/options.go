package endpoint

import (
	"duplex-rpc/middleware"
)

const DefaultStubCacheSize = 256

type options struct {
	name          string
	inline        bool
	middlewares   []middleware.Middleware
	stubCacheSize int

	// Installed before the transport replays buffered envelopes.
	provider *provider
	handlers map[string]HandlerFunc
	fallback FallbackFunc
	setup    []func(*Endpoint) error
}

type Option func(*options)

// WithName labels the endpoint in log records.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithInlineDispatch runs request handlers on the goroutine that delivered the request instead of
// a goroutine per request. Requests are then served one at a time, in arrival order; a handler
// must not block on a call back to the peer, nor close the endpoint synchronously.
func WithInlineDispatch() Option {
	return func(o *options) { o.inline = true }
}

// WithMiddleware wraps request dispatch, the first middleware outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithStubCacheSize bounds the per-interface stub cache.
func WithStubCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stubCacheSize = n
		}
	}
}

// WithHandler registers a named handler before any envelope is processed.
func WithHandler(name string, h HandlerFunc) Option {
	return func(o *options) { o.handlers[name] = h }
}

// WithFallback registers the fallback handler before any envelope is processed.
func WithFallback(fn FallbackFunc) Option {
	return func(o *options) { o.fallback = fn }
}

// WithProvider attaches target before any envelope is processed.
// It panics if target is not a valid provider; use NewProviderEndpoint to get an error instead.
func WithProvider(target any) Option {
	p, err := newProvider(target)
	if err != nil {
		panic(err)
	}
	return func(o *options) { o.provider = p }
}

// WithSetup runs fn on the new endpoint before any envelope is processed, typically to pick a
// provider that needs the endpoint itself. If fn fails the endpoint starts out closed.
func WithSetup(fn func(ep *Endpoint) error) Option {
	return func(o *options) { o.setup = append(o.setup, fn) }
}
