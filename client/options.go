package client

import (
	"time"

	"duplex-rpc/codec"
	"duplex-rpc/endpoint"
	"duplex-rpc/transport"
)

const DefaultDialTimeout = 5 * time.Second

type options struct {
	wire        transport.Wire
	transport   []transport.Option
	endpoint    []endpoint.Option
	dialTimeout time.Duration
	watch       bool
}

type Option func(*options)

// WithJSON talks delimited JSON, the default. An empty delimiter means "\x00".
func WithJSON(delimiter string) Option {
	return func(o *options) { o.wire = transport.Wire{Codec: codec.CodecTypeJSON, Delimiter: delimiter} }
}

// WithBinary talks length-prefixed msgpack, optionally zstd-compressed.
func WithBinary(compress bool) Option {
	return func(o *options) { o.wire = transport.Wire{Codec: codec.CodecTypeBinary, Compress: compress} }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.transport = append(o.transport, transport.WithHeartbeat(interval)) }
}

// WithEndpointOptions applies opts to every endpoint the client dials, e.g. a provider the
// server can call back into.
func WithEndpointOptions(opts ...endpoint.Option) Option {
	return func(o *options) { o.endpoint = append(o.endpoint, opts...) }
}

// WithWatch keeps instance lists fresh through Registry.Watch instead of a Discover per call.
func WithWatch() Option {
	return func(o *options) { o.watch = true }
}
