package server

import (
	"time"

	"duplex-rpc/codec"
	"duplex-rpc/endpoint"
	"duplex-rpc/transport"
)

const (
	DefaultServiceName = "duplex"
	DefaultTTL         = 10 // seconds
)

type options struct {
	serviceName string
	weight      int
	version     string
	ttl         int64
	wire        transport.Wire
	transport   []transport.Option
	endpoint    []endpoint.Option
}

type Option func(*options)

// WithServiceName sets the name registered in the registry.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

// WithWeight sets the balancing weight announced with the instance.
func WithWeight(weight int) Option {
	return func(o *options) { o.weight = weight }
}

func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// WithTTL sets the registry lease in seconds.
func WithTTL(seconds int64) Option {
	return func(o *options) {
		if seconds > 0 {
			o.ttl = seconds
		}
	}
}

// WithJSON frames connections as delimited JSON, the default. An empty delimiter means "\x00".
func WithJSON(delimiter string) Option {
	return func(o *options) { o.wire = transport.Wire{Codec: codec.CodecTypeJSON, Delimiter: delimiter} }
}

// WithBinary frames connections as length-prefixed msgpack, optionally zstd-compressed.
func WithBinary(compress bool) Option {
	return func(o *options) { o.wire = transport.Wire{Codec: codec.CodecTypeBinary, Compress: compress} }
}

// WithHeartbeat makes every connection send keepalive frames at the given interval.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.transport = append(o.transport, transport.WithHeartbeat(interval)) }
}

// WithEndpointOptions applies opts to the endpoint of every accepted connection.
func WithEndpointOptions(opts ...endpoint.Option) Option {
	return func(o *options) { o.endpoint = append(o.endpoint, opts...) }
}
