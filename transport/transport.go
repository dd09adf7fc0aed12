// Package transport moves envelopes between two peers.
//
// A Transport only knows how to send one envelope and how to hand received envelopes to a single
// Receiver. Envelopes that arrive before the receiver is attached are parked in a bounded inbox
// and replayed in arrival order the moment SetReceiver is called:
//
//	read loop ──msg──▶ inbox ──(no receiver yet)──▶ ring buffer
//	                     │                             │
//	SetReceiver(fn) ─────┴──── drain in order ◀────────┘ then fn(msg) directly
//
// Implementations:
//   - StreamTransport over any io.ReadWriteCloser (JSON text or binary frames)
//   - Pipe, an in-process pair with asynchronous delivery
//   - DirectPair, an in-process pair delivering on the sender's goroutine
package transport

import (
	"errors"
	"time"

	"github.com/op/go-logging"

	"duplex-rpc/message"
)

var log = logging.MustGetLogger("transport")

// ErrClosed is returned by Send once the transport is closed.
var ErrClosed = errors.New("transport: closed")

// Receiver consumes one incoming envelope. A non-nil error aborts the connection:
// the transport stops delivering and closes with that error as the cause.
type Receiver func(msg message.Map) error

type Transport interface {
	// Send transmits one envelope. A connection failure is returned and also closes the transport.
	Send(msg message.Map) error
	// SetReceiver attaches the consumer and replays anything buffered so far.
	SetReceiver(fn Receiver)
	// OnClose registers an observer fired once with the close cause (nil for an orderly close).
	// Observers registered after close fire immediately.
	OnClose(fn func(err error))
	// Close is idempotent. It releases the connection and waits for the receive loop to exit.
	Close() error
}

const (
	DefaultInboxSize = 1024
)

type options struct {
	inboxSize int
	heartbeat time.Duration
}

type Option func(*options)

// WithInboxSize bounds the number of envelopes parked before a receiver is attached.
func WithInboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxSize = n
		}
	}
}

// WithHeartbeat makes a stream transport write an empty keepalive frame at the given interval.
// Keepalive frames are skipped by the reading side and never reach the receiver.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) {
		o.heartbeat = interval
	}
}

func buildOptions(opts []Option) options {
	o := options{inboxSize: DefaultInboxSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
