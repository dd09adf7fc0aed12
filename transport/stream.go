package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"

	"duplex-rpc/codec"
	"duplex-rpc/message"
	"duplex-rpc/protocol"
)

// StreamTransport carries envelopes over one byte stream (usually a net.Conn).
//
// A background goroutine (readLoop) continuously reads frames, decodes them and hands each
// envelope to the inbox. Sends from any goroutine go straight to the framer, whose write lock keeps
// frames from interleaving on the wire:
//
//	goroutine-1 ──Send──┐
//	goroutine-2 ──Send──┼──▶ framer (write lock) ──▶ conn ──▶ peer
//	goroutine-3 ──Send──┘
//
//	readLoop: conn ──▶ framer.ReadFrame ──▶ codec.Decode ──▶ inbox ──▶ receiver
type StreamTransport struct {
	base
	rwc    io.ReadWriteCloser
	framer protocol.Framer
	codec  codec.Codec
	done   chan struct{} // closed when readLoop exits
}

// NewStreamTransport wraps rwc and starts reading immediately; envelopes received before
// SetReceiver are buffered.
func NewStreamTransport(rwc io.ReadWriteCloser, framer protocol.Framer, cdc codec.Codec, opts ...Option) *StreamTransport {
	o := buildOptions(opts)
	t := &StreamTransport{
		rwc:    rwc,
		framer: framer,
		codec:  cdc,
		done:   make(chan struct{}),
	}
	t.init(o.inboxSize)
	t.release = func() { _ = t.rwc.Close() }

	go t.readLoop()
	if o.heartbeat > 0 {
		go t.heartbeatLoop(o.heartbeat)
	}
	return t
}

// NewJSONTransport frames JSON text with a delimiter ("\x00" when empty).
// Any sequence that never appears in encoded JSON works, e.g. "\n\n\n\n".
func NewJSONTransport(rwc io.ReadWriteCloser, delimiter string, opts ...Option) *StreamTransport {
	return NewStreamTransport(rwc, protocol.NewDelimitedFramer(rwc, delimiter), &codec.JSONCodec{}, opts...)
}

// NewBinaryTransport sends msgpack envelopes in length-prefixed frames, zstd-compressed if asked.
func NewBinaryTransport(rwc io.ReadWriteCloser, compress bool, opts ...Option) *StreamTransport {
	framer := protocol.NewLengthFramer(rwc, protocol.CodecTypeBinary, compress)
	return NewStreamTransport(rwc, framer, &codec.BinaryCodec{}, opts...)
}

// Send encodes and writes one envelope. Encoding errors leave the connection usable;
// write errors close it.
func (t *StreamTransport) Send(msg message.Map) error {
	if t.isClosed() {
		return ErrClosed
	}
	body, err := t.codec.Encode(msg)
	if err != nil {
		return pkgerrors.Wrap(err, "transport: encode")
	}
	if err := t.framer.WriteFrame(body); err != nil {
		if t.isClosed() {
			return ErrClosed
		}
		log.Warningf("send failed, closing: %v", err)
		t.terminate(err)
		return pkgerrors.Wrap(err, "transport: write")
	}
	return nil
}

// Close releases the stream and waits for the read loop to exit.
// It is safe to call from a close observer, and from the receiver itself: the read loop
// is not joined then and exits once the receiver returns.
func (t *StreamTransport) Close() error {
	t.terminate(nil)
	t.join(t.done)
	return nil
}

// Done is closed once the read loop has exited.
func (t *StreamTransport) Done() <-chan struct{} {
	return t.done
}

// readLoop is the only reader of the stream; frame boundaries can only be found sequentially.
func (t *StreamTransport) readLoop() {
	var cause error
	defer func() {
		// done first, so an observer calling Close does not wait on itself.
		close(t.done)
		t.terminate(cause)
	}()

	for {
		body, err := t.framer.ReadFrame()
		if err != nil {
			if !t.isClosed() && !isDisconnect(err) {
				log.Errorf("read loop failed: %v", err)
				cause = err
			}
			return
		}

		msg, err := t.codec.Decode(body)
		if err != nil {
			log.Errorf("read loop failed to decode a frame: %v", err)
			cause = err
			return
		}

		if err := t.loopDeliver(msg); err != nil {
			if !errors.Is(err, ErrClosed) {
				cause = err
			}
			return
		}
	}
}

// heartbeatLoop writes empty keepalive frames until the transport closes.
func (t *StreamTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if t.isClosed() {
				return
			}
			if err := t.framer.WriteFrame(nil); err != nil {
				return
			}
		}
	}
}

// isDisconnect reports errors that just mean the peer is gone.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
