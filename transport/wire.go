package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	pkgerrors "github.com/pkg/errors"

	"duplex-rpc/codec"
)

// Wire selects how a stream transport frames and encodes envelopes.
// Both sides of a connection must agree on it.
type Wire struct {
	Codec     codec.CodecType
	Delimiter string // JSON only, "\x00" when empty
	Compress  bool   // binary only
}

// Wrap builds the stream transport described by w over rwc.
func (w Wire) Wrap(rwc io.ReadWriteCloser, opts ...Option) *StreamTransport {
	if w.Codec == codec.CodecTypeBinary {
		return NewBinaryTransport(rwc, w.Compress, opts...)
	}
	return NewJSONTransport(rwc, w.Delimiter, opts...)
}

func (w Wire) String() string {
	if w.Codec == codec.CodecTypeBinary {
		return fmt.Sprintf("binary(compress=%v)", w.Compress)
	}
	return fmt.Sprintf("json(delimiter=%q)", w.Delimiter)
}

// Dial connects to address and wraps the connection as described by w.
func Dial(ctx context.Context, network, address string, w Wire, opts ...Option) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "transport: dial %s", address)
	}
	return w.Wrap(conn, opts...), nil
}
