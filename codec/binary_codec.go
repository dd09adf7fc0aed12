package codec

import (
	"fmt"

	"duplex-rpc/message"

	"github.com/glycerine/greenpack/msgp"
)

// BinaryCodec encodes envelopes as a single msgpack map.
// It is more compact than JSON and keeps byte strings and integer widths intact.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(m message.Map) ([]byte, error) {
	// msgp only knows the plain value tree; anything else is converted first.
	plain, err := message.Normalize(m)
	if err != nil {
		return nil, fmt.Errorf("codec: binary: %w", err)
	}
	return msgp.AppendIntf(nil, plain)
}

func (c *BinaryCodec) Decode(data []byte) (message.Map, error) {
	v, rest, err := msgp.ReadIntfBytes(data)
	if err != nil {
		return nil, fmt.Errorf("codec: binary: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("codec: binary: %d trailing bytes", len(rest))
	}
	plain, err := message.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("codec: binary: %w", err)
	}
	m, ok := plain.(map[string]any)
	if !ok {
		return nil, ErrNotAMap
	}
	return m, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
