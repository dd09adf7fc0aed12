// Package codec turns envelope dictionaries into bytes and back.
//
// A codec only handles one envelope at a time; splitting a byte stream into envelopes is the
// job of the framers in package protocol.
package codec

import (
	"errors"

	"duplex-rpc/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "binary"
}

// ErrNotAMap is returned when a payload decodes to something other than a dictionary.
var ErrNotAMap = errors.New("codec: envelope is not a map")

type Codec interface {
	Encode(m message.Map) ([]byte, error)
	Decode(data []byte) (message.Map, error)
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
