// Package protocol splits a byte stream into frames.
//
// Two framings are supported. The binary framing uses a fixed-size 10-byte header followed by a
// variable-length body; the receiver reads the header first to learn the body length, then reads
// exactly that many bytes:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│fl│ bodyLen │    body ...    │
//	│ mrp  │02│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
//
// Flags bit 0 marks a zstd-compressed body. The text framing (see DelimitedFramer) terminates
// every frame with a delimiter that never appears inside encoded JSON.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "mrp".
// Used to quickly reject non-protocol connections (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x02
	HeaderSize  int  = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (flags) + 4 (bodyLen)

	// MaxFrameSize bounds a single frame body, compressed or not.
	MaxFrameSize = 16 << 20
)

// Flags carried in the header.
const (
	FlagCompressed byte = 1 << 0
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// Header represents the fixed 10-byte frame header.
type Header struct {
	CodecType byte   // Serialization format: 0=JSON, 1=Binary
	Flags     byte   // FlagCompressed
	BodyLen   uint32 // Body length in bytes, after compression
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different envelopes will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	h.BodyLen = uint32(len(body))

	// Header and body go out in one Write so a concurrent reader never sees half a header.
	buf := make([]byte, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = h.Flags
	binary.BigEndian.PutUint32(buf[6:10], h.BodyLen)
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version and codec type, and refuses oversized bodies before
// allocating them.
func Decode(r io.Reader) (*Header, []byte, error) {
	// Step 1: Read the fixed header
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	// Step 2: Validate magic number
	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	// Step 3: Validate version
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	// Step 4: Validate codec type
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	// Step 5: Body length, bounded
	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxFrameSize {
		return nil, nil, ErrFrameTooLarge
	}

	// Step 6: Read exactly bodyLen bytes
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		Flags:     headerBuf[5],
		BodyLen:   bodyLen,
	}, body, nil
}
