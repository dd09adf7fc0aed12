package protocol

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Shared stateless zstd coders. EncodeAll/DecodeAll are safe for concurrent use.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func coders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Compress returns the zstd encoding of body.
func Compress(body []byte) ([]byte, error) {
	enc, _, err := coders()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(body, make([]byte, 0, len(body)/2+64)), nil
}

// Decompress reverses Compress, refusing output above MaxFrameSize.
func Decompress(body []byte) ([]byte, error) {
	_, dec, err := coders()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, err
	}
	if len(out) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return out, nil
}
