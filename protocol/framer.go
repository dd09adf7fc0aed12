package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultDelimiter terminates text frames unless another one is configured.
const DefaultDelimiter = "\x00"

// Framer reads and writes whole frames on one stream.
// WriteFrame is safe for concurrent use; ReadFrame must only be called from a single reader.
// An empty frame carries nothing and is skipped by ReadFrame, which makes it usable as a keepalive.
type Framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(body []byte) error
}

// DelimitedFramer terminates every frame with a delimiter sequence.
// Several bytes may be used, e.g. "\n\n\n\n", as long as the sequence never appears in a body.
type DelimitedFramer struct {
	r     *bufio.Reader
	w     io.Writer
	delim []byte
	mu    sync.Mutex
}

func NewDelimitedFramer(rw io.ReadWriter, delimiter string) *DelimitedFramer {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return &DelimitedFramer{r: bufio.NewReader(rw), w: rw, delim: []byte(delimiter)}
}

func (f *DelimitedFramer) Delimiter() string { return string(f.delim) }

func (f *DelimitedFramer) WriteFrame(body []byte) error {
	if bytes.Contains(body, f.delim) {
		return fmt.Errorf("protocol: frame body contains the delimiter %q", f.delim)
	}
	buf := make([]byte, 0, len(body)+len(f.delim))
	buf = append(buf, body...)
	buf = append(buf, f.delim...)

	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.w.Write(buf)
	return err
}

// ReadFrame returns the next body without its delimiter. Empty frames are skipped.
// A stream ending in the middle of a frame yields io.ErrUnexpectedEOF.
func (f *DelimitedFramer) ReadFrame() ([]byte, error) {
	last := f.delim[len(f.delim)-1]
	var frame []byte
	for {
		chunk, err := f.r.ReadBytes(last)
		frame = append(frame, chunk...)
		if err != nil {
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(frame)) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if bytes.HasSuffix(frame, f.delim) {
			body := frame[:len(frame)-len(f.delim)]
			if len(body) == 0 {
				frame = frame[:0]
				continue
			}
			return body, nil
		}
		if len(frame) > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
	}
}

// LengthFramer writes binary frames with the fixed header, compressing bodies when asked.
type LengthFramer struct {
	r         *bufio.Reader
	w         io.Writer
	codecType byte
	compress  bool
	mu        sync.Mutex
}

func NewLengthFramer(rw io.ReadWriter, codecType byte, compress bool) *LengthFramer {
	return &LengthFramer{r: bufio.NewReader(rw), w: rw, codecType: codecType, compress: compress}
}

func (f *LengthFramer) WriteFrame(body []byte) error {
	h := &Header{CodecType: f.codecType}
	if f.compress && len(body) > 0 {
		packed, err := Compress(body)
		if err != nil {
			return err
		}
		body = packed
		h.Flags |= FlagCompressed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return Encode(f.w, h, body)
}

// ReadFrame accepts compressed and plain frames regardless of the local setting,
// but rejects a codec type other than the configured one. Empty frames are skipped.
func (f *LengthFramer) ReadFrame() ([]byte, error) {
	for {
		h, body, err := Decode(f.r)
		if err != nil {
			return nil, err
		}
		if h.CodecType != f.codecType {
			return nil, fmt.Errorf("protocol: unexpected codec type %d, want %d", h.CodecType, f.codecType)
		}
		if len(body) == 0 {
			continue
		}
		if h.Flags&FlagCompressed != 0 {
			return Decompress(body)
		}
		return body, nil
	}
}
