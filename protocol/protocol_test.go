package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeBinary,
		Flags:     FlagCompressed,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame size mismatch: got %d", buf.Len())
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.Flags != header.Flags {
		t.Errorf("Flags mismatch: got %d, want %d", decodedHeader.Flags, header.Flags)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestDecodeRejects(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		_ = Encode(&buf, &Header{CodecType: CodecTypeJSON}, []byte("{}"))
		return buf.Bytes()
	}

	badMagic := valid()
	badMagic[0] = 'x'
	badVersion := valid()
	badVersion[3] = 0x01
	badCodec := valid()
	badCodec[4] = 9
	tooLarge := valid()
	binary.BigEndian.PutUint32(tooLarge[6:10], MaxFrameSize+1)
	truncated := valid()[:HeaderSize+1]

	for name, frame := range map[string][]byte{
		"magic":     badMagic,
		"version":   badVersion,
		"codec":     badCodec,
		"too large": tooLarge,
		"truncated": truncated,
	} {
		if _, _, err := Decode(bytes.NewReader(frame)); err == nil {
			t.Errorf("%s: expect error", name)
		}
	}

	if _, _, err := Decode(bytes.NewReader(tooLarge)); err != ErrFrameTooLarge {
		t.Errorf("expect ErrFrameTooLarge, got %v", err)
	}
	if _, _, err := Decode(bytes.NewReader(truncated)); err != io.ErrUnexpectedEOF {
		t.Errorf("expect io.ErrUnexpectedEOF, got %v", err)
	}
}

// rwBuffer glues a reader and a writer into one io.ReadWriter.
type rwBuffer struct {
	io.Reader
	io.Writer
}

func TestDelimitedFramer(t *testing.T) {
	for _, delim := range []string{"", "\n\n\n\n"} {
		var wire bytes.Buffer
		w := NewDelimitedFramer(rwBuffer{strings.NewReader(""), &wire}, delim)
		for _, body := range []string{`{"foo":"bar"}`, `{"one":2}`} {
			if err := w.WriteFrame([]byte(body)); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
		}
		// A stray delimiter between frames is an empty frame and must be skipped.
		wire.WriteString(w.Delimiter())

		r := NewDelimitedFramer(rwBuffer{&wire, io.Discard}, delim)
		for _, want := range []string{`{"foo":"bar"}`, `{"one":2}`} {
			got, err := r.ReadFrame()
			if err != nil {
				t.Fatalf("delimiter %q: ReadFrame failed: %v", delim, err)
			}
			if string(got) != want {
				t.Fatalf("delimiter %q: got %q, want %q", delim, got, want)
			}
		}
		if _, err := r.ReadFrame(); err != io.EOF {
			t.Fatalf("delimiter %q: expect io.EOF, got %v", delim, err)
		}
	}
}

func TestDelimitedFramerSplitReads(t *testing.T) {
	// Deliver the stream one byte at a time, as a slow link would.
	pr, pw := io.Pipe()
	go func() {
		for _, b := range []byte("{\"a\":\"\n\n\"}\n\n\n\n{\"b\":1}\n\n\n\n") {
			pw.Write([]byte{b})
		}
		pw.Close()
	}()

	r := NewDelimitedFramer(rwBuffer{pr, io.Discard}, "\n\n\n\n")
	for _, want := range []string{"{\"a\":\"\n\n\"}", `{"b":1}`} {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestDelimitedFramerErrors(t *testing.T) {
	f := NewDelimitedFramer(rwBuffer{strings.NewReader(`{"x":1}`), io.Discard}, "")
	if err := f.WriteFrame([]byte("a\x00b")); err == nil {
		t.Fatal("expect error writing a body that contains the delimiter")
	}
	if _, err := f.ReadFrame(); err != io.ErrUnexpectedEOF {
		t.Fatalf("expect io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestLengthFramer(t *testing.T) {
	body := bytes.Repeat([]byte("duplex "), 1000)

	for _, compress := range []bool{false, true} {
		var wire bytes.Buffer
		w := NewLengthFramer(rwBuffer{strings.NewReader(""), &wire}, CodecTypeBinary, compress)
		if err := w.WriteFrame(body); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
		if compress && wire.Len() >= len(body) {
			t.Fatalf("compressed frame not smaller: %d >= %d", wire.Len(), len(body))
		}

		// The reader decompresses whatever the writer chose.
		r := NewLengthFramer(rwBuffer{&wire, io.Discard}, CodecTypeBinary, !compress)
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("compress=%v: body mismatch", compress)
		}
	}
}

func TestLengthFramerCodecMismatch(t *testing.T) {
	var wire bytes.Buffer
	_ = NewLengthFramer(rwBuffer{strings.NewReader(""), &wire}, CodecTypeJSON, false).WriteFrame([]byte("{}"))
	r := NewLengthFramer(rwBuffer{&wire, io.Discard}, CodecTypeBinary, false)
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("expect codec mismatch error")
	}
}

func TestEmptyFramesAreSkipped(t *testing.T) {
	var wire bytes.Buffer
	w := NewLengthFramer(rwBuffer{strings.NewReader(""), &wire}, CodecTypeBinary, true)
	for _, body := range [][]byte{nil, []byte("x"), nil} {
		if err := w.WriteFrame(body); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	r := NewLengthFramer(rwBuffer{&wire, io.Discard}, CodecTypeBinary, false)
	got, err := r.ReadFrame()
	if err != nil || string(got) != "x" {
		t.Fatalf("expect x, got %q (%v)", got, err)
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("expect io.EOF after trailing keepalive, got %v", err)
	}
}
