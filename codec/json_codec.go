package codec

import (
	"bytes"
	"fmt"

	"duplex-rpc/message"

	"github.com/goccy/go-json"
)

// JSONCodec encodes envelopes as JSON text.
// Numbers are decoded as json.Number so integer serials never pass through float64.
type JSONCodec struct{}

func (c *JSONCodec) Encode(m message.Map) ([]byte, error) {
	return json.Marshal(m)
}

func (c *JSONCodec) Decode(data []byte) (message.Map, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("codec: json: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotAMap
	}
	return m, nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
