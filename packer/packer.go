// Package packer encodes queue entries and deliveries with msgpack.
package packer

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeMessage marshals v to msgpack. Struct fields are keyed by their
// msgpack tags, falling back to json tags.
func EncodeMessage(v any) ([]byte, error) {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	var buf bytes.Buffer
	enc.Reset(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessage unmarshals msgpack data into v.
func DecodeMessage(data []byte, v any) error {
	return NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Encoder writes a stream of msgpack values to w.
type Encoder struct {
	enc *msgpack.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	return &Encoder{enc: enc}
}

func (e *Encoder) Encode(v any) error {
	return e.enc.Encode(v)
}

// Decoder reads a stream of msgpack values from r.
type Decoder struct {
	dec *msgpack.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag("json")
	return &Decoder{dec: dec}
}

// Decode reads the next value into v. It returns io.EOF at the end of the
// stream.
func (d *Decoder) Decode(v any) error {
	return d.dec.Decode(v)
}
