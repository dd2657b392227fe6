package arraystream

import (
	"bytes"
	"encoding/json"
)

// A Decoder turns the bytes of one element into a value.  The data passed to
// Decode is owned by the Decoder.
type Decoder[T any] interface {
	Decode(data []byte) (T, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc[T any] func(data []byte) (T, error)

func (f DecoderFunc[T]) Decode(data []byte) (T, error) {
	return f(data)
}

// JSONDecoder decodes elements with encoding/json.  Its zero value behaves
// like json.Unmarshal.
type JSONDecoder[T any] struct {
	// Reject objects with keys that do not match a field of T.
	DisallowUnknownFields bool

	// Decode numbers in interface values as json.Number.
	UseNumber bool
}

var _ Decoder[any] = JSONDecoder[any]{}

func (d JSONDecoder[T]) Decode(data []byte) (T, error) {
	var v T
	if !d.DisallowUnknownFields && !d.UseNumber {
		err := json.Unmarshal(data, &v)
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if d.DisallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if d.UseNumber {
		dec.UseNumber()
	}
	err := dec.Decode(&v)
	return v, err
}

// RawDecoder returns the bytes of each element unchanged.
type RawDecoder struct{}

var _ Decoder[json.RawMessage] = RawDecoder{}

func (RawDecoder) Decode(data []byte) (json.RawMessage, error) {
	return data, nil
}
