// Package codec serializes cached values. The codec id is written into every
// stored envelope, so an entry written with one codec is never decoded with
// another.
package codec

import (
	"errors"
	"fmt"
)

// Codec encodes values to []byte and decodes them into a destination pointer.
type Codec interface {
	// ID identifies the codec inside stored envelopes. Must be non-zero.
	ID() byte
	Name() string
	Encode(v any) ([]byte, error)
	// Decode unmarshals b into dst, which must be a non-nil pointer.
	Decode(b []byte, dst any) error
}

const (
	IDJSON     byte = 1
	IDMsgpack  byte = 2
	IDCBOR     byte = 3
	IDProtobuf byte = 4
	IDRaw      byte = 5
)

// ErrUnsupported is returned when a codec cannot handle the given Go type.
var ErrUnsupported = errors.New("codec: unsupported type")

func unsupported(c Codec, v any) error {
	return fmt.Errorf("%w: %s cannot handle %T", ErrUnsupported, c.Name(), v)
}
