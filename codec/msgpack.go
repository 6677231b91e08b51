package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values using vmihailenco/msgpack/v5.
// The zero value is ready to use.
//
// Msgpack is compact and fast; be mindful of struct tag differences vs JSON.
// Use `msgpack:"fieldName"` tags if you need explicit control.
type Msgpack struct{}

var _ Codec = Msgpack{}

func (Msgpack) ID() byte     { return IDMsgpack }
func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack) Decode(b []byte, dst any) error {
	return msgpack.Unmarshal(b, dst)
}
