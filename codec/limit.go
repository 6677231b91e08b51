package codec

import "fmt"

// Limit wraps another codec to enforce a maximum payload size at Decode time.
// Encode is forwarded to Inner unchanged. If MaxDecode <= 0, size limiting is
// disabled.
//
// Typical use: protect against oversized inputs coming from a shared cache.
type Limit struct {
	// Inner is the underlying codec being wrapped. It must be set.
	Inner Codec
	// MaxDecode is the maximum permitted payload length in bytes.
	MaxDecode int
}

var _ Codec = Limit{}

func (c Limit) ID() byte                     { return c.Inner.ID() }
func (c Limit) Name() string                 { return c.Inner.Name() }
func (c Limit) Encode(v any) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit) Decode(b []byte, dst any) error {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		return fmt.Errorf("codec: payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b, dst)
}
