package codec

// Raw is an identity codec for []byte and string values. Useful when the
// caller already holds a serialized payload and only wants the envelope.
type Raw struct{}

var _ Codec = Raw{}

func (Raw) ID() byte     { return IDRaw }
func (Raw) Name() string { return "raw" }

func (c Raw) Encode(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	}
	return nil, unsupported(c, v)
}

func (c Raw) Decode(b []byte, dst any) error {
	switch d := dst.(type) {
	case *[]byte:
		*d = append((*d)[:0], b...)
	case *string:
		*d = string(b)
	default:
		return unsupported(c, dst)
	}
	return nil
}
