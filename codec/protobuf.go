package codec

import "google.golang.org/protobuf/proto"

// Protobuf handles values implementing proto.Message. Decode targets must be
// a proto.Message too (e.g. &mypb.Order{}).
type Protobuf struct{}

var _ Codec = Protobuf{}

func (Protobuf) ID() byte     { return IDProtobuf }
func (Protobuf) Name() string { return "protobuf" }

func (c Protobuf) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, unsupported(c, v)
	}
	return proto.Marshal(m)
}

func (c Protobuf) Decode(b []byte, dst any) error {
	m, ok := dst.(proto.Message)
	if !ok {
		return unsupported(c, dst)
	}
	return proto.Unmarshal(b, m)
}
