package codec

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type order struct {
	ID      int64     `json:"id" msgpack:"id" cbor:"id"`
	Status  string    `json:"status" msgpack:"status" cbor:"status"`
	Planned time.Time `json:"planned" msgpack:"planned" cbor:"planned"`
}

func TestStructCodecsRoundTrip(t *testing.T) {
	in := order{ID: 7, Status: "open", Planned: time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)}
	codecs := []Codec{JSON{}, Msgpack{}, MustCBOR(false), MustCBOR(true)}
	for _, c := range codecs {
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("%s encode: %v", c.Name(), err)
		}
		var out order
		if err := c.Decode(b, &out); err != nil {
			t.Fatalf("%s decode: %v", c.Name(), err)
		}
		if out.ID != in.ID || out.Status != in.Status || !out.Planned.Equal(in.Planned) {
			t.Fatalf("%s mismatch: got %+v want %+v", c.Name(), out, in)
		}
	}
}

func TestIDsDistinct(t *testing.T) {
	seen := map[byte]string{}
	for _, c := range []Codec{JSON{}, Msgpack{}, MustCBOR(false), Protobuf{}, Raw{}} {
		if c.ID() == 0 {
			t.Fatalf("%s has zero id", c.Name())
		}
		if other, ok := seen[c.ID()]; ok {
			t.Fatalf("%s and %s share id %d", c.Name(), other, c.ID())
		}
		seen[c.ID()] = c.Name()
	}
}

func TestProtobuf(t *testing.T) {
	c := Protobuf{}
	b, err := c.Encode(wrapperspb.String("hello"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := &wrapperspb.StringValue{}
	if err := c.Decode(b, out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.GetValue() != "hello" {
		t.Fatalf("got %q", out.GetValue())
	}

	if _, err := c.Encode("not a message"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	var s string
	if err := c.Decode(b, &s); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestRaw(t *testing.T) {
	c := Raw{}
	b, err := c.Encode("abc")
	if err != nil || string(b) != "abc" {
		t.Fatalf("encode string: %q %v", b, err)
	}
	var s string
	if err := c.Decode([]byte("xyz"), &s); err != nil || s != "xyz" {
		t.Fatalf("decode string: %q %v", s, err)
	}
	var bs []byte
	if err := c.Decode([]byte("xyz"), &bs); err != nil || string(bs) != "xyz" {
		t.Fatalf("decode bytes: %q %v", bs, err)
	}
	if _, err := c.Encode(42); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestLimit(t *testing.T) {
	c := Limit{Inner: JSON{}, MaxDecode: 8}
	if c.ID() != IDJSON {
		t.Fatalf("limit must keep inner id")
	}
	var v string
	if err := c.Decode([]byte(`"0123456789"`), &v); err == nil {
		t.Fatalf("expected size error")
	}
	if err := c.Decode([]byte(`"ok"`), &v); err != nil || v != "ok" {
		t.Fatalf("small payload: %q %v", v, err)
	}
}
