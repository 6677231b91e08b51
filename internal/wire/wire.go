// Package wire frames cached values so a reader can reject foreign or
// truncated entries before handing bytes to a codec.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("cachegraph: corrupt entry")
	magic4     = [...]byte{'C', 'G', 'R', 'F'}
)

// Envelope is one decoded cache entry.
type Envelope struct {
	Codec    byte
	StoredAt time.Time
	Payload  []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode: magic(4) | ver(1) | codec(1) | storedAt unix ms(u64 be) | vlen(u32 be) | payload(vlen)
func Encode(codecID byte, storedAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(codecID)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(storedAt.UnixMilli()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode parses b strictly: trailing bytes are corruption. Payload aliases b.
func Decode(b []byte) (Envelope, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] == 0 {
		return Envelope{}, ErrCorrupt
	}

	off := 6

	ms := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Envelope{}, ErrCorrupt
	}

	return Envelope{
		Codec:    b[5],
		StoredAt: time.UnixMilli(ms),
		Payload:  b[off : off+vlen],
	}, nil
}
