package metrics

import (
	"time"

	"github.com/unkn0wn-root/cachegraph/entity"
)

type tee []Recorder

// Tee returns a Recorder forwarding every event to each r in order. Nil
// recorders, typed nil pointers included, are skipped.
func Tee(rs ...Recorder) Recorder {
	out := make(tee, 0, len(rs))
	for _, r := range rs {
		if !isNil(r) {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return out
}

func (t tee) Hit(e entity.Type, d time.Duration) {
	for _, r := range t {
		r.Hit(e, d)
	}
}

func (t tee) Miss(e entity.Type, d time.Duration) {
	for _, r := range t {
		r.Miss(e, d)
	}
}

func (t tee) Set(e entity.Type, d time.Duration) {
	for _, r := range t {
		r.Set(e, d)
	}
}

func (t tee) Error(op string, e entity.Type) {
	for _, r := range t {
		r.Error(op, e)
	}
}

func (t tee) Invalidation(pattern string, scanned, deleted int, d time.Duration) {
	for _, r := range t {
		r.Invalidation(pattern, scanned, deleted, d)
	}
}

func (t tee) LockAcquire(resource string, acquired bool, d time.Duration) {
	for _, r := range t {
		r.LockAcquire(resource, acquired, d)
	}
}

func (t tee) LockRelease(resource string, released bool, held time.Duration) {
	for _, r := range t {
		r.LockRelease(resource, released, held)
	}
}
