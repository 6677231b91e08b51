// Package metrics accumulates cache and lock counters in memory.
//
// Components report through the Recorder interface. Implementations MUST be
// cheap and non-blocking: they are called on every cache read.
package metrics

import (
	"reflect"
	"time"

	"github.com/unkn0wn-root/cachegraph/entity"
)

// Operation labels used for latency and error accounting.
const (
	OpGet         = "get"
	OpSet         = "set"
	OpInvalidate  = "invalidate"
	OpLockAcquire = "lock_acquire"
	OpLockRelease = "lock_release"
)

type Recorder interface {
	Hit(t entity.Type, latency time.Duration)
	Miss(t entity.Type, latency time.Duration)
	Set(t entity.Type, latency time.Duration)

	// Error counts a store failure for op; t is empty when unknown.
	Error(op string, t entity.Type)

	// Invalidation reports one pattern sweep.
	Invalidation(pattern string, scanned, deleted int, latency time.Duration)

	LockAcquire(resource string, acquired bool, latency time.Duration)
	// LockRelease reports a release attempt; held is the time since acquire.
	LockRelease(resource string, released bool, held time.Duration)
}

// Nop is the default no-op Recorder.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) Hit(entity.Type, time.Duration) {}
func (Nop) Miss(entity.Type, time.Duration) {}
func (Nop) Set(entity.Type, time.Duration) {}
func (Nop) Error(string, entity.Type) {}
func (Nop) Invalidation(string, int, int, time.Duration) {}
func (Nop) LockAcquire(string, bool, time.Duration) {}
func (Nop) LockRelease(string, bool, time.Duration) {}

// OrNop returns r, or Nop when r is nil or a nil pointer.
func OrNop(r Recorder) Recorder {
	if isNil(r) {
		return Nop{}
	}
	return r
}

func isNil(r Recorder) bool {
	if r == nil {
		return true
	}
	rv := reflect.ValueOf(r)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
