package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachegraph/entity"
)

// Async forwards events to an inner Recorder from a bounded worker pool.
// Events are dropped when the queue is full.
//
//	rec := metrics.NewAsync(collector, 1, 1000) // 1 worker; queue 1000 events
//	defer rec.Close()
type Async struct {
	inner   Recorder
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var _ Recorder = (*Async)(nil)

func NewAsync(inner Recorder, workers, qlen int) *Async {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	a := &Async{inner: OrNop(inner), q: make(chan func(), qlen)}
	a.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer a.wg.Done()
			for f := range a.q {
				f()
			}
		}()
	}
	return a
}

// Close drains queued events and stops the workers. Later events are dropped.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.q)
		a.mu.Unlock()
		a.wg.Wait()
	})
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) try(f func()) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.q <- f:
	default:
		a.dropped.Add(1)
	}
}

func (a *Async) Hit(t entity.Type, d time.Duration)  { a.try(func() { a.inner.Hit(t, d) }) }
func (a *Async) Miss(t entity.Type, d time.Duration) { a.try(func() { a.inner.Miss(t, d) }) }
func (a *Async) Set(t entity.Type, d time.Duration)  { a.try(func() { a.inner.Set(t, d) }) }
func (a *Async) Error(op string, t entity.Type)      { a.try(func() { a.inner.Error(op, t) }) }
func (a *Async) Invalidation(p string, s, n int, d time.Duration) {
	a.try(func() { a.inner.Invalidation(p, s, n, d) })
}
func (a *Async) LockAcquire(r string, ok bool, d time.Duration) {
	a.try(func() { a.inner.LockAcquire(r, ok, d) })
}
func (a *Async) LockRelease(r string, ok bool, d time.Duration) {
	a.try(func() { a.inner.LockRelease(r, ok, d) })
}
