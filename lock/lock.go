// Package lock provides a non-blocking distributed mutex on top of the
// shared store.
//
// A lock is the key "lock:<resource>" holding a per-acquisition owner token,
// written with SET NX PX. Release deletes the key only while it still holds
// the caller's token, so a holder whose lock expired and was taken over can
// never delete the new owner's lock.
//
// There is no waiting and no renewal: Acquire either wins immediately or
// returns nil, and a holder that outlives its TTL loses the lock silently.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/cachegraph/log"
	"github.com/unkn0wn-root/cachegraph/metrics"
	"github.com/unkn0wn-root/cachegraph/provider"
)

// Prefix is the keyspace reserved for locks.
const Prefix = "lock:"

// DefaultTTL applies when Acquire is called with ttl <= 0.
const DefaultTTL = 30 * time.Second

type Options struct {
	// DefaultTTL replaces a non-positive ttl passed to Acquire.
	DefaultTTL time.Duration
}

type Manager struct {
	p   provider.Provider
	ttl time.Duration
	rec metrics.Recorder
	log log.Logger
	pid int
}

// New returns a Manager over p. rec and logger may be nil.
func New(p provider.Provider, opts Options, rec metrics.Recorder, logger log.Logger) (*Manager, error) {
	if p == nil {
		return nil, errors.New("lock: provider is required")
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("lock: negative default ttl %s", opts.DefaultTTL)
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = DefaultTTL
	}
	return &Manager{
		p:   p,
		ttl: opts.DefaultTTL,
		rec: metrics.OrNop(rec),
		log: log.OrNop(logger),
		pid: os.Getpid(),
	}, nil
}

// Lock is a held lock. Release it exactly once; further calls are no-ops.
type Lock struct {
	m        *Manager
	resource string
	token    string
	ttl      time.Duration
	acquired time.Time

	mu       sync.Mutex
	released bool
}

func (l *Lock) Resource() string { return l.resource }

// Token is the owner token stored under Key.
func (l *Lock) Token() string { return l.token }

func (l *Lock) Key() string { return Prefix + l.resource }

// TTL is the expiry the lock was acquired with.
func (l *Lock) TTL() time.Duration { return l.ttl }

func (m *Manager) token() string {
	return fmt.Sprintf("%d-%d-%s", m.pid, time.Now().UnixNano(), uuid.NewString())
}

// Acquire tries once to take the lock on resource. It returns nil when the
// lock is held elsewhere, when the store fails, or for an empty resource.
func (m *Manager) Acquire(ctx context.Context, resource string, ttl time.Duration) *Lock {
	if resource == "" {
		m.log.Warn("lock acquire refused: empty resource", nil)
		return nil
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	tok := m.token()
	start := time.Now()
	ok, err := m.p.SetNX(ctx, Prefix+resource, tok, ttl)
	d := time.Since(start)
	if err != nil {
		m.rec.Error(metrics.OpLockAcquire, "")
		m.rec.LockAcquire(resource, false, d)
		m.log.Error("lock acquire failed", log.Fields{"resource": resource, "err": err})
		return nil
	}
	m.rec.LockAcquire(resource, ok, d)
	if !ok {
		m.log.Debug("lock held elsewhere", log.Fields{"resource": resource})
		return nil
	}

	m.log.Debug("lock acquired", log.Fields{"resource": resource, "ttl": ttl})
	return &Lock{
		m:        m,
		resource: resource,
		token:    tok,
		ttl:      ttl,
		acquired: time.Now(),
	}
}

// Release deletes the lock if this handle still owns it and reports whether
// it did. The handle counts as released afterwards even when the store
// call fails; the key then expires on its own.
func (l *Lock) Release(ctx context.Context) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return false
	}
	l.released = true

	m := l.m
	ok, err := m.p.CompareAndDelete(ctx, l.Key(), l.token)
	held := time.Since(l.acquired)
	if err != nil {
		m.rec.Error(metrics.OpLockRelease, "")
		m.rec.LockRelease(l.resource, false, held)
		m.log.Error("lock release failed", log.Fields{"resource": l.resource, "err": err})
		return false
	}
	m.rec.LockRelease(l.resource, ok, held)
	if !ok {
		m.log.Warn("lock no longer owned at release", log.Fields{
			"resource": l.resource,
			"held":     held,
			"ttl":      l.ttl,
		})
		return false
	}
	m.log.Debug("lock released", log.Fields{"resource": l.resource, "held": held})
	return true
}

// Do runs fn while holding the lock on resource. ran is false, and fn is
// not called, when the lock could not be taken. The lock is released when
// fn returns, even if ctx was cancelled meanwhile.
func (m *Manager) Do(ctx context.Context, resource string, ttl time.Duration, fn func(context.Context) error) (ran bool, err error) {
	l := m.Acquire(ctx, resource, ttl)
	if l == nil {
		return false, nil
	}
	defer l.Release(context.WithoutCancel(ctx))
	return true, fn(ctx)
}
