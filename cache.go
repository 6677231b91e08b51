package cachegraph

import (
	"context"
	"reflect"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/cachegraph/codec"
	"github.com/unkn0wn-root/cachegraph/entity"
	"github.com/unkn0wn-root/cachegraph/internal/wire"
	"github.com/unkn0wn-root/cachegraph/invalidation"
	"github.com/unkn0wn-root/cachegraph/lock"
	"github.com/unkn0wn-root/cachegraph/metrics"
	pr "github.com/unkn0wn-root/cachegraph/provider"
	"github.com/unkn0wn-root/cachegraph/ttl"
)

// Cache is safe for concurrent use. Construct it with New.
type Cache struct {
	provider pr.Provider
	codec    c.Codec
	ttl      ttl.Policy
	stats    *metrics.Collector
	rec      metrics.Recorder
	log      Logger
	hooks    Hooks
	now      func() time.Time
	enabled  bool

	inv   *invalidation.Engine
	locks *lock.Manager
	sf    singleflight.Group
}

func newCache(opts Options) (*Cache, error) {
	if !opts.Disabled && opts.Provider == nil {
		return nil, ErrNoProvider
	}

	policy := ttl.DefaultPolicy()
	if opts.TTL != nil {
		policy = *opts.TTL
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	var cd c.Codec = c.JSON{}
	if opts.Codec != nil {
		cd = opts.Codec
	}
	if cd.ID() == 0 {
		return nil, ErrNoCodecID
	}

	stats := opts.Stats
	if stats == nil {
		stats = metrics.NewCollector(metrics.Options{})
	}

	ch := &Cache{
		provider: opts.Provider,
		codec:    cd,
		ttl:      policy,
		stats:    stats,
		rec:      metrics.Tee(stats, opts.Recorder),
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
		now:      opts.Now,
		enabled:  !opts.Disabled,
	}
	if ch.now == nil {
		ch.now = time.Now
	}

	if opts.Provider != nil {
		var err error
		if ch.inv, err = invalidation.New(opts.Provider, opts.Invalidation, ch.rec, ch.log); err != nil {
			return nil, err
		}
		if ch.locks, err = lock.New(opts.Provider, opts.Lock, ch.rec, ch.log); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

func (ch *Cache) Enabled() bool { return ch.enabled }

// Close closes the provider. The cache is unusable afterwards.
func (ch *Cache) Close(ctx context.Context) error {
	if ch.provider != nil {
		return ch.provider.Close(ctx)
	}
	return nil
}

// reserved reports keys that must never be read or written as cache entries.
func (ch *Cache) reserved(key string) bool {
	if key == "" || strings.HasPrefix(key, lock.Prefix) {
		ch.hooks.ReservedKey(key)
		ch.log.Warn("cache key refused", Fields{"key": key})
		return true
	}
	return false
}

// Get looks key up and decodes a hit into dst, which must be a non-nil
// pointer. It returns false on a miss and on every failure. Corrupt frames
// and entries written by another codec are deleted and reported as a miss.
// A payload that does not decode into dst is a miss but stays stored: other
// readers may hold the matching type.
func (ch *Cache) Get(ctx context.Context, key string, t entity.Type, dst any) bool {
	if !ch.enabled || ch.reserved(key) {
		return false
	}
	if rv := reflect.ValueOf(dst); rv.Kind() != reflect.Pointer || rv.IsNil() {
		ch.log.Warn("cache get needs a non-nil pointer", Fields{"key": key, "dst": reflect.TypeOf(dst)})
		return false
	}

	start := time.Now()
	raw, ok, err := ch.provider.Get(ctx, key)
	if err != nil {
		ch.rec.Error(metrics.OpGet, t)
		ch.rec.Miss(t, time.Since(start))
		ch.log.Warn("cache get failed", Fields{"key": key, "entity": string(t), "err": err})
		return false
	}
	if !ok {
		ch.rec.Miss(t, time.Since(start))
		return false
	}

	env, err := wire.Decode(raw)
	switch {
	case err != nil:
		ch.heal(ctx, key, t, HealCorrupt)
		ch.rec.Miss(t, time.Since(start))
		return false
	case env.Codec != ch.codec.ID():
		ch.heal(ctx, key, t, HealCodecMismatch)
		ch.rec.Miss(t, time.Since(start))
		return false
	}
	if err := ch.codec.Decode(env.Payload, dst); err != nil {
		ch.rec.Miss(t, time.Since(start))
		ch.log.Warn("cache value decode failed", Fields{"key": key, "entity": string(t), "codec": ch.codec.Name(), "err": err})
		return false
	}
	ch.rec.Hit(t, time.Since(start))
	return true
}

func (ch *Cache) heal(ctx context.Context, key string, t entity.Type, reason string) {
	if _, err := ch.provider.Del(ctx, key); err != nil {
		ch.rec.Error(metrics.OpGet, t)
		ch.log.Warn("cache self-heal delete failed", Fields{"key": key, "reason": reason, "err": err})
	}
	ch.hooks.SelfHeal(key, reason)
	ch.log.Debug("cache entry self-healed", Fields{"key": key, "entity": string(t), "reason": reason})
}

// Set stores value under key with the effective TTL of t. It reports
// whether the entry was written; a disabled cache reports true.
func (ch *Cache) Set(ctx context.Context, key string, value any, t entity.Type) bool {
	if !ch.enabled {
		return true
	}
	if ch.reserved(key) {
		return false
	}

	start := time.Now()
	payload, err := ch.codec.Encode(value)
	if err != nil {
		ch.hooks.EncodeFailed(key, err)
		ch.rec.Error(metrics.OpSet, t)
		ch.log.Warn("cache encode failed", Fields{"key": key, "codec": ch.codec.Name(), "err": err})
		return false
	}

	frame := wire.Encode(ch.codec.ID(), ch.now(), payload)
	if err := ch.provider.Set(ctx, key, frame, ch.ttl.Effective(t)); err != nil {
		ch.rec.Error(metrics.OpSet, t)
		ch.log.Warn("cache set failed", Fields{"key": key, "entity": string(t), "err": err})
		return false
	}
	ch.rec.Set(t, time.Since(start))
	return true
}

// TTL returns the effective lifetime Set would use for t.
func (ch *Cache) TTL(t entity.Type) time.Duration { return ch.ttl.Effective(t) }

// InvalidateByPattern deletes every key matching pattern. See
// invalidation.Engine.InvalidateByPattern.
func (ch *Cache) InvalidateByPattern(ctx context.Context, pattern string) int {
	if !ch.enabled {
		return 0
	}
	return ch.inv.InvalidateByPattern(ctx, pattern)
}

// Invalidate sweeps the keys of t narrowed down by params.
func (ch *Cache) Invalidate(ctx context.Context, operation string, t entity.Type, params invalidation.Params) int {
	if !ch.enabled {
		return 0
	}
	return ch.inv.Invalidate(ctx, operation, t, params)
}

// InvalidateCrossEntity runs the fan-out rule of operation.
func (ch *Cache) InvalidateCrossEntity(ctx context.Context, operation string, params invalidation.Params) int {
	if !ch.enabled {
		return 0
	}
	return ch.inv.InvalidateCrossEntity(ctx, operation, params)
}

// AcquireLock tries once to lock resource. It returns nil when the lock is
// held elsewhere, on store failure, and when the cache is disabled.
func (ch *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) *lock.Lock {
	if !ch.enabled {
		return nil
	}
	return ch.locks.Acquire(ctx, resource, ttl)
}

// Locks returns the lock manager, nil for a cache built without a provider.
func (ch *Cache) Locks() *lock.Manager { return ch.locks }

// Invalidation returns the engine, nil for a cache built without a provider.
func (ch *Cache) Invalidation() *invalidation.Engine { return ch.inv }

// Stats returns the derived counters since construction or the last ResetStats.
func (ch *Cache) Stats() metrics.Summary { return ch.stats.Summary() }

// Snapshot returns a copy of every counter.
func (ch *Cache) Snapshot() metrics.Snapshot { return ch.stats.Snapshot() }

func (ch *Cache) ResetStats() { ch.stats.Reset() }
