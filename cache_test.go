package cachegraph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	c "github.com/unkn0wn-root/cachegraph/codec"
	"github.com/unkn0wn-root/cachegraph/entity"
	"github.com/unkn0wn-root/cachegraph/internal/wire"
	"github.com/unkn0wn-root/cachegraph/invalidation"
	pr "github.com/unkn0wn-root/cachegraph/provider"
	"github.com/unkn0wn-root/cachegraph/ttl"
)

type memEntry struct {
	v   []byte
	ttl time.Duration
}

type memProvider struct {
	mu    sync.Mutex
	m     map[string]memEntry
	calls atomic.Int64

	failGet error
	failSet error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failGet != nil {
		return nil, false, p.failGet
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet != nil {
		return p.failSet
	}
	p.m[key] = memEntry{v: value, ttl: ttl}
	return nil
}

func (p *memProvider) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.m[key]; ok {
		return false, nil
	}
	p.m[key] = memEntry{v: []byte(value), ttl: ttl}
	return true, nil
}

func (p *memProvider) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; !ok || string(e.v) != expected {
		return false, nil
	}
	delete(p.m, key)
	return true, nil
}

func (p *memProvider) Scan(_ context.Context, _ uint64, match string, _ int64) ([]string, uint64, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	var out []string
	for k := range p.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, 0, nil
}

func (p *memProvider) Del(_ context.Context, keys ...string) (int64, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := p.m[k]; ok {
			delete(p.m, k)
			n++
		}
	}
	return n, nil
}

func (p *memProvider) Ping(context.Context) error  { return nil }
func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) raw(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	return e.v, ok
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = memEntry{v: v}
}

type recHooks struct {
	mu       sync.Mutex
	heals    []string
	encode   int
	reserved int
}

func (h *recHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heals = append(h.heals, reason)
}

func (h *recHooks) EncodeFailed(string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.encode++
}

func (h *recHooks) ReservedKey(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reserved++
}

type order struct {
	ID     int64  `json:"id" msgpack:"id"`
	Status string `json:"status" msgpack:"status"`
}

func newTestCache(t *testing.T, mp pr.Provider, optsOpt func(*Options)) *Cache {
	t.Helper()
	opts := Options{Provider: mp}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)

	key := "order:detail:1:42"
	if !cc.Set(ctx, key, order{ID: 42, Status: "new"}, entity.Order) {
		t.Fatalf("Set returned false")
	}

	var got order
	if !cc.Get(ctx, key, entity.Order, &got) {
		t.Fatalf("expected hit")
	}
	if got != (order{ID: 42, Status: "new"}) {
		t.Fatalf("got %+v", got)
	}

	mp.mu.Lock()
	stored := mp.m[key].ttl
	mp.mu.Unlock()
	lo, hi := ttl.DefaultPolicy().Bounds(entity.Order)
	if stored < lo || stored > hi {
		t.Fatalf("ttl %s outside [%s, %s]", stored, lo, hi)
	}

	v, ok := GetAs[order](ctx, cc, key, entity.Order)
	if !ok || v.ID != 42 {
		t.Fatalf("GetAs = %+v, %v", v, ok)
	}
}

func TestGetMiss(t *testing.T) {
	cc := newTestCache(t, newMemProvider(), nil)
	var got order
	if cc.Get(context.Background(), "order:detail:1:1", entity.Order, &got) {
		t.Fatalf("expected miss")
	}
	s := cc.Stats()
	if s.Misses != 1 || s.Hits != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestStoredAtUsesClock(t *testing.T) {
	mp := newMemProvider()
	at := time.Date(2024, 3, 15, 14, 5, 9, 0, time.UTC)
	cc := newTestCache(t, mp, func(o *Options) { o.Now = func() time.Time { return at } })

	cc.Set(context.Background(), "customer:detail:1:4", map[string]string{"name": "ACME"}, entity.Customer)
	raw, ok := mp.raw("customer:detail:1:4")
	if !ok {
		t.Fatalf("entry not stored")
	}
	env, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.StoredAt.Equal(at) || env.Codec != c.IDJSON {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDisabledCacheNeverCallsProvider(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, func(o *Options) { o.Disabled = true })

	var got order
	if cc.Get(ctx, "order:detail:1:42", entity.Order, &got) {
		t.Fatalf("disabled Get must miss")
	}
	if !cc.Set(ctx, "order:detail:1:42", order{ID: 42}, entity.Order) {
		t.Fatalf("disabled Set must report true")
	}
	if n := cc.InvalidateByPattern(ctx, "order:*"); n != 0 {
		t.Fatalf("InvalidateByPattern = %d", n)
	}
	if n := cc.Invalidate(ctx, "UPDATE", entity.Order, invalidation.Params{TenantID: 1}); n != 0 {
		t.Fatalf("Invalidate = %d", n)
	}
	if n := cc.InvalidateCrossEntity(ctx, invalidation.OrderUpdate, invalidation.Params{TenantID: 1}); n != 0 {
		t.Fatalf("InvalidateCrossEntity = %d", n)
	}
	if l := cc.AcquireLock(ctx, "import", time.Second); l != nil {
		t.Fatalf("disabled AcquireLock must return nil")
	}
	if n := mp.calls.Load(); n != 0 {
		t.Fatalf("provider called %d times", n)
	}
	if cc.Enabled() {
		t.Fatalf("Enabled() = true")
	}

	if _, err := New(Options{Disabled: true}); err != nil {
		t.Fatalf("disabled cache without provider: %v", err)
	}
}

func TestSelfHeal(t *testing.T) {
	valid := wire.Encode(c.IDJSON, time.Now(), []byte(`{"id":1}`))

	tests := []struct {
		name   string
		raw    []byte
		reason string
	}{
		{"garbage", []byte("not a frame"), HealCorrupt},
		{"trailing bytes", append(append([]byte(nil), valid...), 0x00), HealCorrupt},
		{"foreign codec", wire.Encode(c.IDMsgpack, time.Now(), []byte{0x80}), HealCodecMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp := newMemProvider()
			h := &recHooks{}
			cc := newTestCache(t, mp, func(o *Options) { o.Hooks = h })

			key := "order:detail:1:1"
			mp.put(key, tt.raw)

			var got order
			if cc.Get(context.Background(), key, entity.Order, &got) {
				t.Fatalf("expected miss")
			}
			if _, ok := mp.raw(key); ok {
				t.Fatalf("entry not deleted")
			}
			if len(h.heals) != 1 || h.heals[0] != tt.reason {
				t.Fatalf("heals = %v, want [%s]", h.heals, tt.reason)
			}
		})
	}
}

func TestDecodeFailureKeepsEntry(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	cc := newTestCache(t, mp, func(o *Options) { o.Hooks = h })

	key := "order:detail:1:7"
	if !cc.Set(ctx, key, map[string]any{"id": 7}, entity.Order) {
		t.Fatalf("Set failed")
	}

	var wrong int
	if cc.Get(ctx, key, entity.Order, &wrong) {
		t.Fatalf("decode into the wrong type must miss")
	}
	if cc.Get(ctx, key, entity.Order, nil) {
		t.Fatalf("nil dst must miss")
	}
	var notPtr order
	if cc.Get(ctx, key, entity.Order, notPtr) {
		t.Fatalf("non-pointer dst must miss")
	}
	if _, ok := mp.raw(key); !ok {
		t.Fatalf("entry deleted by a reader error")
	}
	if len(h.heals) != 0 {
		t.Fatalf("heals = %v", h.heals)
	}

	var got map[string]any
	if !cc.Get(ctx, key, entity.Order, &got) || got["id"] != float64(7) {
		t.Fatalf("Get = %v", got)
	}
	if s := cc.Stats(); s.Misses != 1 || s.Hits != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestCodecSwitchHealsOldEntries(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}

	old := newTestCache(t, mp, func(o *Options) { o.Codec = c.Msgpack{} })
	if !old.Set(ctx, "order:detail:1:9", order{ID: 9}, entity.Order) {
		t.Fatalf("Set failed")
	}

	cur := newTestCache(t, mp, func(o *Options) { o.Hooks = h })
	var got order
	if cur.Get(ctx, "order:detail:1:9", entity.Order, &got) {
		t.Fatalf("entry of another codec must miss")
	}
	if len(h.heals) != 1 || h.heals[0] != HealCodecMismatch {
		t.Fatalf("heals = %v", h.heals)
	}
}

func TestReservedKeys(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	cc := newTestCache(t, mp, func(o *Options) { o.Hooks = h })

	if cc.Set(ctx, "lock:import", "x", entity.Order) {
		t.Fatalf("Set on the lock keyspace must fail")
	}
	var s string
	if cc.Get(ctx, "lock:import", entity.Order, &s) {
		t.Fatalf("Get on the lock keyspace must miss")
	}
	if cc.Set(ctx, "", "x", entity.Order) {
		t.Fatalf("Set with an empty key must fail")
	}
	if n := mp.calls.Load(); n != 0 {
		t.Fatalf("provider called %d times", n)
	}
	if h.reserved != 3 {
		t.Fatalf("reserved = %d", h.reserved)
	}
}

func TestProviderErrorsDegrade(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	mp.failGet = errors.New("read timeout")
	mp.failSet = pr.ErrUnavailable
	cc := newTestCache(t, mp, nil)

	if cc.Set(ctx, "order:detail:1:1", order{ID: 1}, entity.Order) {
		t.Fatalf("Set must report false on store failure")
	}
	var got order
	if cc.Get(ctx, "order:detail:1:1", entity.Order, &got) {
		t.Fatalf("Get must miss on store failure")
	}
	snap := cc.Snapshot()
	if snap.Errors["get"] != 1 || snap.Errors["set"] != 1 || snap.Totals.Misses != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestEncodeFailure(t *testing.T) {
	mp := newMemProvider()
	h := &recHooks{}
	cc := newTestCache(t, mp, func(o *Options) { o.Hooks = h })

	if cc.Set(context.Background(), "order:detail:1:1", make(chan int), entity.Order) {
		t.Fatalf("Set of an unencodable value must fail")
	}
	if h.encode != 1 {
		t.Fatalf("encode hook = %d", h.encode)
	}
	if _, ok := mp.raw("order:detail:1:1"); ok {
		t.Fatalf("nothing must be stored")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}

	bad := ttl.DefaultPolicy()
	bad.Multiplier = 0
	if _, err := New(Options{Provider: newMemProvider(), TTL: &bad}); !errors.Is(err, ttl.ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}

	rules := invalidation.Rules{"A": {Operation: "A", Stages: []invalidation.Stage{{Steps: []invalidation.Step{{Rule: "B"}}}}}}
	_, err := New(Options{Provider: newMemProvider(), Invalidation: invalidation.Options{Rules: rules}})
	if !errors.Is(err, invalidation.ErrInvalidRule) {
		t.Fatalf("err = %v, want ErrInvalidRule", err)
	}
}

func TestRememberLoadsOnce(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, newMemProvider(), nil)

	var loads atomic.Int32
	load := func(context.Context) (order, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		return order{ID: 7, Status: "loaded"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Remember(ctx, cc, "order:detail:1:7", entity.Order, load)
			if err != nil || v.ID != 7 {
				t.Errorf("Remember = %+v, %v", v, err)
			}
		}()
	}
	wg.Wait()
	if n := loads.Load(); n != 1 {
		t.Fatalf("load called %d times", n)
	}
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)

	boom := errors.New("db down")
	if _, err := Remember(ctx, cc, "order:detail:1:8", entity.Order, func(context.Context) (order, error) {
		return order{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := mp.raw("order:detail:1:8"); ok {
		t.Fatalf("error result was cached")
	}
}

func TestRememberNilInterfaceValue(t *testing.T) {
	cc := newTestCache(t, newMemProvider(), nil)

	v, err := Remember(context.Background(), cc, "order:detail:1:5", entity.Order, func(context.Context) (fmt.Stringer, error) {
		return nil, nil
	})
	if err != nil || v != nil {
		t.Fatalf("Remember = %v, %v", v, err)
	}
}

func TestRememberDisabledAlwaysLoads(t *testing.T) {
	cc := newTestCache(t, nil, func(o *Options) { o.Disabled = true })

	loads := 0
	for i := 0; i < 3; i++ {
		v, err := Remember(context.Background(), cc, "order:detail:1:1", entity.Order, func(context.Context) (int, error) {
			loads++
			return 1, nil
		})
		if err != nil || v != 1 {
			t.Fatalf("Remember = %v, %v", v, err)
		}
	}
	if loads != 3 {
		t.Fatalf("loads = %d", loads)
	}
}
