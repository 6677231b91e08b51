// Package redis is the go-redis backed Provider.
//
// The connection is created lazily on first use. Concurrent first callers
// share one connection attempt, and a failed ping or operation marks the
// provider disconnected so the next caller re-checks the link. Operations
// run behind a circuit breaker that fails fast with provider.ErrUnavailable
// while the store is down.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/cachegraph/log"
	pr "github.com/unkn0wn-root/cachegraph/provider"
)

var (
	ErrInvalidConfig = errors.New("redis provider: invalid config")
	ErrClosed        = errors.New("redis provider: closed")
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// BreakerConfig tunes the circuit breaker around store operations.
type BreakerConfig struct {
	Disabled bool
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears closed-state counts; 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// Failures is the consecutive failure count that opens the breaker.
	Failures uint32
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// OpTimeout bounds every single operation, including the connect ping.
	OpTimeout time.Duration
	PoolSize  int

	// Client, when set, is used instead of dialing Host:Port. It must address
	// a single node (standalone, or a failover client): a SCAN cursor walks
	// one node only, so cluster clients are rejected.
	Client goredis.UniversalClient
	// CloseClient closes an injected Client on Close. Clients built from
	// Host:Port are always closed.
	CloseClient bool

	Breaker BreakerConfig
	Logger  log.Logger
}

// DefaultConfig returns a Config for a local Redis with production timeouts.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		OpTimeout:    2 * time.Second,
		PoolSize:     10,
		Breaker: BreakerConfig{
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     5 * time.Second,
			Failures:    5,
		},
	}
}

func validateConfig(cfg Config) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	if _, ok := cfg.Client.(*goredis.ClusterClient); ok {
		bad("cluster clients are not supported: SCAN would cover one node")
	}
	if cfg.Client == nil {
		if cfg.Host == "" {
			bad("host is required")
		}
		if cfg.Port <= 0 || cfg.Port > 65535 {
			bad("port %d out of range", cfg.Port)
		}
	}
	if cfg.DB < 0 {
		bad("db index %d is negative", cfg.DB)
	}
	if cfg.DialTimeout < 0 || cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.OpTimeout < 0 {
		bad("timeouts must not be negative")
	}
	if cfg.PoolSize < 0 {
		bad("pool size %d is negative", cfg.PoolSize)
	}
	return errors.Join(errs...)
}

type Redis struct {
	cfg  Config
	log  log.Logger
	cb   *gobreaker.CircuitBreaker
	sf   singleflight.Group
	owns bool

	mu        sync.RWMutex
	rdb       goredis.UniversalClient
	connected bool

	closed   atomic.Bool
	connects atomic.Int64
}

var _ pr.Provider = (*Redis)(nil)

// New validates cfg and returns a provider. It does not dial.
func New(cfg Config) (*Redis, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	d := DefaultConfig()
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = d.OpTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = d.DialTimeout
	}

	p := &Redis{
		cfg:  cfg,
		log:  log.OrNop(cfg.Logger),
		rdb:  cfg.Client,
		owns: cfg.Client == nil || cfg.CloseClient,
	}
	if !cfg.Breaker.Disabled {
		p.cb = p.newBreaker(cfg.Breaker, d.Breaker)
	}
	return p, nil
}

func (p *Redis) newBreaker(bc, d BreakerConfig) *gobreaker.CircuitBreaker {
	if bc.MaxRequests == 0 {
		bc.MaxRequests = d.MaxRequests
	}
	if bc.Timeout == 0 {
		bc.Timeout = d.Timeout
	}
	if bc.Failures == 0 {
		bc.Failures = d.Failures
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn("circuit breaker state changed", log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled)
		},
	})
}

// Connected reports whether the last connect or operation succeeded.
func (p *Redis) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Redis) client(ctx context.Context) (goredis.UniversalClient, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	p.mu.RLock()
	c, ok := p.rdb, p.connected
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	// The attempt must outlive the caller that happened to start it.
	v, err, _ := p.sf.Do("connect", func() (any, error) {
		return p.connect(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(goredis.UniversalClient), nil
}

func (p *Redis) connect(ctx context.Context) (goredis.UniversalClient, error) {
	p.mu.Lock()
	if p.connected {
		c := p.rdb
		p.mu.Unlock()
		return c, nil
	}
	if p.rdb == nil {
		p.rdb = goredis.NewClient(p.options())
	}
	c := p.rdb
	p.mu.Unlock()

	p.connects.Add(1)
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		p.log.Warn("redis connect failed", log.Fields{"addr": p.addr(), "err": err})
		return nil, fmt.Errorf("%w: %w", pr.ErrUnavailable, err)
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.log.Info("redis connected", log.Fields{"addr": p.addr(), "db": p.cfg.DB})
	return c, nil
}

func (p *Redis) markDisconnected() {
	p.mu.Lock()
	was := p.connected
	p.connected = false
	p.mu.Unlock()
	if was {
		p.log.Warn("redis connection marked down", log.Fields{"addr": p.addr()})
	}
}

func (p *Redis) addr() string {
	if p.cfg.Client != nil {
		return "injected"
	}
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}

func (p *Redis) options() *goredis.Options {
	o := &goredis.Options{
		Addr:         p.addr(),
		Username:     p.cfg.Username,
		Password:     p.cfg.Password,
		DB:           p.cfg.DB,
		DialTimeout:  p.cfg.DialTimeout,
		ReadTimeout:  p.cfg.ReadTimeout,
		WriteTimeout: p.cfg.WriteTimeout,
		PoolSize:     p.cfg.PoolSize,
	}
	if p.cfg.TLS {
		o.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: p.cfg.Host}
	}
	return o
}

// do runs fn with a connected client under the op timeout and the breaker.
func (p *Redis) do(ctx context.Context, fn func(ctx context.Context, c goredis.UniversalClient) error) error {
	run := func() (any, error) {
		c, err := p.client(ctx)
		if err != nil {
			return nil, err
		}
		opCtx, cancel := context.WithTimeout(ctx, p.cfg.OpTimeout)
		defer cancel()
		err = fn(opCtx, c)
		if err != nil && !errors.Is(err, goredis.Nil) && !errors.Is(err, context.Canceled) {
			p.markDisconnected()
		}
		return nil, err
	}

	if p.cb == nil {
		_, err := run()
		return err
	}
	_, err := p.cb.Execute(run)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", pr.ErrUnavailable, err)
	}
	return err
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var b []byte
	err := p.do(ctx, func(ctx context.Context, c goredis.UniversalClient) error {
		var err error
		b, err = c.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return p.do(ctx, func(ctx context.Context, c goredis.UniversalClient) error {
		return c.Set(ctx, key, value, ttl).Err()
	})
}

func (p *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := p.do(ctx, func(ctx context.Context, c goredis.UniversalClient) error {
		var err error
		ok, err = c.SetNX(ctx, key, value, ttl).Result()
		return err
	})
	return ok, err
}

func (p *Redis) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	var n int64
	err := p.do(ctx, func(ctx context.Context, c goredis.UniversalClient) error {
		var err error
		n, err = compareAndDelete.Run(ctx, c, []string{key}, expected).Int64()
		return err
	})
	return n == 1, err
}

// Scan runs one SCAN round on the single node behind the client.
func (p *Redis) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	var (
		keys []string
		next uint64
	)
	err := p.do(ctx, func(ctx context.Context, c goredis.UniversalClient) error {
		var err error
		keys, next, err = c.Scan(ctx, cursor, match, count).Result()
		return err
	})
	return keys, next, err
}

// Del pipelines one DEL per key so a batch never spans cluster slots.
func (p *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var deleted int64
	err := p.do(ctx, func(ctx context.Context, c goredis.UniversalClient) error {
		pipe := c.Pipeline()
		cmds := make([]*goredis.IntCmd, len(keys))
		for i, k := range keys {
			cmds[i] = pipe.Del(ctx, k)
		}
		_, err := pipe.Exec(ctx)
		for _, cmd := range cmds {
			deleted += cmd.Val()
		}
		return err
	})
	return deleted, err
}

func (p *Redis) Ping(ctx context.Context) error {
	return p.do(ctx, func(ctx context.Context, c goredis.UniversalClient) error {
		return c.Ping(ctx).Err()
	})
}

// Close releases the client when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	c := p.rdb
	p.connected = false
	p.mu.Unlock()
	if c == nil || !p.owns {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
