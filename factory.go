package cachegraph

import (
	"sync"

	"github.com/unkn0wn-root/cachegraph/config"
	rp "github.com/unkn0wn-root/cachegraph/provider/redis"
)

// FromConfig builds a Cache backed by Redis as described by cfg. Fields of
// opts other than Provider, TTL and Disabled are used as given. A disabled
// configuration never dials.
func FromConfig(cfg *config.Config, opts Options) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy := cfg.TTL()
	opts.TTL = &policy
	opts.Disabled = !cfg.Enabled
	opts.Provider = nil

	if cfg.Enabled {
		rc := cfg.Redis()
		rc.Logger = opts.Logger
		p, err := rp.New(rc)
		if err != nil {
			return nil, err
		}
		opts.Provider = p
	}
	return New(opts)
}

var (
	defaultOnce  sync.Once
	defaultCache *Cache
	defaultErr   error
)

// Default returns a process-wide Cache built once from config.Load. It is a
// convenience for wiring entry points; components should receive a *Cache.
func Default() (*Cache, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			defaultErr = err
			return
		}
		defaultCache, defaultErr = FromConfig(cfg, Options{})
	})
	return defaultCache, defaultErr
}
