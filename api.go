package cachegraph

import (
	"time"

	c "github.com/unkn0wn-root/cachegraph/codec"
	"github.com/unkn0wn-root/cachegraph/invalidation"
	"github.com/unkn0wn-root/cachegraph/lock"
	"github.com/unkn0wn-root/cachegraph/metrics"
	pr "github.com/unkn0wn-root/cachegraph/provider"
	"github.com/unkn0wn-root/cachegraph/ttl"
)

// Options configure a Cache. Only Provider is required, and only while the
// cache is enabled; everything else has a default.
type Options struct {
	Provider pr.Provider
	Codec    c.Codec     // nil => codec.JSON
	TTL      *ttl.Policy // nil => ttl.DefaultPolicy()

	Invalidation invalidation.Options // zero => invalidation.DefaultOptions() with DefaultRules
	Lock         lock.Options

	// Stats backs Cache.Stats; nil => a fresh Collector.
	Stats *metrics.Collector
	// Recorder receives every event in addition to Stats (e.g. a metrics.Async).
	Recorder metrics.Recorder

	Logger   Logger // if nil, NopLogger is used
	Hooks    Hooks  // if nil, NopHooks is used
	Disabled bool   // default false (enabled); a disabled cache never calls the provider

	// Now stamps stored entries; nil => time.Now.
	Now func() time.Time
}

// New builds a Cache. Invalid TTL policies and rule tables are reported here,
// never at request time.
func New(opts Options) (*Cache, error) {
	return newCache(opts)
}
