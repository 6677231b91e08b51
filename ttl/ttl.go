// Package ttl computes effective cache lifetimes per entity type.
package ttl

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/unkn0wn-root/cachegraph/entity"
)

// ErrInvalidPolicy wraps every validation failure of a Policy.
var ErrInvalidPolicy = errors.New("ttl: invalid policy")

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMultiplier = 4.0
	DefaultJitter     = 0.05
	DefaultMaxTTL     = 7 * 24 * time.Hour

	// absorbs float noise such as 300*3.95 = 1185.0000000000002
	epsilon = 1e-6
)

// Policy maps entity types to base lifetimes.
//
// Effective TTL is base*Multiplier plus a uniform offset in
// [-base*Jitter, +base*Jitter], rounded to whole seconds and clamped to
// [1s, MaxTTL]. Excluded types always get their base unchanged.
type Policy struct {
	Base       map[entity.Type]time.Duration
	DefaultTTL time.Duration
	Multiplier float64
	Jitter     float64
	MaxTTL     time.Duration
	Exclude    map[entity.Type]bool

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns a fresh copy of the production table.
func DefaultPolicy() Policy {
	return Policy{
		Base: map[entity.Type]time.Duration{
			entity.Order:          300 * time.Second,
			entity.OrderPerson:    300 * time.Second,
			entity.Attachment:     600 * time.Second,
			entity.ScheduleGrid:   120 * time.Second,
			entity.Customer:       900 * time.Second,
			entity.Vehicle:        900 * time.Second,
			entity.Handler:        600 * time.Second,
			entity.Telemetry:      15 * time.Second,
			entity.TenantSettings: 1800 * time.Second,
			entity.User:           600 * time.Second,
			entity.Statistics:     300 * time.Second,
		},
		DefaultTTL: DefaultTTL,
		Multiplier: DefaultMultiplier,
		Jitter:     DefaultJitter,
		MaxTTL:     DefaultMaxTTL,
		Exclude:    map[entity.Type]bool{entity.Telemetry: true},
	}
}

// Validate reports every problem at once, each wrapping ErrInvalidPolicy.
func (p Policy) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidPolicy}, args...)...))
	}

	for _, t := range sortedTypes(p.Base) {
		if !entity.Valid(t) {
			bad("unknown entity type %q", t)
		}
		if d := p.Base[t]; d <= 0 {
			bad("base ttl for %q must be positive, got %s", t, d)
		}
	}
	for t := range p.Exclude {
		if !entity.Valid(t) {
			bad("unknown excluded entity type %q", t)
		}
	}
	if p.DefaultTTL <= 0 {
		bad("default ttl must be positive, got %s", p.DefaultTTL)
	}
	if !(p.Multiplier > 0) || math.IsInf(p.Multiplier, 0) {
		bad("multiplier must be positive, got %v", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter >= p.Multiplier || math.IsNaN(p.Jitter) {
		bad("jitter must be in [0, multiplier), got %v", p.Jitter)
	}
	if p.MaxTTL < time.Second {
		bad("max ttl must be at least 1s, got %s", p.MaxTTL)
	}
	return errors.Join(errs...)
}

// BaseOf returns the configured base for t, or DefaultTTL.
func (p Policy) BaseOf(t entity.Type) time.Duration {
	if d, ok := p.Base[t]; ok {
		return d
	}
	return p.DefaultTTL
}

// Bounds returns the range Effective(t) always falls in.
func (p Policy) Bounds(t entity.Type) (lo, hi time.Duration) {
	base := p.BaseOf(t)
	if p.Exclude[t] {
		v := p.clamp(base.Round(time.Second))
		return v, v
	}
	lo, hi = p.window(base)
	return p.clamp(lo), p.clamp(hi)
}

// Effective returns the lifetime to write an entry of type t with.
func (p Policy) Effective(t entity.Type) time.Duration {
	base := p.BaseOf(t)
	if p.Exclude[t] {
		return p.clamp(base.Round(time.Second))
	}

	r := p.rand()
	secs := base.Seconds()
	v := time.Duration(math.Round(secs*p.Multiplier+(2*r-1)*secs*p.Jitter)) * time.Second

	lo, hi := p.window(base)
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return p.clamp(v)
}

// window is [ceil(base*(m-j)), floor(base*(m+j))] in whole seconds. If the
// window holds no whole second it collapses onto the rounded centre.
func (p Policy) window(base time.Duration) (lo, hi time.Duration) {
	secs := base.Seconds()
	lo = time.Duration(math.Ceil(secs*(p.Multiplier-p.Jitter)-epsilon)) * time.Second
	hi = time.Duration(math.Floor(secs*(p.Multiplier+p.Jitter)+epsilon)) * time.Second
	if lo > hi {
		c := time.Duration(math.Round(secs*p.Multiplier)) * time.Second
		return c, c
	}
	return lo, hi
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if d < time.Second {
		d = time.Second
	}
	if p.MaxTTL > 0 && d > p.MaxTTL {
		d = p.MaxTTL.Truncate(time.Second)
		if d < time.Second {
			d = time.Second
		}
	}
	return d
}

func (p Policy) rand() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

func sortedTypes(m map[entity.Type]time.Duration) []entity.Type {
	out := make([]entity.Type, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
