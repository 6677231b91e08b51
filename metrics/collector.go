package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/cachegraph/entity"
)

const (
	DefaultMaxPatterns      = 1000
	DefaultMaxLockResources = 1000

	// OtherResource aggregates lock resources beyond the cardinality ceiling.
	OtherResource = "_other"
)

// Counts are the cache counters kept globally and per entity type.
type Counts struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Errors        int64
	Invalidations int64
	KeysScanned   int64
	KeysDeleted   int64
}

// HitRate is hits / (hits + misses), 0 without reads.
func (c Counts) HitRate() float64 {
	return ratio(c.Hits, c.Hits+c.Misses)
}

// Latency sums the durations reported for one operation.
type Latency struct {
	Count int64
	Total time.Duration
	Max   time.Duration
}

func (l Latency) Avg() time.Duration {
	if l.Count == 0 {
		return 0
	}
	return l.Total / time.Duration(l.Count)
}

// LockStats are the counters of one lock resource.
type LockStats struct {
	Attempts        int64
	Successes       int64
	Failures        int64
	Releases        int64
	ReleaseFailures int64

	Holds     int64
	HoldTotal time.Duration
	HoldMin   time.Duration
	HoldMax   time.Duration
}

// Contention is the share of acquisition attempts that found the lock held.
func (s LockStats) Contention() float64 {
	return ratio(s.Failures, s.Attempts)
}

func (s LockStats) HoldAvg() time.Duration {
	if s.Holds == 0 {
		return 0
	}
	return s.HoldTotal / time.Duration(s.Holds)
}

// PatternCount is one tracked invalidation pattern.
type PatternCount struct {
	Pattern string
	Runs    int64
	Deleted int64
}

// Snapshot is a copy of everything the Collector holds.
type Snapshot struct {
	Since           time.Time
	Totals          Counts
	ByEntity        map[entity.Type]Counts
	Latency         map[string]Latency
	Errors          map[string]int64
	Locks           map[string]LockStats
	Patterns        []PatternCount
	DroppedPatterns int64
}

// Summary is the derived view served to dashboards and logs.
type Summary struct {
	Uptime                 time.Duration
	Hits                   int64
	Misses                 int64
	Sets                   int64
	Errors                 int64
	Invalidations          int64
	KeysDeleted            int64
	HitRate                float64
	InvalidationEfficiency float64
	LockAttempts           int64
	LockContention         float64
}

type Options struct {
	// MaxPatterns caps distinct tracked patterns; new ones beyond it are not tracked.
	MaxPatterns int
	// MaxLockResources caps distinct lock resources; the rest fold into OtherResource.
	MaxLockResources int
	Now              func() time.Time
}

// Collector is the in-memory Recorder. Safe for concurrent use.
type Collector struct {
	maxPatterns int
	maxLocks    int
	now         func() time.Time

	mu              sync.Mutex
	since           time.Time
	totals          Counts
	byEntity        map[entity.Type]*Counts
	latency         map[string]*Latency
	errors          map[string]int64
	locks           map[string]*LockStats
	patterns        map[string]*PatternCount
	droppedPatterns int64
}

var _ Recorder = (*Collector)(nil)

func NewCollector(opts Options) *Collector {
	c := &Collector{
		maxPatterns: opts.MaxPatterns,
		maxLocks:    opts.MaxLockResources,
		now:         opts.Now,
	}
	if c.maxPatterns <= 0 {
		c.maxPatterns = DefaultMaxPatterns
	}
	if c.maxLocks <= 0 {
		c.maxLocks = DefaultMaxLockResources
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.reset()
	return c
}

// Reset drops every counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
}

func (c *Collector) reset() {
	c.since = c.now()
	c.totals = Counts{}
	c.byEntity = make(map[entity.Type]*Counts)
	c.latency = make(map[string]*Latency)
	c.errors = make(map[string]int64)
	c.locks = make(map[string]*LockStats)
	c.patterns = make(map[string]*PatternCount)
	c.droppedPatterns = 0
}

func (c *Collector) forEntity(t entity.Type) *Counts {
	e := c.byEntity[t]
	if e == nil {
		e = &Counts{}
		c.byEntity[t] = e
	}
	return e
}

func (c *Collector) observe(op string, d time.Duration) {
	l := c.latency[op]
	if l == nil {
		l = &Latency{}
		c.latency[op] = l
	}
	l.Count++
	l.Total += d
	if d > l.Max {
		l.Max = d
	}
}

func (c *Collector) Hit(t entity.Type, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.Hits++
	c.forEntity(t).Hits++
	c.observe(OpGet, d)
}

func (c *Collector) Miss(t entity.Type, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.Misses++
	c.forEntity(t).Misses++
	c.observe(OpGet, d)
}

func (c *Collector) Set(t entity.Type, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.Sets++
	c.forEntity(t).Sets++
	c.observe(OpSet, d)
}

func (c *Collector) Error(op string, t entity.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.Errors++
	c.errors[op]++
	if t != "" {
		c.forEntity(t).Errors++
	}
}

func (c *Collector) Invalidation(pattern string, scanned, deleted int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.Invalidations++
	c.totals.KeysScanned += int64(scanned)
	c.totals.KeysDeleted += int64(deleted)
	if t := patternEntity(pattern); t != "" {
		e := c.forEntity(t)
		e.Invalidations++
		e.KeysScanned += int64(scanned)
		e.KeysDeleted += int64(deleted)
	}
	c.observe(OpInvalidate, d)

	p := c.patterns[pattern]
	if p == nil {
		if len(c.patterns) >= c.maxPatterns {
			c.droppedPatterns++
			return
		}
		p = &PatternCount{Pattern: pattern}
		c.patterns[pattern] = p
	}
	p.Runs++
	p.Deleted += int64(deleted)
}

// patternEntity returns the entity segment of a pattern, or "" for wildcards.
func patternEntity(pattern string) entity.Type {
	head, _, _ := strings.Cut(pattern, ":")
	if head == "" || strings.ContainsAny(head, "*?[") {
		return ""
	}
	return entity.Type(head)
}

func (c *Collector) lock(resource string) *LockStats {
	s := c.locks[resource]
	if s != nil {
		return s
	}
	if len(c.locks) >= c.maxLocks {
		resource = OtherResource
		if s = c.locks[resource]; s != nil {
			return s
		}
	}
	s = &LockStats{}
	c.locks[resource] = s
	return s
}

func (c *Collector) LockAcquire(resource string, acquired bool, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.lock(resource)
	s.Attempts++
	if acquired {
		s.Successes++
	} else {
		s.Failures++
	}
	c.observe(OpLockAcquire, d)
}

func (c *Collector) LockRelease(resource string, released bool, held time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.lock(resource)
	if !released {
		s.ReleaseFailures++
		return
	}
	s.Releases++
	if s.Holds == 0 || held < s.HoldMin {
		s.HoldMin = held
	}
	if held > s.HoldMax {
		s.HoldMax = held
	}
	s.Holds++
	s.HoldTotal += held
}

// Snapshot copies the current state. Patterns are sorted by runs, then deleted keys.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Since:           c.since,
		Totals:          c.totals,
		ByEntity:        make(map[entity.Type]Counts, len(c.byEntity)),
		Latency:         make(map[string]Latency, len(c.latency)),
		Errors:          make(map[string]int64, len(c.errors)),
		Locks:           make(map[string]LockStats, len(c.locks)),
		Patterns:        make([]PatternCount, 0, len(c.patterns)),
		DroppedPatterns: c.droppedPatterns,
	}
	for t, e := range c.byEntity {
		s.ByEntity[t] = *e
	}
	for op, l := range c.latency {
		s.Latency[op] = *l
	}
	for op, n := range c.errors {
		s.Errors[op] = n
	}
	for r, l := range c.locks {
		s.Locks[r] = *l
	}
	for _, p := range c.patterns {
		s.Patterns = append(s.Patterns, *p)
	}
	sort.Slice(s.Patterns, func(i, j int) bool {
		a, b := s.Patterns[i], s.Patterns[j]
		if a.Runs != b.Runs {
			return a.Runs > b.Runs
		}
		if a.Deleted != b.Deleted {
			return a.Deleted > b.Deleted
		}
		return a.Pattern < b.Pattern
	})
	return s
}

// TopPatterns returns at most n of the most invalidated patterns.
func (c *Collector) TopPatterns(n int) []PatternCount {
	p := c.Snapshot().Patterns
	if n >= 0 && len(p) > n {
		p = p[:n]
	}
	return p
}

// Summary derives rates from the current counters.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var attempts, failures int64
	for _, l := range c.locks {
		attempts += l.Attempts
		failures += l.Failures
	}
	t := c.totals
	return Summary{
		Uptime:                 c.now().Sub(c.since),
		Hits:                   t.Hits,
		Misses:                 t.Misses,
		Sets:                   t.Sets,
		Errors:                 t.Errors,
		Invalidations:          t.Invalidations,
		KeysDeleted:            t.KeysDeleted,
		HitRate:                t.HitRate(),
		InvalidationEfficiency: ratio(t.KeysDeleted, t.KeysScanned),
		LockAttempts:           attempts,
		LockContention:         ratio(failures, attempts),
	}
}

func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
