// Package prom exposes a metrics.Collector to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(prom.New("app", collector))
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/cachegraph/metrics"
)

// Exporter is a prometheus.Collector reading a metrics.Collector snapshot on
// every scrape.
type Exporter struct {
	src *metrics.Collector

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	sets          *prometheus.Desc
	errors        *prometheus.Desc
	invalidations *prometheus.Desc
	keysScanned   *prometheus.Desc
	keysDeleted   *prometheus.Desc
	hitRatio      *prometheus.Desc
	opDuration    *prometheus.Desc
	lockAttempts  *prometheus.Desc
	lockReleases  *prometheus.Desc
	lockHold      *prometheus.Desc
	patternRuns   *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// TopPatterns is how many of the most invalidated patterns are exported.
const TopPatterns = 20

func New(namespace string, src *metrics.Collector) *Exporter {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, labels, nil)
	}
	return &Exporter{
		src:           src,
		hits:          desc("hits_total", "Total number of cache hits", "entity"),
		misses:        desc("misses_total", "Total number of cache misses", "entity"),
		sets:          desc("sets_total", "Total number of cache writes", "entity"),
		errors:        desc("errors_total", "Total number of store failures", "operation"),
		invalidations: desc("invalidations_total", "Total number of pattern sweeps", "entity"),
		keysScanned:   desc("keys_scanned_total", "Total number of keys returned by scans", "entity"),
		keysDeleted:   desc("keys_deleted_total", "Total number of keys deleted by invalidation", "entity"),
		hitRatio:      desc("hit_ratio", "Hits over reads since the last reset"),
		opDuration:    desc("operation_duration_seconds", "Store operation latency", "operation"),
		lockAttempts:  desc("lock_attempts_total", "Lock acquisition attempts", "resource", "outcome"),
		lockReleases:  desc("lock_releases_total", "Lock release attempts", "resource", "outcome"),
		lockHold:      desc("lock_hold_seconds", "Lock hold duration", "resource"),
		patternRuns:   desc("pattern_invalidations_total", "Sweeps of the most invalidated patterns", "pattern"),
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.hits, e.misses, e.sets, e.errors, e.invalidations, e.keysScanned,
		e.keysDeleted, e.hitRatio, e.opDuration, e.lockAttempts, e.lockReleases,
		e.lockHold, e.patternRuns,
	} {
		ch <- d
	}
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.src.Snapshot()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	for t, c := range s.ByEntity {
		counter(e.hits, c.Hits, string(t))
		counter(e.misses, c.Misses, string(t))
		counter(e.sets, c.Sets, string(t))
		counter(e.invalidations, c.Invalidations, string(t))
		counter(e.keysScanned, c.KeysScanned, string(t))
		counter(e.keysDeleted, c.KeysDeleted, string(t))
	}
	for op, n := range s.Errors {
		counter(e.errors, n, op)
	}
	ch <- prometheus.MustNewConstMetric(e.hitRatio, prometheus.GaugeValue, s.Totals.HitRate())

	for op, l := range s.Latency {
		ch <- prometheus.MustNewConstSummary(e.opDuration, uint64(l.Count), l.Total.Seconds(), nil, op)
	}
	for r, l := range s.Locks {
		counter(e.lockAttempts, l.Successes, r, "acquired")
		counter(e.lockAttempts, l.Failures, r, "contended")
		counter(e.lockReleases, l.Releases, r, "released")
		counter(e.lockReleases, l.ReleaseFailures, r, "failed")
		ch <- prometheus.MustNewConstSummary(e.lockHold, uint64(l.Holds), l.HoldTotal.Seconds(), nil, r)
	}

	top := s.Patterns
	if len(top) > TopPatterns {
		top = top[:TopPatterns]
	}
	for _, p := range top {
		counter(e.patternRuns, p.Runs, p.Pattern)
	}
}
