// Package invalidation deletes cached views affected by a write.
//
// Patterns are derived from the key shapes declared in package entity, so a
// sweep targets exactly the positions a read path writes. A write operation
// maps to a Rule: stages run in order, the steps inside a stage run
// concurrently, and every sweep is a cursor SCAN followed by batched DELs.
// Nothing here returns an error to the caller: failures are logged, recorded
// and degrade to a smaller (possibly zero) count.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/cachegraph/entity"
	"github.com/unkn0wn-root/cachegraph/keys"
	"github.com/unkn0wn-root/cachegraph/log"
	"github.com/unkn0wn-root/cachegraph/metrics"
	"github.com/unkn0wn-root/cachegraph/provider"
)

// LockPrefix is the keyspace owned by the lock manager. No sweep may touch it.
const LockPrefix = "lock"

type Options struct {
	// ScanCount is the COUNT hint of every SCAN round.
	ScanCount int64
	// YieldEvery rounds the scan pauses for YieldFor. YieldFor < 0 disables it.
	YieldEvery int
	YieldFor   time.Duration
	// MaxRounds caps one sweep; hitting it logs and returns the partial count.
	MaxRounds int
	// DeleteBatch is the number of keys per pipelined DEL.
	DeleteBatch int
	// MaxScanFailures consecutive failed rounds end a sweep.
	MaxScanFailures int
	// Parallelism bounds concurrent sweeps within a stage.
	Parallelism int
	// MaxDepth bounds nested rule references.
	MaxDepth int
	// Rules defaults to DefaultRules().
	Rules Rules
}

func DefaultOptions() Options {
	return Options{
		ScanCount:       100,
		YieldEvery:      10,
		YieldFor:        time.Millisecond,
		MaxRounds:       1000,
		DeleteBatch:     500,
		MaxScanFailures: 3,
		Parallelism:     8,
		MaxDepth:        8,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ScanCount <= 0 {
		o.ScanCount = d.ScanCount
	}
	if o.YieldEvery <= 0 {
		o.YieldEvery = d.YieldEvery
	}
	switch {
	case o.YieldFor == 0:
		o.YieldFor = d.YieldFor
	case o.YieldFor < 0:
		o.YieldFor = 0
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = d.MaxRounds
	}
	if o.DeleteBatch <= 0 {
		o.DeleteBatch = d.DeleteBatch
	}
	if o.MaxScanFailures <= 0 {
		o.MaxScanFailures = d.MaxScanFailures
	}
	if o.Parallelism <= 0 {
		o.Parallelism = d.Parallelism
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.Rules == nil {
		o.Rules = DefaultRules()
	}
	return o
}

type Engine struct {
	p    provider.Provider
	opts Options
	rec  metrics.Recorder
	log  log.Logger
}

// New validates the rule table and returns an engine. A zero Options uses
// DefaultOptions with DefaultRules.
func New(p provider.Provider, opts Options, rec metrics.Recorder, logger log.Logger) (*Engine, error) {
	if p == nil {
		return nil, errors.New("invalidation: provider is required")
	}
	opts = opts.withDefaults()
	if err := opts.Rules.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		p:    p,
		opts: opts,
		rec:  metrics.OrNop(rec),
		log:  log.OrNop(logger),
	}, nil
}

// Rules returns the engine's rule table.
func (e *Engine) Rules() Rules { return e.opts.Rules }

// InvalidateByPattern deletes every key matching the glob pattern and
// returns how many were deleted; a second call with no writes in between
// returns 0. Patterns without glob characters delete the key directly.
// Patterns whose first segment is not a literal entity name, or that address
// the lock keyspace, are refused: nothing is scanned and the count is 0 on
// every call.
func (e *Engine) InvalidateByPattern(ctx context.Context, pattern string) int {
	if err := checkPattern(pattern); err != nil {
		e.log.Warn("invalidation pattern refused", log.Fields{"pattern": pattern, "err": err})
		return 0
	}

	start := time.Now()
	var scanned, deleted int
	if hasGlob(pattern) {
		scanned, deleted = e.sweep(ctx, pattern)
	} else {
		n, err := e.p.Del(ctx, pattern)
		scanned, deleted = 1, int(n)
		if err != nil {
			e.rec.Error(metrics.OpInvalidate, patternEntity(pattern))
			e.log.Warn("invalidation delete failed", log.Fields{"pattern": pattern, "err": err})
		}
	}

	d := time.Since(start)
	e.rec.Invalidation(pattern, scanned, deleted, d)
	e.log.Debug("pattern invalidated", log.Fields{
		"pattern":  pattern,
		"scanned":  scanned,
		"deleted":  deleted,
		"duration": d,
	})
	return deleted
}

func checkPattern(pattern string) error {
	head, _, found := strings.Cut(pattern, keys.Sep)
	switch {
	case pattern == "":
		return errors.New("empty pattern")
	case !found || head == "" || hasGlob(head):
		return errors.New("first segment must be a literal entity type")
	case head == LockPrefix:
		return errors.New("lock keyspace is reserved")
	}
	return nil
}

func patternEntity(pattern string) entity.Type {
	head, _, _ := strings.Cut(pattern, keys.Sep)
	return entity.Type(head)
}

// sweep scans pattern round by round and deletes matches in batches. A failed
// round is retried on the same cursor; a failed batch is skipped.
func (e *Engine) sweep(ctx context.Context, pattern string) (scanned, deleted int) {
	batch := make([]string, 0, e.opts.DeleteBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := e.p.Del(ctx, batch...)
		deleted += int(n)
		if err != nil {
			e.rec.Error(metrics.OpInvalidate, patternEntity(pattern))
			e.log.Warn("invalidation batch failed", log.Fields{
				"pattern": pattern,
				"batch":   len(batch),
				"err":     err,
			})
		}
		batch = batch[:0]
	}
	defer flush()

	var (
		cursor   uint64
		rounds   int
		failures int
	)
	for {
		if err := ctx.Err(); err != nil {
			e.log.Warn("invalidation scan cancelled", log.Fields{"pattern": pattern, "rounds": rounds, "err": err})
			return
		}
		if rounds >= e.opts.MaxRounds {
			e.log.Warn("invalidation scan round cap reached", log.Fields{
				"pattern":  pattern,
				"rounds":   rounds,
				"scanned":  scanned,
				"maxRound": e.opts.MaxRounds,
			})
			return
		}

		found, next, err := e.p.Scan(ctx, cursor, pattern, e.opts.ScanCount)
		rounds++
		if err != nil {
			failures++
			e.rec.Error(metrics.OpInvalidate, patternEntity(pattern))
			if errors.Is(err, provider.ErrUnavailable) || failures >= e.opts.MaxScanFailures {
				e.log.Error("invalidation scan aborted", log.Fields{
					"pattern":  pattern,
					"failures": failures,
					"err":      err,
				})
				return
			}
			e.log.Warn("invalidation scan round failed", log.Fields{"pattern": pattern, "cursor": cursor, "err": err})
			continue
		}
		failures = 0

		scanned += len(found)
		for _, k := range found {
			batch = append(batch, k)
			if len(batch) >= e.opts.DeleteBatch {
				flush()
			}
		}

		cursor = next
		if cursor == 0 {
			return
		}
		if rounds%e.opts.YieldEvery == 0 && e.opts.YieldFor > 0 {
			flush()
			if !sleep(ctx, e.opts.YieldFor) {
				e.log.Warn("invalidation scan cancelled", log.Fields{"pattern": pattern, "rounds": rounds, "err": ctx.Err()})
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Patterns returns the patterns Invalidate would sweep for t.
func (e *Engine) Patterns(t entity.Type, p Params) []string {
	if !entity.Valid(t) {
		if t == "" || hasGlob(string(t)) || strings.Contains(string(t), keys.Sep) || string(t) == LockPrefix {
			return nil
		}
		return []string{string(t) + keys.Sep + keys.Wildcard}
	}
	return derive(t, nil, e.values(p, allFields))
}

// Invalidate sweeps every key of t that params can narrow down to and
// returns the number of deleted keys. operation labels the log entry.
func (e *Engine) Invalidate(ctx context.Context, operation string, t entity.Type, p Params) int {
	patterns := e.Patterns(t, p)
	if len(patterns) == 0 {
		e.log.Warn("no invalidation patterns", log.Fields{"operation": operation, "entity": string(t)})
		return 0
	}
	start := time.Now()
	n := e.run(ctx, [][]string{patterns})
	e.log.Info("entity invalidated", log.Fields{
		"operation": operation,
		"entity":    string(t),
		"patterns":  len(patterns),
		"deleted":   n,
		"duration":  time.Since(start),
	})
	return n
}

// InvalidateCrossEntity executes the rule registered for operation and
// returns the total number of deleted keys. Operations without a rule fall
// back to params.EntityType, and without that to the tenant (or open) scope
// of every registered entity type.
func (e *Engine) InvalidateCrossEntity(ctx context.Context, operation string, p Params) int {
	start := time.Now()
	stages := e.Plan(operation, p)
	n := e.run(ctx, stages)

	patterns := 0
	for _, s := range stages {
		patterns += len(s)
	}
	_, ruled := e.opts.Rules[operation]
	e.log.Info("cross-entity invalidation", log.Fields{
		"operation": operation,
		"rule":      ruled,
		"stages":    len(stages),
		"patterns":  patterns,
		"deleted":   n,
		"duration":  time.Since(start),
	})
	return n
}

// run sweeps stages in order, the patterns of one stage concurrently.
func (e *Engine) run(ctx context.Context, stages [][]string) int {
	var total atomic.Int64
	for i, stage := range stages {
		if ctx.Err() != nil {
			e.log.Warn("invalidation stopped", log.Fields{"stage": i, "err": ctx.Err()})
			break
		}
		var g errgroup.Group
		g.SetLimit(e.opts.Parallelism)
		for _, pattern := range stage {
			g.Go(func() error {
				total.Add(int64(e.InvalidateByPattern(ctx, pattern)))
				return nil
			})
		}
		_ = g.Wait()
	}
	return int(total.Load())
}

// Plan returns the patterns InvalidateCrossEntity would sweep, grouped by
// stage. A pattern appears once, in the first stage that needs it.
func (e *Engine) Plan(operation string, p Params) [][]string {
	var stages [][]string
	if r, ok := e.opts.Rules[operation]; ok {
		stages = e.expand(r, p, 0)
	} else {
		stages = [][]string{e.fallback(operation, p)}
	}

	seen := make(map[string]struct{})
	out := stages[:0]
	for _, s := range stages {
		var kept []string
		for _, pat := range s {
			if _, dup := seen[pat]; dup {
				continue
			}
			seen[pat] = struct{}{}
			kept = append(kept, pat)
		}
		if len(kept) > 0 {
			out = append(out, kept)
		}
	}
	return out
}

// expand flattens r into stages. A referenced rule's stages start at the
// referencing stage, and the next stage of r waits for all of them.
func (e *Engine) expand(r Rule, in Params, depth int) [][]string {
	if depth > e.opts.MaxDepth {
		e.log.Error("invalidation rule nesting too deep", log.Fields{"operation": r.Operation, "depth": depth})
		return nil
	}
	var out [][]string
	for _, st := range r.Stages {
		p := in
		if st.Prepare != nil {
			var ok bool
			if p, ok = st.Prepare(in); !ok {
				continue
			}
		}
		base := len(out)
		out = append(out, nil)
		for _, s := range st.Steps {
			if s.Rule != "" {
				sub := e.expand(e.opts.Rules[s.Rule], p, depth+1)
				for i, pats := range sub {
					for base+i >= len(out) {
						out = append(out, nil)
					}
					out[base+i] = append(out[base+i], pats...)
				}
				continue
			}
			out[base] = append(out[base], derive(s.Entity, s.Only, e.values(p, s.Use))...)
		}
	}
	return out
}

// fallback handles operations without a rule.
func (e *Engine) fallback(operation string, p Params) []string {
	if p.EntityType != "" {
		if pats := e.Patterns(p.EntityType, p); len(pats) > 0 {
			return pats
		}
	}
	e.log.Warn("no invalidation rule, sweeping every entity type", log.Fields{
		"operation": operation,
		"tenant":    p.TenantID,
	})
	vals := e.values(Params{TenantID: p.TenantID}, nil)
	var out []string
	for _, t := range entity.All() {
		out = append(out, derive(t, nil, vals)...)
	}
	return out
}

var allFields = []entity.Field{
	entity.FieldOrder, entity.FieldDate, entity.FieldHandler, entity.FieldPerson,
	entity.FieldAttachment, entity.FieldCustomer, entity.FieldVehicle, entity.FieldUser,
}

// values collects the known params visible through use. The tenant is
// always visible.
func (e *Engine) values(p Params, use []entity.Field) map[entity.Field]string {
	vals := make(map[entity.Field]string, len(use)+1)
	if v, ok := p.value(entity.FieldTenant); ok {
		vals[entity.FieldTenant] = v
	}
	for _, f := range use {
		v, ok := p.value(f)
		if !ok {
			if f == entity.FieldDate && p.Date != nil {
				e.log.Warn("unparsable invalidation date", log.Fields{"date": fmt.Sprint(p.Date)})
			}
			continue
		}
		vals[f] = v
	}
	return vals
}
