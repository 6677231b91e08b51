package invalidation

import (
	"strings"

	"github.com/unkn0wn-root/cachegraph/entity"
	"github.com/unkn0wn-root/cachegraph/keys"
)

var (
	tenantTier = []entity.Field{entity.FieldTenant}
	openTier   = []entity.Field{}
)

// derive returns the narrowest patterns covering every key of t (restricted
// to the only operations) that can embed the visible params.
//
// Tiers are tried narrowest first; the first tier whose fields are all known
// and that matches at least one shape wins. Known tenants are always filled
// in, other segments outside the tier become wildcards.
func derive(t entity.Type, only []string, vals map[entity.Field]string) []string {
	schema, ok := entity.Lookup(t)
	if !ok {
		return nil
	}
	shapes := schema.Shapes
	if len(only) > 0 {
		shapes = make([]entity.Shape, 0, len(only))
		for _, op := range only {
			if sh, ok := schema.Shape(op); ok {
				shapes = append(shapes, sh)
			}
		}
	}
	if len(shapes) == 0 {
		return nil
	}

	tiers := append(append([][]entity.Field{}, schema.Tiers...), tenantTier, openTier)
	for _, tier := range tiers {
		if !known(tier, vals) {
			continue
		}
		if len(tier) == 0 && len(only) == 0 {
			return []string{string(t) + keys.Sep + keys.Wildcard}
		}
		var out []string
		for _, sh := range shapes {
			if !hasAll(sh, tier) {
				continue
			}
			out = append(out, shapePatterns(t, sh, tier, vals)...)
		}
		if len(out) > 0 {
			return dedupe(out)
		}
	}
	return nil
}

func known(tier []entity.Field, vals map[entity.Field]string) bool {
	for _, f := range tier {
		if _, ok := vals[f]; !ok {
			return false
		}
	}
	return true
}

func hasAll(sh entity.Shape, tier []entity.Field) bool {
	for _, f := range tier {
		if !sh.Has(f) {
			return false
		}
	}
	return true
}

// shapePatterns fills the tier fields into sh. A field occurring at several
// positions yields one pattern per position.
func shapePatterns(t entity.Type, sh entity.Shape, tier []entity.Field, vals map[entity.Field]string) []string {
	segs := make([]string, len(sh.Segments))
	for i, f := range sh.Segments {
		segs[i] = keys.Wildcard
		if f == entity.FieldTenant {
			if v, ok := vals[f]; ok {
				segs[i] = v
			}
		}
	}

	combos := [][]string{segs}
	for _, f := range tier {
		if f == entity.FieldTenant {
			continue
		}
		v := vals[f]
		var next [][]string
		for _, c := range combos {
			for _, pos := range sh.Positions(f) {
				cp := append([]string(nil), c...)
				cp[pos] = v
				next = append(next, cp)
			}
		}
		combos = next
	}

	out := make([]string, 0, len(combos))
	prefix := string(t) + keys.Sep + sh.Operation
	for _, c := range combos {
		out = append(out, prefix+keys.Sep+strings.Join(collapse(c), keys.Sep))
	}
	return out
}

// collapse folds trailing wildcard segments into one.
func collapse(segs []string) []string {
	n := len(segs)
	for n > 0 && segs[n-1] == keys.Wildcard {
		n--
	}
	if n == len(segs) {
		return segs
	}
	return append(segs[:n:n], keys.Wildcard)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// hasGlob reports whether pattern needs a SCAN rather than a direct DEL.
func hasGlob(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[\`)
}
