package cachegraph

import (
	"context"

	"github.com/unkn0wn-root/cachegraph/entity"
)

// GetAs is Get for a typed destination.
func GetAs[V any](ctx context.Context, ch *Cache, key string, t entity.Type) (V, bool) {
	var v V
	if !ch.Get(ctx, key, t, &v) {
		var zero V
		return zero, false
	}
	return v, true
}

// Remember returns the cached value of key, or calls load on a miss and
// caches its result. Concurrent misses on the same key share one load call.
// A load error is returned and nothing is cached; a failed cache write is
// not an error.
func Remember[V any](ctx context.Context, ch *Cache, key string, t entity.Type, load func(context.Context) (V, error)) (V, error) {
	if v, ok := GetAs[V](ctx, ch, key, t); ok {
		return v, nil
	}
	if !ch.enabled {
		return load(ctx)
	}

	res, err, _ := ch.sf.Do(key, func() (any, error) {
		// another caller may have filled the key while we waited
		if v, ok := GetAs[V](ctx, ch, key, t); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		ch.Set(ctx, key, v, t)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}
