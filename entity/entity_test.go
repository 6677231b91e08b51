package entity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/cachegraph/entity"
	"github.com/unkn0wn-root/cachegraph/keys"
)

func TestRegistryShapesStartWithTenant(t *testing.T) {
	t.Parallel()

	for _, typ := range entity.All() {
		s, ok := entity.Lookup(typ)
		require.True(t, ok)
		require.NotEmpty(t, s.Shapes, typ)
		for _, sh := range s.Shapes {
			require.NotEmpty(t, sh.Segments)
			assert.Equal(t, entity.FieldTenant, sh.Segments[0], "%s:%s", typ, sh.Operation)
		}
		for _, tier := range s.Tiers {
			for _, f := range tier {
				found := false
				for _, sh := range s.Shapes {
					if sh.Has(f) {
						found = true
					}
				}
				assert.True(t, found, "%s tier field %s not in any shape", typ, f)
			}
		}
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	k, err := entity.Key(entity.Order, "detail", 1, int64(42))
	require.NoError(t, err)
	assert.Equal(t, "order:detail:1:42", k)

	k, err = entity.Key(entity.Order, "list", 1, day, 9, "abcd")
	require.NoError(t, err)
	assert.Equal(t, "order:list:1:20240315:9:abcd", k)

	k, err = entity.Key(entity.ScheduleGrid, "range", 1, "2024-03-01", 20240331, "0f")
	require.NoError(t, err)
	assert.Equal(t, "schedule_grid:range:1:20240301:20240331:0f", k)

	k, err = entity.Key(entity.TenantSettings, "detail", 7)
	require.NoError(t, err)
	assert.Equal(t, "tenant_settings:detail:7", k)
}

func TestKeyErrors(t *testing.T) {
	t.Parallel()

	_, err := entity.Key("nope", "detail", 1)
	assert.Error(t, err)

	_, err = entity.Key(entity.Order, "nope", 1)
	assert.Error(t, err)

	_, err = entity.Key(entity.Order, "detail", 1)
	var arity *entity.ArityError
	require.ErrorAs(t, err, &arity)
	assert.Equal(t, 2, arity.Want)
	assert.Equal(t, 1, arity.Got)

	_, err = entity.Key(entity.Order, "detail", 1, nil)
	assert.Error(t, err)

	_, err = entity.Key(entity.Statistics, "daily", 1, "not a date")
	assert.Error(t, err)

	for _, seg := range []string{"4:extra", "4*", "4?", "[4]", `4\`} {
		_, err = entity.Key(entity.Customer, "detail", 1, seg)
		assert.ErrorIs(t, err, entity.ErrSegment, seg)
	}
}

func TestKeyDigestSegments(t *testing.T) {
	t.Parallel()

	k, err := entity.Key(entity.Order, "list", 1, "2024-03-15", 9, "status=open*")
	require.NoError(t, err)
	assert.Equal(t, "order:list:1:20240315:9:"+keys.DigestOf("status=open*"), k)
	assert.NotContains(t, k, "*")

	filter := map[string]any{"status": "open", "page": 2}
	k, err = entity.Key(entity.Customer, "list", 1, filter)
	require.NoError(t, err)
	assert.Equal(t, "customer:list:1:"+keys.DigestOf(filter), k)

	k, err = entity.Key(entity.Customer, "list", 1, "a:b")
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(k, ":")+1)
}

func TestPositions(t *testing.T) {
	t.Parallel()

	s, ok := entity.Lookup(entity.ScheduleGrid)
	require.True(t, ok)
	sh, ok := s.Shape("range")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, sh.Positions(entity.FieldDate))
	assert.Nil(t, sh.Positions(entity.FieldOrder))
	assert.False(t, entity.Valid("nope"))
	assert.True(t, entity.Valid(entity.Telemetry))
}
