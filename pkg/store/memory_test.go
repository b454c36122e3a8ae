package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclowes/reqon/pkg/value"
)

func TestMemoryStoreSetGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := value.Object(map[string]value.Value{"id": value.String("1"), "v": value.String("a")})
	require.NoError(t, s.Set(ctx, "1", rec))

	got, ok, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, value.Equal(rec, got))
}

func TestMemoryStoreUpdateUpsertsOnMissingKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	partial := value.Object(map[string]value.Value{"id": value.String("1")})
	require.NoError(t, s.Update(ctx, "1", partial))

	got, ok, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, value.Equal(partial, got))
}

func TestMemoryStoreUpdateShallowMergesExistingKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "1", value.Object(map[string]value.Value{
		"id": value.String("1"), "name": value.String("old"), "age": value.Int(1),
	})))
	require.NoError(t, s.Update(ctx, "1", value.Object(map[string]value.Value{
		"name": value.String("new"),
	})))

	got, _, err := s.Get(ctx, "1")
	require.NoError(t, err)
	name, _ := got.Field("name")
	age, _ := got.Field("age")
	assert.Equal(t, "new", name.Str)
	assert.Equal(t, int64(1), age.Int)
}

func TestMemoryStoreEmptyUpdateIsNoopForExistingKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := value.Object(map[string]value.Value{"id": value.String("1"), "v": value.Int(2)})
	require.NoError(t, s.Set(ctx, "1", original))
	require.NoError(t, s.Update(ctx, "1", value.Object(nil)))

	got, _, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, value.Equal(original, got))
}

func TestMemoryStoreDeleteMissingKeyIsNoop(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Delete(context.Background(), "missing"))
}

func TestMemoryStoreListFilterWhere(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "1", value.Object(map[string]value.Value{"status": value.String("active")})))
	require.NoError(t, s.Set(ctx, "2", value.Object(map[string]value.Value{"status": value.String("inactive")})))

	rows, err := s.List(ctx, Filter{Where: map[string]value.Value{"status": value.String("active")}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestMemoryStoreCountWithFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(ctx, string(rune('a'+i)), value.Object(map[string]value.Value{"n": value.Int(int64(i))})))
	}
	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestMemoryStoreConcurrentAccessIsSafe(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + (i % 26)))
			_ = s.Set(ctx, key, value.Object(map[string]value.Value{"n": value.Int(int64(i))}))
		}(i)
	}
	wg.Wait()

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.True(t, n > 0)
}
