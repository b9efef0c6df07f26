package state

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       QueryState
		expected QueryState
	}{
		{
			name:     "zero value",
			in:       QueryState{},
			expected: QueryState{Page: 1, PerPage: 25, SortDirection: Asc},
		},
		{
			name:     "negative paging",
			in:       QueryState{Page: -3, PerPage: -1, SortDirection: "DESC"},
			expected: QueryState{Page: 1, PerPage: 25, SortDirection: Desc},
		},
		{
			name:     "bogus direction",
			in:       QueryState{Page: 2, PerPage: 50, SortDirection: "sideways", Search: "  ali "},
			expected: QueryState{Page: 2, PerPage: 50, SortDirection: Asc, Search: "ali"},
		},
		{
			name:     "per page capped",
			in:       QueryState{Page: 1, PerPage: 10_000},
			expected: QueryState{Page: 1, PerPage: MaxPerPage, SortDirection: Asc},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.in.Normalize(25))
		})
	}
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, QueryState{Page: 1, PerPage: 10}.Offset())
	assert.Equal(t, 40, QueryState{Page: 3, PerPage: 20}.Offset())
	assert.Equal(t, 0, QueryState{}.Offset())
}

func TestFromValues(t *testing.T) {
	// Basic pagination
	q, _ := url.ParseQuery("limit=25&offset=50&search=test")
	s := FromValues(q, QueryState{})
	assert.Equal(t, 25, s.PerPage)
	assert.Equal(t, 3, s.Page)
	assert.Equal(t, "test", s.Search)

	// Sorting and filtering
	q, _ = url.ParseQuery("sort=name:DESC&filter=salary&filter_op=>&filter_value=100&page=2&per_page=5")
	s = FromValues(q, QueryState{Search: "kept"})
	assert.Equal(t, "name", s.SortColumn)
	assert.Equal(t, Desc, s.SortDirection)
	assert.Equal(t, "salary", s.FilterColumn)
	assert.Equal(t, ">", s.FilterOperator)
	assert.Equal(t, "100", s.FilterValue)
	assert.Equal(t, 2, s.Page)
	assert.Equal(t, 5, s.PerPage)
	assert.Equal(t, "kept", s.Search)
	assert.True(t, s.HasFilter())

	// Visibility toggles
	q, _ = url.ParseQuery("hide=email,phone&show=name")
	s = FromValues(q, QueryState{})
	assert.Equal(t, map[string]bool{"email": false, "phone": false, "name": true}, s.Visible)
}

func TestFromValuesDoesNotMutateBase(t *testing.T) {
	base := QueryState{Visible: map[string]bool{"email": true}}
	q, _ := url.ParseQuery("hide=email")
	s := FromValues(q, base)

	assert.False(t, s.Visible["email"])
	assert.True(t, base.Visible["email"])
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := Key{Table: "employees", User: "42"}

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	in := QueryState{Search: "ali", Visible: map[string]bool{"email": false}}
	require.NoError(t, store.Put(ctx, key, in))
	in.Visible["email"] = true

	out, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ali", out.Search)
	assert.False(t, out.Visible["email"])

	require.NoError(t, store.Forget(ctx, key))
	_, ok, _ = store.Get(ctx, key)
	assert.False(t, ok)
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not reachable, skipping integration test:", err)
	}

	store := NewRedisStore(client, time.Minute)
	key := Key{Table: "employees", User: "it"}
	require.NoError(t, store.Put(ctx, key, QueryState{SortColumn: "name", Page: 2}))

	out, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "name", out.SortColumn)
	assert.Equal(t, 2, out.Page)

	require.NoError(t, store.Forget(ctx, key))
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
