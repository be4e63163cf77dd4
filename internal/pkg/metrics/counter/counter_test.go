package counter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/VenueFox/internal/pkg/cache"
)

func useMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache.SetClient(client)
	t.Cleanup(func() { cache.SetClient(nil) })
	return client
}

func TestAddListingView(t *testing.T) {
	ctx := context.Background()
	useMiniRedis(t)

	require.NoError(t, AddListingView(ctx, 4))
	require.NoError(t, AddListingView(ctx, 4))
	require.NoError(t, AddListingView(ctx, 9))

	pending, err := PendingListingViews(ctx, 4, 9, 12)
	require.NoError(t, err)
	assert.Equal(t, map[uint]int64{4: 2, 9: 1}, pending)
}

func TestDrain(t *testing.T) {
	ctx := context.Background()
	client := useMiniRedis(t)

	pairs, err := drain(ctx, client, listingViewsKey)
	require.NoError(t, err)
	assert.Empty(t, pairs)

	require.NoError(t, AddListingView(ctx, 7))
	require.NoError(t, AddListingView(ctx, 3))
	require.NoError(t, AddListingView(ctx, 7))
	require.NoError(t, client.HSet(ctx, listingViewsKey, "bogus", "1").Err())

	pairs, err = drain(ctx, client, listingViewsKey)
	require.NoError(t, err)
	assert.Equal(t, []increment{{id: 3, inc: 1}, {id: 7, inc: 2}}, pairs)

	keys, err := client.Keys(ctx, listingViewsKey+"*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys, "drained hash and its temporary copy are gone")
}

func TestBuildIncrement(t *testing.T) {
	sql, args := buildIncrement("listings", "view_count", []increment{{id: 3, inc: 1}, {id: 7, inc: 2}})

	assert.Equal(t, "UPDATE listings SET view_count = view_count + CASE id WHEN ? THEN ? WHEN ? THEN ? END WHERE id IN (?,?)", sql)
	assert.Equal(t, []interface{}{uint64(3), int64(1), uint64(7), int64(2), uint64(3), uint64(7)}, args)
}
