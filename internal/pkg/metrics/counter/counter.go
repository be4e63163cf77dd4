package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/VenueFox/internal/pkg/cache"
	"github.com/ManuelReschke/VenueFox/internal/pkg/database"
)

const listingViewsKey = "listing:counters:views"

// AddListingView increments the pending view counter for a listing in Redis
func AddListingView(ctx context.Context, listingID uint) error {
	field := strconv.FormatUint(uint64(listingID), 10)
	return cache.GetClient().HIncrBy(ctx, listingViewsKey, field, 1).Err()
}

// PendingListingViews returns views counted since the last flush.
func PendingListingViews(ctx context.Context, listingIDs ...uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(listingIDs))
	if len(listingIDs) == 0 {
		return out, nil
	}
	fields := make([]string, len(listingIDs))
	for i, id := range listingIDs {
		fields[i] = strconv.FormatUint(uint64(id), 10)
	}
	vals, err := cache.GetClient().HMGet(ctx, listingViewsKey, fields...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out[listingIDs[i]] = n
		}
	}
	return out, nil
}

// FlushAll moves pending listing views into listings.view_count
func FlushAll(ctx context.Context) error {
	pairs, err := drain(ctx, cache.GetClient(), listingViewsKey)
	if err != nil || len(pairs) == 0 {
		return err
	}
	sql, args := buildIncrement("listings", "view_count", pairs)
	return database.GetDB().WithContext(ctx).Exec(sql, args...).Error
}

type increment struct {
	id  uint64
	inc int64
}

// drain empties a counter hash. RENAME to a temporary key keeps increments
// that arrive during the flush in the live hash.
func drain(ctx context.Context, rdb *redis.Client, key string) ([]increment, error) {
	tmpKey := fmt.Sprintf("%s:tmp:%d", key, time.Now().UnixNano())
	if err := rdb.Rename(ctx, key, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil, nil
		}
		return nil, err
	}
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}

	pairs := make([]increment, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, increment{id: id, inc: inc})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
	return pairs, nil
}

// buildIncrement renders
// UPDATE <table> SET <column> = <column> + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
func buildIncrement(table, column string, pairs []increment) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	fmt.Fprintf(&b, "UPDATE %s SET %s = %s + CASE id", table, column, column)
	for _, p := range pairs {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	b.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
		args = append(args, p.id)
	}
	b.WriteString(")")
	return b.String(), args
}
