package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"
)

const cacheKeyPrefix = "backtest:md"

// RedisCache memoizes another provider's answers in Redis. Historical bars
// do not change once written, so entries only expire to bound memory.
// Cache failures are logged and fall through to the wrapped provider.
type RedisCache struct {
	next   Provider
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache wraps next with a Redis read-through cache
func NewRedisCache(next Provider, client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{next: next, client: client, ttl: ttl}
}

// QueryData implements Provider
func (c *RedisCache) QueryData(ctx context.Context, columns []Field, begin, end time.Time, entity string) ([]Row, error) {
	key := dataKey(columns, begin, end, entity)

	var rows []Row
	if c.load(ctx, key, &rows) {
		return rows, nil
	}

	rows, err := c.next.QueryData(ctx, columns, begin, end, entity)
	if err != nil {
		return nil, err
	}
	// An empty answer may be a gap that gets backfilled later.
	if len(rows) > 0 {
		c.store(ctx, key, rows)
	}
	return rows, nil
}

// QueryTradingCalendar implements Provider
func (c *RedisCache) QueryTradingCalendar(ctx context.Context, begin, end time.Time, onlyTradingDays bool) ([]time.Time, error) {
	key := calendarKey(begin, end, onlyTradingDays)

	var dates []time.Time
	if c.load(ctx, key, &dates) {
		return dates, nil
	}

	dates, err := c.next.QueryTradingCalendar(ctx, begin, end, onlyTradingDays)
	if err != nil {
		return nil, err
	}
	if len(dates) > 0 {
		c.store(ctx, key, dates)
	}
	return dates, nil
}

func (c *RedisCache) load(ctx context.Context, key string, dst interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logs.Errorf("redis get %s, err: %+v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logs.Errorf("decode cached %s, err: %+v", key, err)
		return false
	}
	return true
}

func (c *RedisCache) store(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logs.Errorf("encode %s for cache, err: %+v", key, err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logs.Errorf("redis set %s, err: %+v", key, err)
	}
}

func dataKey(columns []Field, begin, end time.Time, entity string) string {
	cols := make([]string, len(columns))
	for i, f := range columns {
		cols[i] = string(f)
	}
	if end.IsZero() {
		end = begin
	}
	if entity == "" {
		entity = "*"
	}
	return fmt.Sprintf("%s:data:%s:%s:%s:%s", cacheKeyPrefix, entity,
		Day(begin).Format("2006-01-02"), Day(end).Format("2006-01-02"), strings.Join(cols, ","))
}

func calendarKey(begin, end time.Time, onlyTradingDays bool) string {
	bound := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return Day(t).Format("2006-01-02")
	}
	return fmt.Sprintf("%s:calendar:%s:%s:%t", cacheKeyPrefix, bound(begin), bound(end), onlyTradingDays)
}
