package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Getter is anything that can retrieve the sheet text.
type Getter interface {
	Fetch(ctx context.Context, sourceID string) (Result, error)
}

// CacheConfig controls the shared Redis copy.
type CacheConfig struct {
	Prefix  string        // key prefix, "stockfeed:csv:" when empty
	TTL     time.Duration // lifetime of a cached body
	LockTTL time.Duration // how long one replica may hold the fetch lock
}

// CachedFetcher shares upstream fetches between replicas. The replica that
// obtains the lock fetches upstream and stores the text; the others serve
// the stored copy. Without a Redis client it passes straight through.
type CachedFetcher struct {
	next   Getter
	rdb    *redis.Client
	locker *redislock.Client
	cfg    CacheConfig
}

type cachedBody struct {
	Text      string    `json:"text"`
	Strategy  string    `json:"strategy"`
	URL       string    `json:"url"`
	Bytes     int64     `json:"bytes"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewCachedFetcher wraps next. rdb may be nil.
func NewCachedFetcher(next Getter, rdb *redis.Client, cfg CacheConfig) *CachedFetcher {
	if cfg.Prefix == "" {
		cfg.Prefix = "stockfeed:csv:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}

	c := &CachedFetcher{next: next, rdb: rdb, cfg: cfg}
	if rdb != nil {
		c.locker = redislock.New(rdb)
	}
	return c
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *CachedFetcher) key(sourceID string) string {
	return c.cfg.Prefix + sourceID
}

func (c *CachedFetcher) lockKey(sourceID string) string {
	return c.cfg.Prefix + "lock:" + sourceID
}

// Fetch returns fresh text when this replica wins the lock, otherwise the
// shared copy. Redis problems degrade to a direct upstream fetch.
func (c *CachedFetcher) Fetch(ctx context.Context, sourceID string) (Result, error) {
	if c.rdb == nil {
		return c.next.Fetch(ctx, sourceID)
	}

	lock, err := c.locker.Obtain(ctx, c.lockKey(sourceID), c.cfg.LockTTL, nil)
	switch {
	case errors.Is(err, redislock.ErrNotObtained):
		res, ok, cerr := c.Cached(ctx, sourceID)
		if cerr != nil {
			slog.Warn("read cached csv failed", "error", cerr)
		}
		if ok {
			return res, nil
		}
		return c.next.Fetch(ctx, sourceID)
	case err != nil:
		slog.Warn("obtain fetch lock failed; fetching without lock", "error", err)
		return c.next.Fetch(ctx, sourceID)
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			slog.Warn("release fetch lock failed", "error", rerr)
		}
	}()

	res, err := c.next.Fetch(ctx, sourceID)
	if err != nil {
		return Result{}, err
	}
	if err := c.store(ctx, sourceID, res); err != nil {
		slog.Warn("store cached csv failed", "error", err)
	}
	return res, nil
}

// Cached returns the shared copy, if any.
func (c *CachedFetcher) Cached(ctx context.Context, sourceID string) (Result, bool, error) {
	if c.rdb == nil {
		return Result{}, false, nil
	}

	val, err := c.rdb.Get(ctx, c.key(sourceID)).Result()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	var body cachedBody
	if err := json.Unmarshal([]byte(val), &body); err != nil {
		return Result{}, false, fmt.Errorf("decode cached csv: %w", err)
	}
	return Result{
		Text:     body.Text,
		Strategy: StrategyCache,
		URL:      body.URL,
		Bytes:    body.Bytes,
	}, true, nil
}

func (c *CachedFetcher) store(ctx context.Context, sourceID string, res Result) error {
	data, err := json.Marshal(cachedBody{
		Text:      res.Text,
		Strategy:  res.Strategy,
		URL:       res.URL,
		Bytes:     res.Bytes,
		FetchedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(sourceID), data, c.cfg.TTL).Err()
}

// Close releases the Redis client.
func (c *CachedFetcher) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
