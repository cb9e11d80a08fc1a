package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"socialgraph/internal/logging"
)

const (
	// GlobalTimelineKey holds every post, newest first.
	GlobalTimelineKey = "timeline:global"

	// HomeTimelinePrefix is the key prefix for per-user home timelines.
	HomeTimelinePrefix = "timeline:home:"

	DefaultGlobalCap = 1000
	DefaultHomeCap   = 500
	DefaultTTL       = 7 * 24 * time.Hour
)

// PostScore is a post id with its creation time in unix milliseconds.
type PostScore struct {
	PostID    string
	Timestamp int64
}

// HomeTimelineKey returns the Redis key of a user's home timeline.
func HomeTimelineKey(userID string) string {
	return HomeTimelinePrefix + userID
}

// TimelineCache keeps post ids ordered by creation time. Equal timestamps are
// ordered by post id descending, matching the store's (created_at, id) ordering.
type TimelineCache interface {
	// AddPost adds a post to each existing timeline and trims each to its cap.
	AddPost(ctx context.Context, keys []string, post PostScore) error

	// RemovePosts removes posts from a timeline.
	RemovePosts(ctx context.Context, key string, postIDs ...string) error

	// RemoveFromAll removes a post from each timeline.
	RemoveFromAll(ctx context.Context, keys []string, postID string) error

	// Range returns post ids at [offset, offset+limit) from newest.
	Range(ctx context.Context, key string, offset, limit int) ([]string, error)

	// WarmCache bulk-inserts posts and refreshes the TTL.
	WarmCache(ctx context.Context, key string, posts []PostScore) error

	// Size returns the number of cached posts.
	Size(ctx context.Context, key string) (int64, error)

	// Exists reports whether the timeline key is present. Callers warm it when false.
	Exists(ctx context.Context, key string) (bool, error)

	// Cap returns the maximum number of posts kept for key.
	Cap(key string) int
}

// TimelineOptions tunes RedisTimelineCache.
type TimelineOptions struct {
	GlobalCap int
	HomeCap   int
	TTL       time.Duration
}

// RedisTimelineCache implements TimelineCache using Redis sorted sets.
type RedisTimelineCache struct {
	client *redis.Client
	opts   TimelineOptions
}

// NewTimelineCache creates a TimelineCache backed by Redis.
func NewTimelineCache(client *redis.Client, opts TimelineOptions) *RedisTimelineCache {
	if opts.GlobalCap <= 0 {
		opts.GlobalCap = DefaultGlobalCap
	}
	if opts.HomeCap <= 0 {
		opts.HomeCap = DefaultHomeCap
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &RedisTimelineCache{client: client, opts: opts}
}

func (c *RedisTimelineCache) Cap(key string) int {
	if key == GlobalTimelineKey {
		return c.opts.GlobalCap
	}
	return c.opts.HomeCap
}

// AddPost pipelines ZADD + ZREMRANGEBYRANK (trim to cap) + EXPIRE for every key that
// already exists. A missing timeline stays missing so the next read warms it fully.
func (c *RedisTimelineCache) AddPost(ctx context.Context, keys []string, post PostScore) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()

	checks := c.client.Pipeline()
	exists := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		exists[i] = checks.Exists(ctx, key)
	}
	if _, err := checks.Exec(ctx); err != nil {
		return fmt.Errorf("check timelines: %w", err)
	}

	pipe := c.client.Pipeline()
	added := 0
	for i, key := range keys {
		if exists[i].Val() == 0 {
			continue
		}
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(post.Timestamp), Member: post.PostID})
		// rank 0 is the oldest; keep the newest Cap(key)
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-c.Cap(key)-1))
		pipe.Expire(ctx, key, c.opts.TTL)
		added++
	}
	if added == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add post to timelines: %w", err)
	}

	logging.Debug().
		Str("component", "timeline").
		Str("post_id", post.PostID).
		Int("timelines", added).
		Dur("duration", time.Since(start)).
		Msg("post added")
	return nil
}

func (c *RedisTimelineCache) RemovePosts(ctx context.Context, key string, postIDs ...string) error {
	if len(postIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(postIDs))
	for i, id := range postIDs {
		members[i] = id
	}
	if err := c.client.ZRem(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("remove posts from timeline: %w", err)
	}
	return nil
}

func (c *RedisTimelineCache) RemoveFromAll(ctx context.Context, keys []string, postID string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.ZRem(ctx, key, postID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove post from timelines: %w", err)
	}
	return nil
}

// Range uses ZREVRANGE so ties come back by member descending.
func (c *RedisTimelineCache) Range(ctx context.Context, key string, offset, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	ids, err := c.client.ZRevRange(ctx, key, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("range timeline: %w", err)
	}
	return ids, nil
}

func (c *RedisTimelineCache) WarmCache(ctx context.Context, key string, posts []PostScore) error {
	if len(posts) == 0 {
		return nil
	}
	start := time.Now()

	members := make([]redis.Z, len(posts))
	for i, p := range posts {
		members[i] = redis.Z{Score: float64(p.Timestamp), Member: p.PostID}
	}

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-c.Cap(key)-1))
	pipe.Expire(ctx, key, c.opts.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("warm timeline: %w", err)
	}

	logging.Debug().
		Str("component", "timeline").
		Str("key", key).
		Int("posts", len(posts)).
		Dur("duration", time.Since(start)).
		Msg("timeline warmed")
	return nil
}

func (c *RedisTimelineCache) Size(ctx context.Context, key string) (int64, error) {
	size, err := c.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("timeline size: %w", err)
	}
	return size, nil
}

func (c *RedisTimelineCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check timeline exists: %w", err)
	}
	return n > 0, nil
}
