package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *redis.Client {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}

	// Use DB 1 for testing to avoid conflicts with dev data
	opts.DB = 1

	client := redis.NewClient(opts)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

// =============================================================================
// Timeline
// =============================================================================

func TestTimelineKeys(t *testing.T) {
	if GlobalTimelineKey == HomeTimelineKey("global") {
		t.Error("home timeline keys must not collide with the global timeline")
	}
	if HomeTimelineKey("a") == HomeTimelineKey("b") {
		t.Error("home timeline keys must be per user")
	}

	c := NewTimelineCache(nil, TimelineOptions{GlobalCap: 7, HomeCap: 3})
	if c.Cap(GlobalTimelineKey) != 7 || c.Cap(HomeTimelineKey("u")) != 3 {
		t.Errorf("caps = %d/%d", c.Cap(GlobalTimelineKey), c.Cap(HomeTimelineKey("u")))
	}
}

func TestAddPostOnlyTouchesExistingTimelines(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	c := NewTimelineCache(client, TimelineOptions{})

	warm := HomeTimelineKey("warm")
	cold := HomeTimelineKey("cold")
	if err := c.WarmCache(ctx, warm, []PostScore{{PostID: "p1", Timestamp: 1000}}); err != nil {
		t.Fatalf("WarmCache: %v", err)
	}

	if err := c.AddPost(ctx, []string{warm, cold}, PostScore{PostID: "p2", Timestamp: 2000}); err != nil {
		t.Fatalf("AddPost: %v", err)
	}

	ids, err := c.Range(ctx, warm, 0, 10)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(ids) != 2 || ids[0] != "p2" || ids[1] != "p1" {
		t.Errorf("warm timeline = %v, want [p2 p1]", ids)
	}

	exists, err := c.Exists(ctx, cold)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("AddPost must not create a missing timeline")
	}
}

func TestTimelineTrimsToCap(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	c := NewTimelineCache(client, TimelineOptions{HomeCap: 3})
	key := HomeTimelineKey("u1")

	posts := make([]PostScore, 5)
	for i := range posts {
		posts[i] = PostScore{PostID: fmt.Sprintf("p%d", i), Timestamp: int64(1000 + i)}
	}
	if err := c.WarmCache(ctx, key, posts); err != nil {
		t.Fatalf("WarmCache: %v", err)
	}

	size, err := c.Size(ctx, key)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 3 {
		t.Fatalf("size = %d, want 3", size)
	}

	if err := c.AddPost(ctx, []string{key}, PostScore{PostID: "p9", Timestamp: 9000}); err != nil {
		t.Fatalf("AddPost: %v", err)
	}
	ids, _ := c.Range(ctx, key, 0, 10)
	want := []string{"p9", "p4", "p3"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("timeline = %v, want %v", ids, want)
	}
}

func TestTimelineRemoval(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	c := NewTimelineCache(client, TimelineOptions{})

	keys := []string{GlobalTimelineKey, HomeTimelineKey("a"), HomeTimelineKey("b")}
	for _, key := range keys {
		if err := c.WarmCache(ctx, key, []PostScore{{PostID: "p1", Timestamp: 1}, {PostID: "p2", Timestamp: 2}}); err != nil {
			t.Fatalf("WarmCache: %v", err)
		}
	}

	if err := c.RemoveFromAll(ctx, keys, "p2"); err != nil {
		t.Fatalf("RemoveFromAll: %v", err)
	}
	if err := c.RemovePosts(ctx, HomeTimelineKey("a"), "p1"); err != nil {
		t.Fatalf("RemovePosts: %v", err)
	}

	for key, want := range map[string]int64{GlobalTimelineKey: 1, HomeTimelineKey("a"): 0, HomeTimelineKey("b"): 1} {
		size, err := c.Size(ctx, key)
		if err != nil {
			t.Fatalf("Size: %v", err)
		}
		if size != want {
			t.Errorf("%s size = %d, want %d", key, size, want)
		}
	}
}

func TestRangePagination(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	c := NewTimelineCache(client, TimelineOptions{})

	posts := make([]PostScore, 6)
	for i := range posts {
		posts[i] = PostScore{PostID: fmt.Sprintf("p%d", i), Timestamp: int64(i)}
	}
	if err := c.WarmCache(ctx, GlobalTimelineKey, posts); err != nil {
		t.Fatalf("WarmCache: %v", err)
	}

	page2, err := c.Range(ctx, GlobalTimelineKey, 2, 2)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if fmt.Sprint(page2) != "[p3 p2]" {
		t.Errorf("page 2 = %v, want [p3 p2]", page2)
	}

	empty, err := c.Range(ctx, GlobalTimelineKey, 0, 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("zero limit = %v, %v", empty, err)
	}
}

// =============================================================================
// Idempotency
// =============================================================================

func TestIdempotencyStoreLifecycle(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	s := NewIdempotencyStore(client)

	ok, err := s.Reserve(ctx, "k1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Reserve = %v, %v", ok, err)
	}
	ok, err = s.Reserve(ctx, "k1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second Reserve = %v, %v, want false", ok, err)
	}

	pending, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pending == nil || !pending.Pending {
		t.Fatalf("reserved key should be pending, got %+v", pending)
	}

	resp := StoredResponse{Status: 200, ContentType: "application/json", Body: []byte(`{"liked":true}`)}
	if err := s.Complete(ctx, "k1", resp, time.Minute); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Pending || got.Status != 200 || string(got.Body) != `{"liked":true}` {
		t.Errorf("stored = %+v", got)
	}

	if err := s.Release(ctx, "k1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got, _ := s.Get(ctx, "k1"); got != nil {
		t.Errorf("released key still stored: %+v", got)
	}
	if ok, _ := s.Reserve(ctx, "k1", time.Minute); !ok {
		t.Error("released key should be reservable again")
	}
}
