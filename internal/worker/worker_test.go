package worker_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"socialgraph/internal/cache"
	"socialgraph/internal/model"
	"socialgraph/internal/queue"
	"socialgraph/internal/repository"
	"socialgraph/internal/worker"
)

// =============================================================================
// Mock Implementations
// =============================================================================

// MockFollowerProvider simulates the follower repository.
type MockFollowerProvider struct {
	followers map[string][]string
}

func NewMockFollowerProvider() *MockFollowerProvider {
	return &MockFollowerProvider{followers: make(map[string][]string)}
}

func (m *MockFollowerProvider) AddFollower(userID, followerID string) {
	m.followers[userID] = append(m.followers[userID], followerID)
}

func (m *MockFollowerProvider) GetFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	return m.followers[userID], nil
}

// MockPostsProvider simulates the posts repository.
type MockPostsProvider struct {
	posts map[string][]cache.PostScore
}

func NewMockPostsProvider() *MockPostsProvider {
	return &MockPostsProvider{posts: make(map[string][]cache.PostScore)}
}

func (m *MockPostsProvider) AddPost(authorID, postID string, timestamp int64) {
	m.posts[authorID] = append(m.posts[authorID], cache.PostScore{PostID: postID, Timestamp: timestamp})
}

func (m *MockPostsProvider) ScoresByAuthors(ctx context.Context, authorIDs []string, limit int) ([]cache.PostScore, error) {
	var out []cache.PostScore
	for _, id := range authorIDs {
		out = append(out, m.posts[id]...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MockNotifier records delivered notifications and dedupes by id.
type MockNotifier struct {
	mu        sync.Mutex
	delivered map[string]model.Notification
	err       error
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{delivered: make(map[string]model.Notification)}
}

func (m *MockNotifier) Deliver(ctx context.Context, n *model.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.delivered[n.ID]; ok {
		return false, nil
	}
	m.delivered[n.ID] = *n
	return true, nil
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

// MockConsumer hands out one batch of messages and records acknowledgements.
type MockConsumer struct {
	mu     sync.Mutex
	batch  []queue.Message
	served bool
	acked  []string
}

func (m *MockConsumer) EnsureGroup(ctx context.Context, stream, group string) error { return nil }

func (m *MockConsumer) Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]queue.Message, error) {
	m.mu.Lock()
	if !m.served {
		m.served = true
		batch := m.batch
		m.mu.Unlock()
		return batch, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (m *MockConsumer) ReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]queue.Message, error) {
	return nil, nil
}

func (m *MockConsumer) Ack(ctx context.Context, stream, group string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, ids...)
	return nil
}

func (m *MockConsumer) Pending(ctx context.Context, stream, group string) (int64, error) {
	return 0, nil
}

func (m *MockConsumer) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

// HandlerFunc adapts a function to worker.EventHandler.
type HandlerFunc func(ctx context.Context, event queue.Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, event queue.Event) error { return f(ctx, event) }

// MockReconciler returns fixed reports.
type MockReconciler struct {
	edges  int64
	report repository.ReconcileReport
	calls  []string
}

func (m *MockReconciler) ReconcileCounters(ctx context.Context) (repository.ReconcileReport, error) {
	m.calls = append(m.calls, "counters")
	return m.report, nil
}

func (m *MockReconciler) ReconcileFollowEdges(ctx context.Context) (int64, error) {
	m.calls = append(m.calls, "edges")
	return m.edges, nil
}

// =============================================================================
// Notification Tests (no Redis)
// =============================================================================

func TestPostLiked_DeliversNotificationKeyedByEventID(t *testing.T) {
	notifier := NewMockNotifier()
	handler := worker.NewHandler(nil, NewMockFollowerProvider(), NewMockPostsProvider(), notifier)
	event := queue.NewPostLikedEvent("post-1", "actor", "author")

	// Redelivery must not duplicate
	for i := 0; i < 2; i++ {
		if err := handler.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
	}

	if notifier.Count() != 1 {
		t.Fatalf("delivered %d notifications, want 1", notifier.Count())
	}
	n := notifier.delivered[event.ID]
	if n.RecipientID != "author" || n.ActorID != "actor" || n.Type != model.NotificationTypeLike {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.PostID == nil || *n.PostID != "post-1" {
		t.Errorf("post id not set: %+v", n.PostID)
	}
}

func TestSelfInteraction_NoNotification(t *testing.T) {
	notifier := NewMockNotifier()
	handler := worker.NewHandler(nil, NewMockFollowerProvider(), NewMockPostsProvider(), notifier)

	events := []queue.Event{
		queue.NewPostLikedEvent("p", "same", "same"),
		queue.NewPostCommentedEvent("p", "c", "same", "same"),
	}
	for _, e := range events {
		if err := handler.HandleEvent(context.Background(), e); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
	}
	if notifier.Count() != 0 {
		t.Errorf("expected no notifications, got %d", notifier.Count())
	}
}

func TestPostCommented_CarriesCommentID(t *testing.T) {
	notifier := NewMockNotifier()
	handler := worker.NewHandler(nil, NewMockFollowerProvider(), NewMockPostsProvider(), notifier)
	event := queue.NewPostCommentedEvent("p", "c-1", "actor", "author")

	if err := handler.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	n := notifier.delivered[event.ID]
	if n.Type != model.NotificationTypeComment || n.CommentID == nil || *n.CommentID != "c-1" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestUnknownEventType(t *testing.T) {
	handler := worker.NewHandler(nil, NewMockFollowerProvider(), NewMockPostsProvider(), NewMockNotifier())
	if err := handler.HandleEvent(context.Background(), queue.Event{ID: "x", Type: "nope"}); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestDeliverError_IsReturned(t *testing.T) {
	notifier := NewMockNotifier()
	notifier.err = fmt.Errorf("insert: %w", model.ErrTransientStorage)
	handler := worker.NewHandler(nil, NewMockFollowerProvider(), NewMockPostsProvider(), notifier)

	err := handler.HandleEvent(context.Background(), queue.NewUserFollowedEvent("a", "b"))
	if !errors.Is(err, model.ErrTransientStorage) {
		t.Errorf("expected transient error, got %v", err)
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManager_AcksMalformedAndLeavesTransientPending(t *testing.T) {
	ok := queue.NewPostLikedEvent("p", "a", "b")
	flaky := queue.NewPostLikedEvent("p", "c", "b")
	consumer := &MockConsumer{batch: []queue.Message{
		{ID: "1-0", Event: ok},
		{ID: "2-0", ParseErr: errors.New("bad json")},
		{ID: "3-0", Event: flaky},
	}}

	handler := HandlerFunc(func(ctx context.Context, e queue.Event) error {
		if e.ID == flaky.ID {
			return fmt.Errorf("deliver: %w", model.ErrTransientStorage)
		}
		return nil
	})

	cfg := worker.DefaultManagerConfig()
	cfg.WorkerCount = 1
	m := worker.NewManager(consumer, handler, cfg)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(consumer.Acked()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	acked := consumer.Acked()
	if len(acked) != 2 || acked[0] != "1-0" || acked[1] != "2-0" {
		t.Errorf("acked = %v, want [1-0 2-0]", acked)
	}
}

// =============================================================================
// Reconciler Tests
// =============================================================================

func TestReconciler_RunOnceRepairsEdgesFirst(t *testing.T) {
	rec := &MockReconciler{edges: 2, report: repository.ReconcileReport{LikeCounts: 1}}
	r := worker.NewReconciler(rec, time.Minute)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.FollowEdges != 2 || report.LikeCounts != 1 || report.Total() != 3 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(rec.calls) != 2 || rec.calls[0] != "edges" {
		t.Errorf("calls = %v, want edges first", rec.calls)
	}
}

// =============================================================================
// Test Helpers
// =============================================================================

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
// Integration Tests
// =============================================================================

// TestPostCreatedFanout checks that a new post lands in the global timeline and in every
// cached home timeline of the author and followers, and nowhere else.
func TestPostCreatedFanout(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	timelines := cache.NewTimelineCache(client, cache.TimelineOptions{})
	followers := NewMockFollowerProvider()
	handler := worker.NewHandler(timelines, followers, NewMockPostsProvider(), NewMockNotifier())

	followers.AddFollower("author", "f1")
	followers.AddFollower("author", "f2")

	// f2 never read their home timeline, so it is not cached
	seed := []cache.PostScore{{PostID: "seed", Timestamp: 1}}
	for _, key := range []string{cache.GlobalTimelineKey, cache.HomeTimelineKey("author"), cache.HomeTimelineKey("f1")} {
		if err := timelines.WarmCache(ctx, key, seed); err != nil {
			t.Fatalf("WarmCache failed: %v", err)
		}
	}

	event := queue.NewPostCreatedEvent("post-1", "author", time.Now())
	if err := handler.HandleEvent(ctx, event); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	for _, key := range []string{cache.GlobalTimelineKey, cache.HomeTimelineKey("author"), cache.HomeTimelineKey("f1")} {
		ids, err := timelines.Range(ctx, key, 0, 1)
		if err != nil {
			t.Fatalf("Range failed: %v", err)
		}
		if len(ids) != 1 || ids[0] != "post-1" {
			t.Errorf("%s head = %v, want post-1", key, ids)
		}
	}

	exists, _ := timelines.Exists(ctx, cache.HomeTimelineKey("f2"))
	if exists {
		t.Error("uncached home timeline should not be created by fan-out")
	}
}

// TestPostDeletedRemoval checks that a deleted post disappears from all timelines.
func TestPostDeletedRemoval(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	timelines := cache.NewTimelineCache(client, cache.TimelineOptions{})
	followers := NewMockFollowerProvider()
	handler := worker.NewHandler(timelines, followers, NewMockPostsProvider(), NewMockNotifier())
	followers.AddFollower("author", "f1")

	post := []cache.PostScore{{PostID: "post-1", Timestamp: 100}}
	for _, key := range []string{cache.GlobalTimelineKey, cache.HomeTimelineKey("f1")} {
		if err := timelines.WarmCache(ctx, key, post); err != nil {
			t.Fatalf("WarmCache failed: %v", err)
		}
	}

	if err := handler.HandleEvent(ctx, queue.NewPostDeletedEvent("post-1", "author")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	for _, key := range []string{cache.GlobalTimelineKey, cache.HomeTimelineKey("f1")} {
		size, _ := timelines.Size(ctx, key)
		if size != 0 {
			t.Errorf("%s size = %d, want 0", key, size)
		}
	}
}

// TestFollowBackfillAndUnfollowRemoval checks home timeline upkeep on follow changes.
func TestFollowBackfillAndUnfollowRemoval(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	timelines := cache.NewTimelineCache(client, cache.TimelineOptions{})
	posts := NewMockPostsProvider()
	notifier := NewMockNotifier()
	handler := worker.NewHandler(timelines, NewMockFollowerProvider(), posts, notifier)

	posts.AddPost("followee", "p1", 200)
	posts.AddPost("followee", "p2", 100)

	home := cache.HomeTimelineKey("follower")
	if err := timelines.WarmCache(ctx, home, []cache.PostScore{{PostID: "own", Timestamp: 150}}); err != nil {
		t.Fatalf("WarmCache failed: %v", err)
	}

	if err := handler.HandleEvent(ctx, queue.NewUserFollowedEvent("follower", "followee")); err != nil {
		t.Fatalf("follow event failed: %v", err)
	}
	ids, _ := timelines.Range(ctx, home, 0, 10)
	if len(ids) != 3 || ids[0] != "p1" || ids[1] != "own" || ids[2] != "p2" {
		t.Errorf("after follow = %v, want [p1 own p2]", ids)
	}
	if notifier.Count() != 1 {
		t.Errorf("follow notifications = %d, want 1", notifier.Count())
	}

	if err := handler.HandleEvent(ctx, queue.NewUserUnfollowedEvent("follower", "followee")); err != nil {
		t.Fatalf("unfollow event failed: %v", err)
	}
	ids, _ = timelines.Range(ctx, home, 0, 10)
	if len(ids) != 1 || ids[0] != "own" {
		t.Errorf("after unfollow = %v, want [own]", ids)
	}
}
