package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"socialgraph/internal/model"
	"socialgraph/internal/queue"
	"socialgraph/internal/repository"
	"socialgraph/internal/repository/memory"
	"socialgraph/internal/worker"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// recordingPublisher records events and optionally forwards them to a dispatcher.
type recordingPublisher struct {
	mu       sync.Mutex
	events   []queue.Event
	dispatch queue.DispatchFunc
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, event queue.Event) (string, error) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.dispatch != nil {
		if err := p.dispatch(ctx, event); err != nil {
			return "", err
		}
	}
	return "test-" + event.ID, nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// fakeMediaStore keeps refs in memory under the "/uploads/" prefix.
type fakeMediaStore struct {
	mu      sync.Mutex
	stored  []string
	deleted []string
}

func (f *fakeMediaStore) Store(_ context.Context, kind model.MediaKind, data []byte, _ string) (string, error) {
	if len(data) == 0 {
		return "", model.ErrEmptyFile
	}
	ref := "/uploads/" + string(kind) + "/" + uuid.NewString()
	f.mu.Lock()
	f.stored = append(f.stored, ref)
	f.mu.Unlock()
	return ref, nil
}

func (f *fakeMediaStore) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, ref)
	f.mu.Unlock()
	return nil
}

func (f *fakeMediaStore) Owns(ref string) bool {
	return strings.HasPrefix(ref, "/uploads/")
}

func (f *fakeMediaStore) OwnsKind(kind model.MediaKind, ref string) bool {
	return strings.HasPrefix(ref, "/uploads/"+string(kind)+"/")
}

type testEnv struct {
	store         *repository.Store
	publisher     *recordingPublisher
	media         *fakeMediaStore
	posts         *PostService
	comments      *CommentService
	follows       *FollowService
	feed          *FeedService
	users         *UserService
	notifications *NotificationService
}

// newTestEnv wires every service on the memory store. Events are dispatched in process
// through the worker handler, like the server does without Redis.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	notifications := NewNotificationService(store.Notifications, store.Users)
	handler := worker.NewHandler(nil, store.Follows, store.Posts, notifications)
	publisher := &recordingPublisher{dispatch: handler.HandleEvent}
	media := &fakeMediaStore{}

	return &testEnv{
		store:         store,
		publisher:     publisher,
		media:         media,
		posts:         NewPostService(store.Posts, store.Users, store.Comments, publisher),
		comments:      NewCommentService(store.Comments, store.Posts, store.Users, publisher),
		follows:       NewFollowService(store.Follows, store.Users, publisher),
		feed:          NewFeedService(nil, store.Posts, store.Follows, store.Users),
		users:         NewUserService(store.Users, store.Follows, store.Posts, media),
		notifications: notifications,
	}
}

func (e *testEnv) createUser(t *testing.T, username string) *model.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), model.CreateUserRequest{Username: username, FullName: "Full " + username})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func (e *testEnv) createPost(t *testing.T, authorID, content string, tags ...string) *model.Post {
	t.Helper()
	p, err := e.posts.CreatePost(context.Background(), authorID, model.CreatePostRequest{Content: content, Tags: tags})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}

// insertPost bypasses the service to control CreatedAt.
func (e *testEnv) insertPost(t *testing.T, authorID string, createdAt time.Time, tags ...string) *model.Post {
	t.Helper()
	p := &model.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Content:   "post",
		Tags:      tags,
		CreatedAt: createdAt,
	}
	if err := e.store.Posts.Create(context.Background(), p); err != nil {
		t.Fatalf("insert post: %v", err)
	}
	return p
}

// =============================================================================
// INTERACTION ENGINE
// =============================================================================

func TestLikeScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1 := env.createUser(t, "user_one")
	u2 := env.createUser(t, "user_two")
	post := env.createPost(t, u1.ID, "hello", "x")

	result, err := env.posts.ToggleLike(ctx, u2.ID, post.ID)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if !result.Liked || result.LikesCount != 1 {
		t.Errorf("got %+v, want liked with 1 like", result)
	}

	list, err := env.notifications.List(ctx, u1.ID, 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.UnreadCount != 1 || len(list.Notifications) != 1 {
		t.Fatalf("unread = %d, notifications = %d, want 1 and 1", list.UnreadCount, len(list.Notifications))
	}
	n := list.Notifications[0]
	if n.Type != model.NotificationTypeLike || n.ActorID != u2.ID || n.Read {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.Actor == nil || n.Actor.Username != "user_two" {
		t.Errorf("actor summary not resolved: %+v", n.Actor)
	}

	result, err = env.posts.ToggleLike(ctx, u2.ID, post.ID)
	if err != nil {
		t.Fatalf("unlike: %v", err)
	}
	if result.Liked || result.LikesCount != 0 {
		t.Errorf("got %+v, want unliked with 0 likes", result)
	}

	unread, _ := env.notifications.UnreadCount(ctx, u1.ID)
	if unread != 1 {
		t.Errorf("unread after unlike = %d, want 1", unread)
	}
}

func TestSelfLikeDoesNotNotify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1 := env.createUser(t, "author")
	post := env.createPost(t, u1.ID, "mine")

	if _, err := env.posts.ToggleLike(ctx, u1.ID, post.ID); err != nil {
		t.Fatalf("like: %v", err)
	}
	unread, _ := env.notifications.UnreadCount(ctx, u1.ID)
	if unread != 0 {
		t.Errorf("self-like created %d notifications", unread)
	}
	for _, typ := range env.publisher.types() {
		if typ == queue.EventPostLiked {
			t.Error("self-like must not publish post_liked")
		}
	}
}

func TestToggleLikeConcurrentDistinctActors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	author := env.createUser(t, "author")
	post := env.createPost(t, author.ID, "popular")

	const n = 25
	likers := make([]*model.User, n)
	for i := range likers {
		likers[i] = env.createUser(t, fmt.Sprintf("liker_%d", i))
	}

	var wg sync.WaitGroup
	for _, u := range likers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := env.posts.ToggleLike(ctx, id, post.ID); err != nil {
				t.Errorf("toggle: %v", err)
			}
		}(u.ID)
	}
	wg.Wait()

	got, err := env.store.Posts.GetByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LikesCount != n || len(got.LikerIDs) != n {
		t.Errorf("likes_count = %d, likers = %d, want %d", got.LikesCount, len(got.LikerIDs), n)
	}
}

func TestToggleLikeErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "someone")

	if _, err := env.posts.ToggleLike(ctx, u.ID, uuid.NewString()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing post: got %v, want ErrNotFound", err)
	}
	if _, err := env.posts.ToggleLike(ctx, u.ID, "nope"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("malformed id: got %v, want ErrValidation", err)
	}
}

func TestPublishFailureIsNotReturned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1 := env.createUser(t, "author")
	u2 := env.createUser(t, "fan")
	post := env.createPost(t, u1.ID, "hi")

	env.publisher.err = errors.New("redis down")
	result, err := env.posts.ToggleLike(ctx, u2.ID, post.ID)
	if err != nil {
		t.Fatalf("committed like must not fail on publish error: %v", err)
	}
	if !result.Liked {
		t.Error("expected liked")
	}
}

func TestCreatePostValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "writer")

	tests := []struct {
		name string
		req  model.CreatePostRequest
		want error
	}{
		{"empty", model.CreatePostRequest{Content: "   "}, model.ErrPostEmpty},
		{"too long", model.CreatePostRequest{Content: strings.Repeat("é", model.MaxPostContentLength+1)}, model.ErrContentTooLong},
		{"too many media", model.CreatePostRequest{MediaRefs: []string{"a", "b", "c", "d", "e", "f"}}, model.ErrTooManyMedia},
		{"blank media ref", model.CreatePostRequest{MediaRefs: []string{" "}}, model.ErrEmptyMediaRef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.posts.CreatePost(ctx, u.ID, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("%v is not a validation error", err)
			}
		})
	}

	// Content at the limit counts runes, not bytes.
	if _, err := env.posts.CreatePost(ctx, u.ID, model.CreatePostRequest{Content: strings.Repeat("é", model.MaxPostContentLength)}); err != nil {
		t.Errorf("content at limit rejected: %v", err)
	}

	// Media-only posts are allowed and tags are normalised.
	p, err := env.posts.CreatePost(ctx, u.ID, model.CreatePostRequest{MediaRefs: []string{"/uploads/posts/a.jpg"}, Tags: []string{" Go ", "go", ""}})
	if err != nil {
		t.Fatalf("media-only post: %v", err)
	}
	if len(p.Tags) != 1 || p.Tags[0] != "go" {
		t.Errorf("tags = %v, want [go]", p.Tags)
	}
	if p.LikesCount != 0 || p.CommentsCount != 0 || p.Author == nil {
		t.Errorf("unexpected new post %+v", p)
	}

	if _, err := env.posts.CreatePost(ctx, uuid.NewString(), model.CreatePostRequest{Content: "ghost"}); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("unknown author: got %v", err)
	}
}

func TestDeletePost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner")
	other := env.createUser(t, "other")
	post := env.createPost(t, owner.ID, "bye")

	if err := env.posts.DeletePost(ctx, other.ID, post.ID); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("non-owner delete: got %v, want ErrForbidden", err)
	}
	if err := env.posts.DeletePost(ctx, owner.ID, post.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.posts.DeletePost(ctx, owner.ID, post.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}

	types := env.publisher.types()
	if types[len(types)-1] != queue.EventPostDeleted {
		t.Errorf("last event = %s, want %s", types[len(types)-1], queue.EventPostDeleted)
	}
}

func TestCommentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	author := env.createUser(t, "author")
	commenter := env.createUser(t, "commenter")
	post := env.createPost(t, author.ID, "discuss")

	if _, err := env.comments.CreateComment(ctx, commenter.ID, post.ID, "  "); !errors.Is(err, model.ErrContentRequired) {
		t.Errorf("empty comment: got %v", err)
	}
	if _, err := env.comments.CreateComment(ctx, commenter.ID, uuid.NewString(), "hi"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing post: got %v", err)
	}

	c, err := env.comments.CreateComment(ctx, commenter.ID, post.ID, "nice")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if c.Author == nil || c.Author.ID != commenter.ID {
		t.Errorf("author summary = %+v", c.Author)
	}

	got, _ := env.store.Posts.GetByID(ctx, post.ID)
	if got.CommentsCount != 1 || len(got.CommentIDs) != 1 || got.CommentIDs[0] != c.ID {
		t.Errorf("post after comment: count=%d ids=%v", got.CommentsCount, got.CommentIDs)
	}

	list, _ := env.notifications.List(ctx, author.ID, 1, 10)
	if len(list.Notifications) != 1 || list.Notifications[0].Type != model.NotificationTypeComment {
		t.Fatalf("expected one comment notification, got %+v", list.Notifications)
	}
	if cid := list.Notifications[0].CommentID; cid == nil || *cid != c.ID {
		t.Errorf("notification comment id = %v, want %s", cid, c.ID)
	}

	// The author commenting on their own post notifies nobody.
	if _, err := env.comments.CreateComment(ctx, author.ID, post.ID, "thanks"); err != nil {
		t.Fatalf("self comment: %v", err)
	}
	if unread, _ := env.notifications.UnreadCount(ctx, author.ID); unread != 1 {
		t.Errorf("unread = %d after self comment, want 1", unread)
	}

	comments, err := env.comments.ListComments(ctx, post.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 2 || comments[0].CreatedAt.Before(comments[1].CreatedAt) {
		t.Errorf("comments not newest first: %+v", comments)
	}

	if err := env.comments.DeleteComment(ctx, author.ID, c.ID); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("non-owner delete: got %v", err)
	}
	if err := env.comments.DeleteComment(ctx, commenter.ID, c.ID); err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	if err := env.comments.DeleteComment(ctx, commenter.ID, c.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}

	got, _ = env.store.Posts.GetByID(ctx, post.ID)
	if got.CommentsCount != 1 || len(got.CommentIDs) != 1 {
		t.Errorf("after delete: count=%d ids=%v, want 1", got.CommentsCount, got.CommentIDs)
	}

	detail, err := env.posts.GetPost(ctx, post.ID, "")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if len(detail.Comments) != 1 || detail.Author == nil || detail.LikedByViewer {
		t.Errorf("unexpected detail %+v", detail)
	}

	if _, err := env.posts.ToggleLike(ctx, commenter.ID, post.ID); err != nil {
		t.Fatalf("like: %v", err)
	}
	detail, err = env.posts.GetPost(ctx, post.ID, commenter.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if !detail.LikedByViewer {
		t.Error("liker should see liked_by_viewer")
	}
}

// =============================================================================
// SOCIAL GRAPH ENGINE
// =============================================================================

func TestFollowToggleScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1 := env.createUser(t, "follower")
	u2 := env.createUser(t, "followee")

	res, err := env.follows.ToggleFollow(ctx, u1.ID, u2.ID)
	if err != nil || !res.Following {
		t.Fatalf("follow: %+v, %v", res, err)
	}
	if unread, _ := env.notifications.UnreadCount(ctx, u2.ID); unread != 1 {
		t.Errorf("follow notifications = %d, want 1", unread)
	}

	res, err = env.follows.ToggleFollow(ctx, u1.ID, u2.ID)
	if err != nil || res.Following {
		t.Fatalf("unfollow: %+v, %v", res, err)
	}
	if unread, _ := env.notifications.UnreadCount(ctx, u2.ID); unread != 1 {
		t.Errorf("unfollow must not notify, unread = %d", unread)
	}

	a, _ := env.store.Users.GetByID(ctx, u1.ID)
	b, _ := env.store.Users.GetByID(ctx, u2.ID)
	if len(a.FollowingIDs) != 0 || a.FollowingCount != 0 {
		t.Errorf("follower still follows: %v", a.FollowingIDs)
	}
	if len(b.FollowerIDs) != 0 || b.FollowerCount != 0 {
		t.Errorf("followee still followed: %v", b.FollowerIDs)
	}
}

func TestFollowErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "lonely")

	if _, err := env.follows.ToggleFollow(ctx, u.ID, u.ID); !errors.Is(err, model.ErrValidation) {
		t.Errorf("self-follow: got %v, want ErrValidation", err)
	}
	if _, err := env.follows.ToggleFollow(ctx, u.ID, uuid.NewString()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing target: got %v, want ErrNotFound", err)
	}
}

func TestFollowSymmetryUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	users := make([]*model.User, 5)
	for i := range users {
		users[i] = env.createUser(t, fmt.Sprintf("member_%d", i))
	}

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for i, a := range users {
			for j, b := range users {
				if i == j {
					continue
				}
				wg.Add(1)
				go func(a, b string) {
					defer wg.Done()
					if _, err := env.follows.ToggleFollow(ctx, a, b); err != nil {
						t.Errorf("toggle: %v", err)
					}
				}(a.ID, b.ID)
			}
		}
	}
	wg.Wait()

	loaded := make(map[string]*model.User, len(users))
	for _, u := range users {
		loaded[u.ID], _ = env.store.Users.GetByID(ctx, u.ID)
	}
	for _, a := range loaded {
		for _, b := range loaded {
			if a.ID == b.ID {
				continue
			}
			if contains(a.FollowingIDs, b.ID) != contains(b.FollowerIDs, a.ID) {
				t.Errorf("asymmetric edge %s -> %s", a.Username, b.Username)
			}
		}
		if a.FollowerCount != len(a.FollowerIDs) || a.FollowingCount != len(a.FollowingIDs) {
			t.Errorf("%s counters drifted", a.Username)
		}
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// =============================================================================
// QUERY ENGINE
// =============================================================================

func TestTrendingTiebreak(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	author := env.createUser(t, "author")
	fans := make([]*model.User, 5)
	for i := range fans {
		fans[i] = env.createUser(t, fmt.Sprintf("fan_%d", i))
	}

	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
	likes := []int{5, 3, 3, 1}
	posts := make([]*model.Post, len(likes))
	for i, n := range likes {
		posts[i] = env.insertPost(t, author.ID, base.Add(time.Duration(i)*time.Minute))
		for _, fan := range fans[:n] {
			if _, err := env.posts.ToggleLike(ctx, fan.ID, posts[i].ID); err != nil {
				t.Fatalf("like: %v", err)
			}
		}
	}

	got, err := env.feed.Trending(ctx, 0)
	if err != nil {
		t.Fatalf("trending: %v", err)
	}
	want := []string{posts[0].ID, posts[2].ID, posts[1].ID, posts[3].ID}
	if len(got) != len(want) {
		t.Fatalf("got %d posts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("position %d: got likes=%d, want post %d", i, got[i].LikesCount, i)
		}
	}
}

func TestFeedPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	author := env.createUser(t, "author")
	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, env.insertPost(t, author.ID, base.Add(time.Duration(i)*time.Second)).ID)
	}
	// Same timestamp as the newest: the larger id sorts first.
	tie := env.insertPost(t, author.ID, base.Add(4*time.Second))

	first, err := env.feed.Feed(ctx, 1, 2)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(first.Posts) != 2 || !first.HasMore {
		t.Fatalf("page 1: %d posts, has_more=%v", len(first.Posts), first.HasMore)
	}
	newest := []string{ids[4], tie.ID}
	if tie.ID > ids[4] {
		newest = []string{tie.ID, ids[4]}
	}
	if first.Posts[0].ID != newest[0] || first.Posts[1].ID != newest[1] {
		t.Errorf("tie not broken by id desc")
	}
	if first.Posts[0].Author == nil {
		t.Error("author not attached")
	}

	last, _ := env.feed.Feed(ctx, 3, 2)
	if len(last.Posts) != 2 || last.Posts[1].ID != ids[0] {
		t.Errorf("page 3 should end with the oldest post")
	}
	empty, _ := env.feed.Feed(ctx, 9, 2)
	if len(empty.Posts) != 0 || empty.HasMore {
		t.Errorf("page past the end: %+v", empty)
	}

	if _, err := env.feed.Feed(ctx, -1, 2); !errors.Is(err, model.ErrInvalidPage) {
		t.Errorf("negative page: got %v", err)
	}
	if _, err := env.feed.Feed(ctx, math.MaxInt, 50); !errors.Is(err, model.ErrInvalidPage) {
		t.Errorf("huge page: got %v", err)
	}
	capped, _ := env.feed.Feed(ctx, 1, 500)
	if capped.PageSize != model.MaxFeedPageSize {
		t.Errorf("page size = %d, want %d", capped.PageSize, model.MaxFeedPageSize)
	}
}

func TestHomeFeedWithoutCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reader := env.createUser(t, "reader")
	followed := env.createUser(t, "followed")
	stranger := env.createUser(t, "stranger")

	env.createPost(t, stranger.ID, "ignored")
	env.createPost(t, followed.ID, "seen")
	env.createPost(t, reader.ID, "own")

	if _, err := env.follows.ToggleFollow(ctx, reader.ID, followed.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}

	page, err := env.feed.HomeFeed(ctx, reader.ID, 1, 10)
	if err != nil {
		t.Fatalf("home feed: %v", err)
	}
	if len(page.Posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(page.Posts))
	}
	for _, p := range page.Posts {
		if p.AuthorID == stranger.ID {
			t.Error("home feed contains a stranger's post")
		}
	}
}

func TestByTag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "tagger")

	env.createPost(t, u.ID, "one", "Go")
	env.createPost(t, u.ID, "two", "rust")

	got, err := env.feed.ByTag(ctx, "  GO ")
	if err != nil {
		t.Fatalf("by tag: %v", err)
	}
	if len(got) != 1 || got[0].Content != "one" {
		t.Errorf("got %+v", got)
	}
	if _, err := env.feed.ByTag(ctx, " "); !errors.Is(err, model.ErrEmptyTag) {
		t.Errorf("empty tag: got %v", err)
	}
}

// =============================================================================
// USERS
// =============================================================================

func TestCreateUserValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{"ab", "has space", "bad!", strings.Repeat("a", 31)} {
		if _, err := env.users.CreateUser(ctx, model.CreateUserRequest{Username: name}); !errors.Is(err, model.ErrInvalidUsername) {
			t.Errorf("%q: got %v, want ErrInvalidUsername", name, err)
		}
	}

	env.createUser(t, "Alice.B")
	if _, err := env.users.CreateUser(ctx, model.CreateUserRequest{Username: "alice.b"}); !errors.Is(err, model.ErrUsernameExists) {
		t.Errorf("case-insensitive duplicate: got %v", err)
	}
}

func TestSearchUsersIsLiteral(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createUser(t, "a.lice")
	env.createUser(t, "alice")

	got, err := env.users.SearchUsers(ctx, "A.L", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Username != "a.lice" {
		t.Errorf("got %+v, want only a.lice", got)
	}
	if _, err := env.users.SearchUsers(ctx, "  ", 0); !errors.Is(err, model.ErrEmptySearchQuery) {
		t.Errorf("empty query: got %v", err)
	}
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1 := env.createUser(t, "profiled")
	u2 := env.createUser(t, "fan")
	base := time.Now().UTC().Truncate(time.Millisecond)
	older := env.insertPost(t, u1.ID, base)
	newer := env.insertPost(t, u1.ID, base.Add(time.Second))
	if _, err := env.follows.ToggleFollow(ctx, u2.ID, u1.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}

	profile, err := env.users.Profile(ctx, u1.ID, u2.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !profile.IsFollowing {
		t.Error("follower should see is_following")
	}
	if len(profile.Followers) != 1 || profile.Followers[0].Username != "fan" {
		t.Errorf("followers = %+v", profile.Followers)
	}
	if len(profile.Following) != 0 {
		t.Errorf("following = %+v", profile.Following)
	}
	if len(profile.Posts) != 2 || profile.Posts[0].ID != newer.ID || profile.Posts[1].ID != older.ID {
		t.Errorf("posts not newest first")
	}

	anonymous, err := env.users.Profile(ctx, u1.ID, "")
	if err != nil || anonymous.IsFollowing {
		t.Errorf("anonymous profile: %+v, %v", anonymous, err)
	}
	self, err := env.users.Profile(ctx, u1.ID, u1.ID)
	if err != nil || self.IsFollowing {
		t.Errorf("own profile: %+v, %v", self, err)
	}

	if _, err := env.users.Profile(ctx, "not-a-uuid", ""); !errors.Is(err, model.ErrValidation) {
		t.Errorf("malformed id: got %v", err)
	}
	if _, err := env.users.Profile(ctx, uuid.NewString(), ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing user: got %v", err)
	}
}

func TestUpdateProfileAvatarCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.createUser(t, "vain")
	other := env.createUser(t, "other")

	name := "New Name"
	if _, err := env.users.UpdateProfile(ctx, other.ID, u.ID, model.UpdateProfileRequest{FullName: &name}); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("foreign update: got %v", err)
	}

	owned, err := env.users.ReplaceAvatar(ctx, u.ID, []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("replace avatar: %v", err)
	}

	external := "https://cdn.example.com/me.png"
	updated, err := env.users.UpdateProfile(ctx, u.ID, u.ID, model.UpdateProfileRequest{FullName: &name, AvatarRef: &external})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.FullName != name || updated.AvatarRef == nil || *updated.AvatarRef != external {
		t.Errorf("unexpected user %+v", updated)
	}
	if len(env.media.deleted) != 1 || env.media.deleted[0] != owned {
		t.Errorf("owned avatar not deleted: %v", env.media.deleted)
	}

	// Replacing an external URL never deletes it.
	if _, err := env.users.ReplaceAvatar(ctx, u.ID, []byte("img2"), "image/png"); err != nil {
		t.Fatalf("replace avatar: %v", err)
	}
	if len(env.media.deleted) != 1 {
		t.Errorf("external avatar was deleted: %v", env.media.deleted)
	}
}

func TestUpdateProfileRejectsStoredRefs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	victim := env.createUser(t, "victim")
	attacker := env.createUser(t, "attacker")

	postRef, err := env.media.Store(ctx, model.MediaKindPost, []byte("photo"), "image/png")
	if err != nil {
		t.Fatalf("store post media: %v", err)
	}
	victimAvatar, err := env.users.ReplaceAvatar(ctx, victim.ID, []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("replace avatar: %v", err)
	}

	for _, ref := range []string{postRef, victimAvatar} {
		ref := ref
		_, err := env.users.UpdateProfile(ctx, attacker.ID, attacker.ID, model.UpdateProfileRequest{AvatarRef: &ref})
		if !errors.Is(err, model.ErrAvatarRefNotAllowed) || !errors.Is(err, model.ErrValidation) {
			t.Errorf("adopting %q: got %v", ref, err)
		}
	}

	// Keeping one's own current avatar is allowed and deletes nothing.
	same := victimAvatar
	if _, err := env.users.UpdateProfile(ctx, victim.ID, victim.ID, model.UpdateProfileRequest{AvatarRef: &same}); err != nil {
		t.Fatalf("keep avatar: %v", err)
	}
	if len(env.media.deleted) != 0 {
		t.Errorf("deleted %v", env.media.deleted)
	}
}

func TestAvatarSwapLeavesPostMediaAlone(t *testing.T) {
	store := memory.NewStore()
	media, err := NewLocalMediaStore(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	users := NewUserService(store.Users, store.Follows, store.Posts, media)
	ctx := context.Background()

	owner, err := users.CreateUser(ctx, model.CreateUserRequest{Username: "owner"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	postRef, err := media.Store(ctx, model.MediaKindPost, pngBytes(t, 4, 4), "image/png")
	if err != nil {
		t.Fatalf("store post media: %v", err)
	}
	onDisk := filepath.Join(media.Dir(), filepath.FromSlash(strings.TrimPrefix(postRef, "/uploads/")))

	// A post media ref that reached the avatar column by other means is still not an avatar.
	if _, err := store.Users.UpdateProfile(ctx, owner.ID, model.UpdateProfileRequest{AvatarRef: &postRef}); err != nil {
		t.Fatalf("seed avatar: %v", err)
	}
	external := "https://cdn.example.com/me.png"
	if _, err := users.UpdateProfile(ctx, owner.ID, owner.ID, model.UpdateProfileRequest{AvatarRef: &external}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := os.Stat(onDisk); err != nil {
		t.Errorf("post media deleted by avatar swap: %v", err)
	}
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestNotificationReadState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner")
	actor := env.createUser(t, "actor")
	intruder := env.createUser(t, "intruder")

	first, err := env.notifications.Notify(ctx, owner.ID, model.NotificationTypeFollow, actor.ID, nil, nil)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if _, err := env.notifications.Notify(ctx, owner.ID, model.NotificationTypeFollow, actor.ID, nil, nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if _, err := env.notifications.Notify(ctx, owner.ID, "poke", actor.ID, nil, nil); !errors.Is(err, model.ErrInvalidNotificationType) {
		t.Errorf("unknown type: got %v", err)
	}

	if err := env.notifications.MarkRead(ctx, intruder.ID, first.ID); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("foreign mark read: got %v", err)
	}
	if err := env.notifications.MarkRead(ctx, owner.ID, uuid.NewString()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing notification: got %v", err)
	}
	if err := env.notifications.MarkRead(ctx, owner.ID, first.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if unread, _ := env.notifications.UnreadCount(ctx, owner.ID); unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}

	changed, err := env.notifications.MarkAllRead(ctx, owner.ID)
	if err != nil || changed != 1 {
		t.Errorf("mark all read changed %d, err %v", changed, err)
	}
	if unread, _ := env.notifications.UnreadCount(ctx, owner.ID); unread != 0 {
		t.Errorf("unread = %d, want 0", unread)
	}
}

func TestDeliverIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner")
	actor := env.createUser(t, "actor")

	n := &model.Notification{ID: uuid.NewString(), RecipientID: owner.ID, ActorID: actor.ID, Type: model.NotificationTypeLike}
	created, err := env.notifications.Deliver(ctx, n)
	if err != nil || !created {
		t.Fatalf("first deliver: created=%v err=%v", created, err)
	}
	dup := *n
	created, err = env.notifications.Deliver(ctx, &dup)
	if err != nil || created {
		t.Errorf("redelivery: created=%v err=%v", created, err)
	}
	if unread, _ := env.notifications.UnreadCount(ctx, owner.ID); unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}
}

// =============================================================================
// MEDIA
// =============================================================================

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareMedia(t *testing.T) {
	img := pngBytes(t, 40, 20)

	tests := []struct {
		name     string
		kind     model.MediaKind
		data     []byte
		declared string
		want     error
	}{
		{"empty", model.MediaKindPost, nil, "image/png", model.ErrEmptyFile},
		{"too large", model.MediaKindAvatar, make([]byte, model.MaxAvatarSizeBytes+1), "image/png", model.ErrFileTooLarge},
		{"unsupported", model.MediaKindPost, []byte("just text"), "text/plain", model.ErrInvalidMediaType},
		{"webp avatar", model.MediaKindAvatar, img, "image/webp", model.ErrInvalidMediaType},
		{"mismatch", model.MediaKindPost, img, "image/jpeg", model.ErrMediaTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prepareMedia(tt.kind, tt.data, tt.declared)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("%v is not a validation error", err)
			}
		})
	}

	m, err := prepareMedia(model.MediaKindPost, img, "image/png; charset=binary")
	if err != nil {
		t.Fatalf("post media: %v", err)
	}
	if m.contentType != "image/png" || !strings.HasPrefix(m.key, "posts/") || !strings.HasSuffix(m.key, ".png") {
		t.Errorf("unexpected prepared media %+v", m)
	}

	avatar, err := prepareMedia(model.MediaKindAvatar, img, "")
	if err != nil {
		t.Fatalf("avatar: %v", err)
	}
	if avatar.contentType != model.ContentTypeJPEG || !strings.HasSuffix(avatar.key, model.AvatarExt) {
		t.Errorf("avatar not converted to jpeg: %s %s", avatar.contentType, avatar.key)
	}
	decoded, _, err := image.DecodeConfig(bytes.NewReader(avatar.body))
	if err == nil && (decoded.Width != model.AvatarWidth || decoded.Height != model.AvatarHeight) {
		t.Errorf("avatar is %dx%d", decoded.Width, decoded.Height)
	}
}

func TestLocalMediaStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalMediaStore(dir, "uploads/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	ref, err := store.Store(ctx, model.MediaKindPost, pngBytes(t, 8, 8), "image/png")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !store.Owns(ref) || !strings.HasPrefix(ref, "/uploads/posts/") {
		t.Fatalf("unexpected ref %q", ref)
	}
	path := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(ref, "/uploads/")))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
	// Missing files and foreign refs are not errors.
	if err := store.Delete(ctx, ref); err != nil {
		t.Errorf("delete missing: %v", err)
	}
	if err := store.Delete(ctx, "https://elsewhere.example/a.png"); err != nil {
		t.Errorf("delete foreign: %v", err)
	}
	if store.Owns("https://elsewhere.example/a.png") {
		t.Error("foreign ref reported as owned")
	}
	if !store.OwnsKind(model.MediaKindPost, ref) || store.OwnsKind(model.MediaKindAvatar, ref) {
		t.Errorf("kind ownership wrong for %q", ref)
	}
	if store.OwnsKind(model.MediaKindAvatar, "/uploads/avatars/../posts/x.png") {
		t.Error("traversal ref reported as an avatar")
	}
	if err := store.Delete(ctx, "/uploads/../outside.txt"); err != nil {
		t.Errorf("traversal ref: %v", err)
	}
}

func TestMediaServiceUpload(t *testing.T) {
	store, err := NewLocalMediaStore(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc := NewMediaService(store)

	res, err := svc.UploadPostMedia(context.Background(), pngBytes(t, 4, 4), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.ContentType != "image/png" || res.Size == 0 || !store.Owns(res.Ref) {
		t.Errorf("unexpected result %+v", res)
	}
}
