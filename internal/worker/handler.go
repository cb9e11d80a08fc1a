package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"socialgraph/internal/cache"
	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
	"socialgraph/internal/model"
	"socialgraph/internal/queue"
)

// FollowerProvider returns the followers of a user.
// This abstracts the repository layer so workers don't depend on DB directly.
type FollowerProvider interface {
	GetFollowerIDs(ctx context.Context, userID string) ([]string, error)
}

// PostsProvider returns (postID, timestamp) pairs for timeline backfill and cleanup.
type PostsProvider interface {
	ScoresByAuthors(ctx context.Context, authorIDs []string, limit int) ([]cache.PostScore, error)
}

// NotificationDeliverer stores a notification idempotently by its id.
type NotificationDeliverer interface {
	Deliver(ctx context.Context, n *model.Notification) (created bool, err error)
}

// BackfillLimit is how many of a followee's recent posts are copied into a new
// follower's home timeline.
const BackfillLimit = 20

// Handler processes domain events: notification fan-out and timeline upkeep.
type Handler struct {
	timelines cache.TimelineCache // nil when Redis is not configured
	followers FollowerProvider
	posts     PostsProvider
	notifier  NotificationDeliverer
	log       zerolog.Logger
}

func NewHandler(
	timelines cache.TimelineCache,
	followers FollowerProvider,
	posts PostsProvider,
	notifier NotificationDeliverer,
) *Handler {
	return &Handler{
		timelines: timelines,
		followers: followers,
		posts:     posts,
		notifier:  notifier,
		log:       logging.Component("worker"),
	}
}

// HandleEvent routes an event to the appropriate handler based on type.
// Every branch is idempotent so a redelivered event is harmless.
func (h *Handler) HandleEvent(ctx context.Context, event queue.Event) error {
	start := time.Now()
	var err error

	switch event.Type {
	case queue.EventPostCreated:
		err = h.handlePostCreated(ctx, event)
	case queue.EventPostDeleted:
		err = h.handlePostDeleted(ctx, event)
	case queue.EventUserFollowed:
		err = h.handleUserFollowed(ctx, event)
	case queue.EventUserUnfollowed:
		err = h.handleUserUnfollowed(ctx, event)
	case queue.EventPostLiked:
		err = h.notify(ctx, event, model.NotificationTypeLike)
	case queue.EventPostCommented:
		err = h.notify(ctx, event, model.NotificationTypeComment)
	default:
		err = fmt.Errorf("unknown event type: %s", event.Type)
	}

	metrics.RecordEventProcessed(event.Type, err)
	if err != nil {
		h.log.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Dur("duration", time.Since(start)).
			Msg("event failed")
		return err
	}

	h.log.Debug().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Dur("duration", time.Since(start)).
		Msg("event handled")
	return nil
}

// handlePostCreated adds the post to the global timeline and to the home timelines of
// the author and every follower.
func (h *Handler) handlePostCreated(ctx context.Context, event queue.Event) error {
	if h.timelines == nil {
		return nil
	}

	followers, err := h.followers.GetFollowerIDs(ctx, event.AuthorID)
	if err != nil {
		return fmt.Errorf("get followers: %w", err)
	}

	keys := make([]string, 0, len(followers)+2)
	keys = append(keys, cache.GlobalTimelineKey, cache.HomeTimelineKey(event.AuthorID))
	for _, id := range followers {
		keys = append(keys, cache.HomeTimelineKey(id))
	}

	score := cache.PostScore{PostID: event.PostID, Timestamp: event.CreatedAt}
	if err := h.timelines.AddPost(ctx, keys, score); err != nil {
		return err
	}

	h.log.Debug().
		Str("post_id", event.PostID).
		Int("followers", len(followers)).
		Msg("post fanned out")
	return nil
}

// handlePostDeleted removes the post from every timeline it may be cached in.
func (h *Handler) handlePostDeleted(ctx context.Context, event queue.Event) error {
	if h.timelines == nil {
		return nil
	}

	followers, err := h.followers.GetFollowerIDs(ctx, event.AuthorID)
	if err != nil {
		return fmt.Errorf("get followers: %w", err)
	}

	keys := make([]string, 0, len(followers)+2)
	keys = append(keys, cache.GlobalTimelineKey, cache.HomeTimelineKey(event.AuthorID))
	for _, id := range followers {
		keys = append(keys, cache.HomeTimelineKey(id))
	}
	return h.timelines.RemoveFromAll(ctx, keys, event.PostID)
}

// handleUserFollowed notifies the followee and backfills the follower's home timeline
// when it is cached.
func (h *Handler) handleUserFollowed(ctx context.Context, event queue.Event) error {
	if err := h.notify(ctx, event, model.NotificationTypeFollow); err != nil {
		return err
	}
	if h.timelines == nil {
		return nil
	}

	key := cache.HomeTimelineKey(event.FollowerID)
	exists, err := h.timelines.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	posts, err := h.posts.ScoresByAuthors(ctx, []string{event.FolloweeID}, BackfillLimit)
	if err != nil {
		return fmt.Errorf("get recent posts: %w", err)
	}
	return h.timelines.WarmCache(ctx, key, posts)
}

// handleUserUnfollowed removes the followee's posts from the follower's home timeline.
func (h *Handler) handleUserUnfollowed(ctx context.Context, event queue.Event) error {
	if h.timelines == nil {
		return nil
	}

	key := cache.HomeTimelineKey(event.FollowerID)
	posts, err := h.posts.ScoresByAuthors(ctx, []string{event.FolloweeID}, h.timelines.Cap(key))
	if err != nil {
		return fmt.Errorf("get posts to remove: %w", err)
	}

	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.PostID
	}
	return h.timelines.RemovePosts(ctx, key, ids...)
}

// notify delivers a notification keyed by the event id. Self-interactions are skipped.
func (h *Handler) notify(ctx context.Context, event queue.Event, notifType string) error {
	if h.notifier == nil || event.RecipientID == "" || event.ActorID == event.RecipientID {
		return nil
	}

	n := &model.Notification{
		ID:          event.ID,
		RecipientID: event.RecipientID,
		Type:        notifType,
		ActorID:     event.ActorID,
		CreatedAt:   time.UnixMilli(event.Timestamp).UTC(),
	}
	if event.PostID != "" {
		postID := event.PostID
		n.PostID = &postID
	}
	if event.CommentID != "" {
		commentID := event.CommentID
		n.CommentID = &commentID
	}

	created, err := h.notifier.Deliver(ctx, n)
	if err != nil {
		return fmt.Errorf("deliver %s notification: %w", notifType, err)
	}
	if !created {
		h.log.Debug().Str("event_id", event.ID).Msg("notification already delivered")
	}
	return nil
}
