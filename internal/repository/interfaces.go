package repository

import (
	"context"

	"socialgraph/internal/cache"
	"socialgraph/internal/model"
)

// Every method that changes a membership set also changes its counter in the same
// atomic unit, so callers never see a counter that disagrees with its set.

type UserRepository interface {
	// Create fails with model.ErrUsernameExists on a duplicate username (case-insensitive).
	Create(ctx context.Context, user *model.User) error
	// GetByID returns the user with FollowerIDs and FollowingIDs, newest edge first.
	GetByID(ctx context.Context, id string) (*model.User, error)
	Exists(ctx context.Context, id string) (bool, error)
	// GetSummaries returns summaries in the order of ids, skipping unknown ids.
	GetSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error)
	// Search matches query literally and case-insensitively against username or full name.
	Search(ctx context.Context, query string, limit int) ([]model.UserSummary, error)
	UpdateProfile(ctx context.Context, id string, req model.UpdateProfileRequest) (*model.User, error)
	// SetAvatar swaps the avatar ref and returns the previous one.
	SetAvatar(ctx context.Context, id, ref string) (previous *string, err error)
}

type FollowRepository interface {
	// Toggle flips the follower -> followee edge, both halves and both counters at once.
	// The current state is read inside the same atomic unit.
	Toggle(ctx context.Context, followerID, followeeID string) (following bool, err error)
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)
	GetFollowerIDs(ctx context.Context, userID string) ([]string, error)
	GetFollowingIDs(ctx context.Context, userID string) ([]string, error)
}

type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	// GetByID returns the post with LikerIDs and CommentIDs.
	GetByID(ctx context.Context, postID string) (*model.Post, error)
	// GetByIDs keeps the order of postIDs and skips missing posts.
	GetByIDs(ctx context.Context, postIDs []string) ([]model.Post, error)
	// Delete fails with model.ErrNotPostOwner when actorID is not the author.
	Delete(ctx context.Context, postID, actorID string) error
	// ToggleLike flips userID's membership in the liker set and adjusts the count.
	ToggleLike(ctx context.Context, postID, userID string) (*model.LikeResult, error)

	// List orders by created_at DESC, id DESC.
	List(ctx context.Context, offset, limit int) ([]model.Post, error)
	// Trending orders by like count DESC, created_at DESC, id DESC.
	Trending(ctx context.Context, limit int) ([]model.Post, error)
	// ByTag matches a normalized tag exactly.
	ByTag(ctx context.Context, tag string) ([]model.Post, error)
	ByAuthor(ctx context.Context, authorID string) ([]model.Post, error)
	ByAuthors(ctx context.Context, authorIDs []string, offset, limit int) ([]model.Post, error)

	// RecentScores feeds the global timeline cache.
	RecentScores(ctx context.Context, limit int) ([]cache.PostScore, error)
	// ScoresByAuthors feeds home timelines.
	ScoresByAuthors(ctx context.Context, authorIDs []string, limit int) ([]cache.PostScore, error)
}

type CommentRepository interface {
	// Create stores the comment, links it to its post and increments the post's
	// comment count as one unit. It returns the post author.
	Create(ctx context.Context, comment *model.Comment) (postAuthorID string, err error)
	// Delete removes an own comment, unlinks it and decrements the count as one unit.
	Delete(ctx context.Context, commentID, actorID string) (*model.Comment, error)
	// ListByPost returns comments newest first.
	ListByPost(ctx context.Context, postID string) ([]model.Comment, error)
}

type NotificationRepository interface {
	// Create inserts n. An existing id is left untouched and reported as created=false.
	Create(ctx context.Context, n *model.Notification) (created bool, err error)
	// List returns notifications newest first.
	List(ctx context.Context, recipientID string, offset, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	// MarkRead fails with model.ErrNotNotificationOwner for another user's notification.
	MarkRead(ctx context.Context, recipientID, id string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// ReconcileReport counts repaired values per kind.
type ReconcileReport struct {
	LikeCounts      int64
	CommentCounts   int64
	FollowerCounts  int64
	FollowingCounts int64
	FollowEdges     int64
}

// Total returns the number of repairs.
func (r ReconcileReport) Total() int64 {
	return r.LikeCounts + r.CommentCounts + r.FollowerCounts + r.FollowingCounts + r.FollowEdges
}

// Reconciler repairs denormalized state from the authoritative membership data.
type Reconciler interface {
	// ReconcileCounters recomputes every counter from its set.
	ReconcileCounters(ctx context.Context) (ReconcileReport, error)
	// ReconcileFollowEdges makes follower sets mirror following sets.
	ReconcileFollowEdges(ctx context.Context) (int64, error)
}

// Store bundles one backend's repositories.
type Store struct {
	Users         UserRepository
	Follows       FollowRepository
	Posts         PostRepository
	Comments      CommentRepository
	Notifications NotificationRepository
	Reconciler    Reconciler

	// Close releases backend resources. May be nil.
	Close func() error
}
