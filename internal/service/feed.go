package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"socialgraph/internal/cache"
	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
	"socialgraph/internal/model"
	"socialgraph/internal/repository"
)

// FeedService is the query engine for post listings.
type FeedService struct {
	timelines cache.TimelineCache // nil when Redis is not configured
	posts     repository.PostRepository
	follows   repository.FollowRepository
	users     repository.UserRepository
	log       zerolog.Logger
}

func NewFeedService(
	timelines cache.TimelineCache,
	posts repository.PostRepository,
	follows repository.FollowRepository,
	users repository.UserRepository,
) *FeedService {
	return &FeedService{
		timelines: timelines,
		posts:     posts,
		follows:   follows,
		users:     users,
		log:       logging.Component("feed_service"),
	}
}

// warmFunc loads up to limit (id, timestamp) pairs for an empty timeline.
type warmFunc func(ctx context.Context, limit int) ([]cache.PostScore, error)

// Feed returns every post, newest first. Pages inside the cached window of the global
// timeline are served from Redis.
func (s *FeedService) Feed(ctx context.Context, page, pageSize int) (*model.FeedPage, error) {
	page, pageSize, offset, err := pageBounds(page, pageSize, model.DefaultFeedPageSize, model.MaxFeedPageSize)
	if err != nil {
		return nil, err
	}

	posts, hit := s.cachedPage(ctx, cache.GlobalTimelineKey, offset, pageSize, s.posts.RecentScores)
	metrics.RecordTimelineRead("global", hit)
	if !hit {
		posts, err = s.posts.List(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
	}

	return s.buildPage(ctx, posts, page, pageSize)
}

// HomeFeed returns posts by the users the actor follows plus the actor's own.
func (s *FeedService) HomeFeed(ctx context.Context, actorID string, page, pageSize int) (*model.FeedPage, error) {
	if err := validateIDs(actorID); err != nil {
		return nil, err
	}
	page, pageSize, offset, err := pageBounds(page, pageSize, model.DefaultFeedPageSize, model.MaxFeedPageSize)
	if err != nil {
		return nil, err
	}

	following, err := s.follows.GetFollowingIDs(ctx, actorID)
	if err != nil {
		return nil, err
	}
	authorIDs := append(following, actorID)

	warm := func(ctx context.Context, limit int) ([]cache.PostScore, error) {
		return s.posts.ScoresByAuthors(ctx, authorIDs, limit)
	}
	posts, hit := s.cachedPage(ctx, cache.HomeTimelineKey(actorID), offset, pageSize, warm)
	metrics.RecordTimelineRead("home", hit)
	if !hit {
		posts, err = s.posts.ByAuthors(ctx, authorIDs, offset, pageSize)
		if err != nil {
			return nil, err
		}
	}

	return s.buildPage(ctx, posts, page, pageSize)
}

// Trending orders posts by like count, most recent first among equal counts.
func (s *FeedService) Trending(ctx context.Context, limit int) ([]model.Post, error) {
	limit = clampLimit(limit, model.DefaultTrendingLimit, model.MaxTrendingLimit)

	posts, err := s.posts.Trending(ctx, limit)
	if err != nil {
		return nil, err
	}
	return s.withAuthors(ctx, posts)
}

// ByTag returns posts carrying tag, newest first. The tag is normalised like at creation.
func (s *FeedService) ByTag(ctx context.Context, tag string) ([]model.Post, error) {
	tag = model.NormalizeTag(tag)
	if tag == "" {
		return nil, model.ErrEmptyTag
	}

	posts, err := s.posts.ByTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	return s.withAuthors(ctx, posts)
}

// cachedPage serves [offset, offset+limit) from a timeline, warming it first when it is
// missing. It reports a miss when Redis is unavailable, the page reaches past the cached
// window, or a cached id no longer resolves to a post.
func (s *FeedService) cachedPage(ctx context.Context, key string, offset, limit int, warm warmFunc) ([]model.Post, bool) {
	if s.timelines == nil {
		return nil, false
	}
	log := s.log.With().Str("timeline", key).Logger()

	exists, err := s.timelines.Exists(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Timeline check failed, reading from store")
		return nil, false
	}
	if !exists {
		if err := s.warmTimeline(ctx, key, warm); err != nil {
			log.Warn().Err(err).Msg("Timeline warm failed, reading from store")
			return nil, false
		}
	}

	size, err := s.timelines.Size(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Timeline size failed, reading from store")
		return nil, false
	}
	if int64(offset+limit) > size {
		return nil, false
	}

	ids, err := s.timelines.Range(ctx, key, offset, limit)
	if err != nil {
		log.Warn().Err(err).Msg("Timeline range failed, reading from store")
		return nil, false
	}
	posts, err := s.posts.GetByIDs(ctx, ids)
	if err != nil || len(posts) != len(ids) {
		return nil, false
	}
	return posts, true
}

func (s *FeedService) warmTimeline(ctx context.Context, key string, warm warmFunc) error {
	start := time.Now()

	scores, err := warm(ctx, s.timelines.Cap(key))
	if err != nil {
		return fmt.Errorf("load timeline posts: %w", err)
	}
	if len(scores) == 0 {
		return nil
	}
	if err := s.timelines.WarmCache(ctx, key, scores); err != nil {
		return fmt.Errorf("warm timeline: %w", err)
	}

	s.log.Debug().
		Str("timeline", key).
		Int("posts", len(scores)).
		Dur("duration", time.Since(start)).
		Msg("Timeline warmed")
	return nil
}

func (s *FeedService) buildPage(ctx context.Context, posts []model.Post, page, pageSize int) (*model.FeedPage, error) {
	posts, err := s.withAuthors(ctx, posts)
	if err != nil {
		return nil, err
	}
	return &model.FeedPage{
		Posts:    posts,
		Page:     page,
		PageSize: pageSize,
		HasMore:  len(posts) == pageSize,
	}, nil
}

func (s *FeedService) withAuthors(ctx context.Context, posts []model.Post) ([]model.Post, error) {
	if posts == nil {
		return []model.Post{}, nil
	}
	if err := attachPostAuthors(ctx, s.users, posts); err != nil {
		return nil, err
	}
	return posts, nil
}
