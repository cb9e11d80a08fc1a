package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"socialgraph/internal/metrics"
	"socialgraph/internal/model"
	"socialgraph/internal/queue"
	"socialgraph/internal/repository"
)

// validateIDs rejects any id that is not a UUID.
func validateIDs(ids ...string) error {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return model.ErrInvalidID
		}
	}
	return nil
}

// newTimestamp is the creation time stored on new entities. Stores keep milliseconds.
func newTimestamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// publishAfterCommit emits the event for a mutation that already committed. A failure
// is logged and counted but not returned, since retrying a toggle would invert it.
func publishAfterCommit(ctx context.Context, publisher queue.Publisher, log zerolog.Logger, event queue.Event) {
	if publisher == nil {
		return
	}

	msgID, err := publisher.Publish(context.WithoutCancel(ctx), event)
	if err != nil {
		metrics.EventPublishFailures.WithLabelValues(event.Type).Inc()
		log.Error().Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Msg("Failed to publish event")
		return
	}
	log.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("msg_id", msgID).
		Msg("Published event")
}

// summaryMap resolves user ids to summaries, ignoring ids that no longer exist.
func summaryMap(ctx context.Context, users repository.UserRepository, ids []string) (map[string]*model.UserSummary, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	out := make(map[string]*model.UserSummary, len(unique))
	if len(unique) == 0 {
		return out, nil
	}

	summaries, err := users.GetSummaries(ctx, unique)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		out[summaries[i].ID] = &summaries[i]
	}
	return out, nil
}

// attachPostAuthors fills Post.Author in place.
func attachPostAuthors(ctx context.Context, users repository.UserRepository, posts []model.Post) error {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.AuthorID
	}
	authors, err := summaryMap(ctx, users, ids)
	if err != nil {
		return err
	}
	for i := range posts {
		posts[i].Author = authors[posts[i].AuthorID]
	}
	return nil
}

// attachCommentAuthors fills Comment.Author in place.
func attachCommentAuthors(ctx context.Context, users repository.UserRepository, comments []model.Comment) error {
	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.AuthorID
	}
	authors, err := summaryMap(ctx, users, ids)
	if err != nil {
		return err
	}
	for i := range comments {
		comments[i].Author = authors[comments[i].AuthorID]
	}
	return nil
}

// pageBounds applies the default and maximum page size and returns the offset.
func pageBounds(page, pageSize, defaultSize, maxSize int) (int, int, int, error) {
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return 0, 0, 0, model.ErrInvalidPage
	}
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}
	if page-1 > math.MaxInt32/pageSize {
		return 0, 0, 0, model.ErrInvalidPage
	}
	return page, pageSize, (page - 1) * pageSize, nil
}

func clampLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
