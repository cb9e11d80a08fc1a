package service

import (
	"context"

	"github.com/rs/zerolog"

	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
	"socialgraph/internal/model"
	"socialgraph/internal/queue"
	"socialgraph/internal/repository"
)

// FollowService is the social graph engine.
type FollowService struct {
	follows   repository.FollowRepository
	users     repository.UserRepository
	publisher queue.Publisher
	log       zerolog.Logger
}

func NewFollowService(
	follows repository.FollowRepository,
	users repository.UserRepository,
	publisher queue.Publisher,
) *FollowService {
	return &FollowService{
		follows:   follows,
		users:     users,
		publisher: publisher,
		log:       logging.Component("follow_service"),
	}
}

// ToggleFollow flips actor -> target. Both halves of the edge and both counters change
// in one atomic unit; the current state is read inside it.
func (s *FollowService) ToggleFollow(ctx context.Context, actorID, targetID string) (result *model.FollowResult, err error) {
	defer func() { metrics.RecordMutation("toggle_follow", err) }()

	if err := validateIDs(actorID, targetID); err != nil {
		return nil, err
	}
	if actorID == targetID {
		return nil, model.ErrCannotFollowSelf
	}

	exists, err := s.users.Exists(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, model.ErrUserNotFound
	}

	following, err := s.follows.Toggle(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}

	// Only absent -> present notifies; unfollow only trims the home timeline.
	if following {
		publishAfterCommit(ctx, s.publisher, s.log, queue.NewUserFollowedEvent(actorID, targetID))
	} else {
		publishAfterCommit(ctx, s.publisher, s.log, queue.NewUserUnfollowedEvent(actorID, targetID))
	}

	s.log.Info().
		Str("follower_id", actorID).
		Str("followee_id", targetID).
		Bool("following", following).
		Msg("Follow toggled")
	return &model.FollowResult{Following: following}, nil
}
