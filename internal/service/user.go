package service

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
	"socialgraph/internal/model"
	"socialgraph/internal/repository"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,30}$`)

// UserService handles user records, profiles and search.
type UserService struct {
	users   repository.UserRepository
	follows repository.FollowRepository
	posts   repository.PostRepository
	media   MediaStore
	log     zerolog.Logger
}

func NewUserService(users repository.UserRepository, follows repository.FollowRepository, posts repository.PostRepository, media MediaStore) *UserService {
	return &UserService{
		users:   users,
		follows: follows,
		posts:   posts,
		media:   media,
		log:     logging.Component("user_service"),
	}
}

// CreateUser registers a user. Usernames are unique ignoring case.
func (s *UserService) CreateUser(ctx context.Context, req model.CreateUserRequest) (user *model.User, err error) {
	defer func() { metrics.RecordMutation("create_user", err) }()

	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		return nil, model.ErrInvalidUsername
	}
	fullName := strings.TrimSpace(req.FullName)
	if utf8.RuneCountInString(fullName) > model.MaxFullNameLength {
		return nil, model.ErrFullNameTooLong
	}
	if utf8.RuneCountInString(req.Bio) > model.MaxBioLength {
		return nil, model.ErrBioTooLong
	}

	now := newTimestamp()
	user = &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     fullName,
		Bio:          req.Bio,
		CreatedAt:    now,
		UpdatedAt:    now,
		FollowerIDs:  []string{},
		FollowingIDs: []string{},
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Str("username", username).Msg("User created")
	return user, nil
}

// Profile returns the user with resolved follow lists and their posts, newest first.
// viewerID is empty for anonymous readers.
func (s *UserService) Profile(ctx context.Context, userID, viewerID string) (*model.Profile, error) {
	if err := validateIDs(userID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile := &model.Profile{User: user}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		followers, err := s.users.GetSummaries(gctx, user.FollowerIDs)
		profile.Followers = followers
		return err
	})
	g.Go(func() error {
		following, err := s.users.GetSummaries(gctx, user.FollowingIDs)
		profile.Following = following
		return err
	})
	g.Go(func() error {
		posts, err := s.posts.ByAuthor(gctx, userID)
		profile.Posts = posts
		return err
	})
	if viewerID != "" && viewerID != userID {
		g.Go(func() error {
			following, err := s.follows.Exists(gctx, viewerID, userID)
			profile.IsFollowing = following
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := user.Summary()
	for i := range profile.Posts {
		profile.Posts[i].Author = &summary
	}
	if profile.Followers == nil {
		profile.Followers = []model.UserSummary{}
	}
	if profile.Following == nil {
		profile.Following = []model.UserSummary{}
	}
	if profile.Posts == nil {
		profile.Posts = []model.Post{}
	}
	return profile, nil
}

// SearchUsers matches query literally against username or full name, ignoring case.
func (s *UserService) SearchUsers(ctx context.Context, query string, limit int) ([]model.UserSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.ErrEmptySearchQuery
	}
	limit = clampLimit(limit, model.DefaultSearchLimit, model.MaxSearchLimit)

	users, err := s.users.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []model.UserSummary{}
	}
	return users, nil
}

// UpdateProfile changes the actor's own profile. A replaced avatar is deleted only when
// it was stored by this service.
func (s *UserService) UpdateProfile(ctx context.Context, actorID, userID string, req model.UpdateProfileRequest) (user *model.User, err error) {
	defer func() { metrics.RecordMutation("update_profile", err) }()

	if err := validateIDs(actorID, userID); err != nil {
		return nil, err
	}
	if actorID != userID {
		return nil, model.ErrNotProfileOwner
	}
	if req.FullName != nil {
		trimmed := strings.TrimSpace(*req.FullName)
		if utf8.RuneCountInString(trimmed) > model.MaxFullNameLength {
			return nil, model.ErrFullNameTooLong
		}
		req.FullName = &trimmed
	}
	if req.Bio != nil && utf8.RuneCountInString(*req.Bio) > model.MaxBioLength {
		return nil, model.ErrBioTooLong
	}

	var previous *string
	if req.AvatarRef != nil {
		current, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		previous = current.AvatarRef
		// Stored refs only arrive through ReplaceAvatar; keeping the current one is fine.
		ref := *req.AvatarRef
		if s.media != nil && s.media.Owns(ref) && (previous == nil || *previous != ref) {
			return nil, model.ErrAvatarRefNotAllowed
		}
	}

	user, err = s.users.UpdateProfile(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	if req.AvatarRef != nil {
		s.discardAvatar(ctx, previous, *req.AvatarRef)
	}
	return user, nil
}

// ReplaceAvatar stores a new avatar for the actor and swaps it in. The fresh upload is
// removed again if the swap fails.
func (s *UserService) ReplaceAvatar(ctx context.Context, actorID string, data []byte, declaredType string) (ref string, err error) {
	defer func() { metrics.RecordMutation("replace_avatar", err) }()

	if err := validateIDs(actorID); err != nil {
		return "", err
	}
	if s.media == nil {
		return "", errMediaNotConfigured
	}

	exists, err := s.users.Exists(ctx, actorID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", model.ErrUserNotFound
	}

	ref, err = s.media.Store(ctx, model.MediaKindAvatar, data, declaredType)
	if err != nil {
		return "", err
	}

	previous, err := s.users.SetAvatar(ctx, actorID, ref)
	if err != nil {
		if delErr := s.media.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			s.log.Warn().Err(delErr).Str("ref", ref).Msg("Failed to remove orphaned avatar")
		}
		return "", err
	}

	s.discardAvatar(ctx, previous, ref)
	s.log.Info().Str("user_id", actorID).Str("ref", ref).Msg("Avatar replaced")
	return ref, nil
}

// discardAvatar deletes previous when it differs from current and is an avatar this
// service stored. External URLs and other media are never deleted.
func (s *UserService) discardAvatar(ctx context.Context, previous *string, current string) {
	if s.media == nil || previous == nil || *previous == "" || *previous == current {
		return
	}
	if !s.media.OwnsKind(model.MediaKindAvatar, *previous) {
		return
	}
	if err := s.media.Delete(context.WithoutCancel(ctx), *previous); err != nil {
		s.log.Warn().Err(err).Str("ref", *previous).Msg("Failed to delete previous avatar")
	}
}
