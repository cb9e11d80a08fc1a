package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"socialgraph/internal/model"
)

type userRepository struct {
	s *state
}

func (r *userRepository) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := lower(u.Username)
	if _, taken := r.s.usernames[key]; taken {
		return model.ErrUsernameExists
	}
	u.UpdatedAt = u.CreatedAt
	stored := cloneUser(u)
	stored.FollowerIDs = []string{}
	stored.FollowingIDs = []string{}
	stored.FollowerCount = 0
	stored.FollowingCount = 0
	r.s.users[u.ID] = stored
	r.s.usernames[key] = u.ID
	return nil
}

func (r *userRepository) GetByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *userRepository) Exists(_ context.Context, id string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.users[id]
	return ok, nil
}

func (r *userRepository) GetSummaries(_ context.Context, ids []string) ([]model.UserSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			out = append(out, cloneUser(u).Summary())
		}
	}
	return out, nil
}

// Search matches the query as a literal substring, so it needs no escaping.
func (r *userRepository) Search(_ context.Context, query string, limit int) ([]model.UserSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	q := lower(query)
	out := []model.UserSummary{}
	for _, u := range r.s.users {
		if strings.Contains(lower(u.Username), q) || strings.Contains(lower(u.FullName), q) {
			out = append(out, cloneUser(u).Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return page(out, 0, limit), nil
}

func (r *userRepository) UpdateProfile(_ context.Context, id string, req model.UpdateProfileRequest) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	if req.FullName != nil {
		u.FullName = *req.FullName
	}
	if req.Bio != nil {
		u.Bio = *req.Bio
	}
	if req.AvatarRef != nil {
		ref := *req.AvatarRef
		u.AvatarRef = &ref
	}
	u.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	return cloneUser(u), nil
}

func (r *userRepository) SetAvatar(_ context.Context, id, ref string) (*string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	previous := u.AvatarRef
	u.AvatarRef = &ref
	u.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	return previous, nil
}

type followRepository struct {
	s *state
}

// Toggle changes both halves of the edge and both counters under one lock.
func (r *followRepository) Toggle(_ context.Context, followerID, followeeID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	follower, ok := r.s.users[followerID]
	if !ok {
		return false, model.ErrUserNotFound
	}
	followee, ok := r.s.users[followeeID]
	if !ok {
		return false, model.ErrUserNotFound
	}

	if contains(follower.FollowingIDs, followeeID) {
		follower.FollowingIDs, _ = remove(follower.FollowingIDs, followeeID)
		followee.FollowerIDs, _ = remove(followee.FollowerIDs, followerID)
		follower.FollowingCount = len(follower.FollowingIDs)
		followee.FollowerCount = len(followee.FollowerIDs)
		return false, nil
	}

	// Newest edge first, matching the Postgres ordering.
	follower.FollowingIDs = append([]string{followeeID}, follower.FollowingIDs...)
	followee.FollowerIDs = append([]string{followerID}, followee.FollowerIDs...)
	follower.FollowingCount = len(follower.FollowingIDs)
	followee.FollowerCount = len(followee.FollowerIDs)
	return true, nil
}

func (r *followRepository) Exists(_ context.Context, followerID, followeeID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[followerID]
	if !ok {
		return false, nil
	}
	return contains(u.FollowingIDs, followeeID), nil
}

func (r *followRepository) GetFollowerIDs(_ context.Context, userID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[userID]
	if !ok {
		return []string{}, nil
	}
	return cloneStrings(u.FollowerIDs), nil
}

func (r *followRepository) GetFollowingIDs(_ context.Context, userID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[userID]
	if !ok {
		return []string{}, nil
	}
	return cloneStrings(u.FollowingIDs), nil
}
