// Package memory is an in-process storage backend. One mutex guards all state, so every
// repository method is a single atomic unit. It backs tests and local development.
package memory

import (
	"sort"
	"strings"
	"sync"

	"socialgraph/internal/model"
	"socialgraph/internal/repository"
)

type state struct {
	mu sync.RWMutex

	users         map[string]*model.User
	usernames     map[string]string // lowercase username -> id
	posts         map[string]*model.Post
	comments      map[string]*model.Comment
	notifications map[string]*model.Notification
}

// NewStore returns a Store whose repositories share one in-memory state.
func NewStore() *repository.Store {
	s := &state{
		users:         make(map[string]*model.User),
		usernames:     make(map[string]string),
		posts:         make(map[string]*model.Post),
		comments:      make(map[string]*model.Comment),
		notifications: make(map[string]*model.Notification),
	}
	return &repository.Store{
		Users:         &userRepository{s: s},
		Follows:       &followRepository{s: s},
		Posts:         &postRepository{s: s},
		Comments:      &commentRepository{s: s},
		Notifications: &notificationRepository{s: s},
		Reconciler:    &reconciler{s: s},
		Close:         func() error { return nil },
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.FollowerIDs = cloneStrings(u.FollowerIDs)
	c.FollowingIDs = cloneStrings(u.FollowingIDs)
	if u.AvatarRef != nil {
		ref := *u.AvatarRef
		c.AvatarRef = &ref
	}
	return &c
}

func clonePost(p *model.Post) model.Post {
	c := *p
	c.MediaRefs = cloneStrings(p.MediaRefs)
	c.Tags = cloneStrings(p.Tags)
	c.LikerIDs = cloneStrings(p.LikerIDs)
	c.CommentIDs = cloneStrings(p.CommentIDs)
	c.Author = nil
	return c
}

func contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}

func remove(set []string, id string) ([]string, bool) {
	for i, v := range set {
		if v == id {
			return append(set[:i:i], set[i+1:]...), true
		}
	}
	return set, false
}

// sortPosts orders newest first, ties broken by id descending.
func sortPosts(posts []model.Post) {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func lower(s string) string {
	return strings.ToLower(s)
}
