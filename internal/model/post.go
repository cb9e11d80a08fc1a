package model

import (
	"fmt"
	"strings"
	"time"
)

// Post is a piece of authored content. LikesCount caches len(LikerIDs) and
// CommentsCount caches len(CommentIDs).
type Post struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	Content       string    `json:"content"`
	MediaRefs     []string  `json:"media_refs"`
	Tags          []string  `json:"tags"`
	LikerIDs      []string  `json:"liker_ids"`
	LikesCount    int       `json:"likes_count"`
	CommentIDs    []string  `json:"comment_ids"`
	CommentsCount int       `json:"comments_count"`
	CreatedAt     time.Time `json:"created_at"`

	// Joined field
	Author *UserSummary `json:"author,omitempty"`
}

// PostDetail is a single post with its comments, newest first.
type PostDetail struct {
	Post
	Comments []Comment `json:"comments"`
	// LikedByViewer is set for authenticated readers.
	LikedByViewer bool `json:"liked_by_viewer"`
}

// FeedPage is one offset page of posts.
type FeedPage struct {
	Posts    []Post `json:"posts"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	HasMore  bool   `json:"has_more"`
}

// LikeResult is the outcome of a like toggle.
type LikeResult struct {
	Liked      bool   `json:"liked"`
	LikesCount int    `json:"likesCount"`
	AuthorID   string `json:"-"`
}

// CreatePostRequest is the request body for creating a post.
type CreatePostRequest struct {
	Content   string   `json:"content" validate:"max=2000"`
	Tags      []string `json:"tags" validate:"max=30,dive,max=64"`
	MediaRefs []string `json:"media_refs" validate:"max=5,dive,required,max=2048"`
}

// Post constraints
const (
	MaxPostContentLength = 2000
	MaxPostMediaCount    = 5
	DefaultFeedPageSize  = 10
	MaxFeedPageSize      = 50
	DefaultTrendingLimit = 10
	MaxTrendingLimit     = 50
)

// Post errors
var (
	ErrPostNotFound   = fmt.Errorf("post not found: %w", ErrNotFound)
	ErrNotPostOwner   = fmt.Errorf("not the owner of this post: %w", ErrForbidden)
	ErrPostEmpty      = fmt.Errorf("post needs content or media: %w", ErrValidation)
	ErrContentTooLong = fmt.Errorf("content too long: %w", ErrValidation)
	ErrTooManyMedia   = fmt.Errorf("too many media items: %w", ErrValidation)
	ErrEmptyMediaRef  = fmt.Errorf("media reference is empty: %w", ErrValidation)
	ErrEmptyTag       = fmt.Errorf("tag is required: %w", ErrValidation)
	ErrInvalidPage    = fmt.Errorf("page out of range: %w", ErrValidation)
)

// ParseTags splits a comma separated tag list, e.g. "Go, backend" -> ["go", "backend"].
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	return NormalizeTags(strings.Split(raw, ","))
}

// NormalizeTags trims and lowercases tags, dropping empties and duplicates while
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = NormalizeTag(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NormalizeTag is the canonical form used both when storing and when filtering.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
