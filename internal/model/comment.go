package model

import (
	"fmt"
	"time"
)

// Comment represents a comment on a post.
type Comment struct {
	ID        string       `db:"id" json:"id"`
	PostID    string       `db:"post_id" json:"post_id"`
	AuthorID  string       `db:"author_id" json:"author_id"`
	Content   string       `db:"content" json:"content"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	Author    *UserSummary `db:"-" json:"author,omitempty"` // Joined field
}

// CreateCommentRequest is the request body for creating a comment.
type CreateCommentRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

// Comment constraints
const (
	MaxCommentLength = 2000
)

// Comment errors
var (
	ErrCommentNotFound = fmt.Errorf("comment not found: %w", ErrNotFound)
	ErrNotCommentOwner = fmt.Errorf("not the owner of this comment: %w", ErrForbidden)
	ErrContentRequired = fmt.Errorf("comment content is required: %w", ErrValidation)
	ErrCommentTooLong  = fmt.Errorf("comment content too long: %w", ErrValidation)
)
