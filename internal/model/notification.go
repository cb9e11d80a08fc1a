package model

import (
	"fmt"
	"time"
)

// Notification types
const (
	NotificationTypeFollow  = "follow"
	NotificationTypeLike    = "like"
	NotificationTypeComment = "comment"
)

// Notification is created only as a side effect of a like, comment or follow.
// Read only ever moves from false to true.
type Notification struct {
	ID          string    `db:"id" json:"id"`
	RecipientID string    `db:"recipient_id" json:"-"`
	Type        string    `db:"type" json:"type"`
	ActorID     string    `db:"actor_id" json:"actor_id"`
	PostID      *string   `db:"post_id" json:"post_id,omitempty"`
	CommentID   *string   `db:"comment_id" json:"comment_id,omitempty"`
	Read        bool      `db:"is_read" json:"read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	// Joined field for display
	Actor *UserSummary `db:"-" json:"actor,omitempty"`
}

// NotificationListResponse is a page of notifications plus the unread badge count.
type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

// IsValidNotificationType reports whether t is one of the known notification types.
func IsValidNotificationType(t string) bool {
	switch t {
	case NotificationTypeFollow, NotificationTypeLike, NotificationTypeComment:
		return true
	}
	return false
}

const (
	DefaultNotificationLimit = 20
	MaxNotificationLimit     = 100
)

var (
	ErrNotificationNotFound    = fmt.Errorf("notification not found: %w", ErrNotFound)
	ErrNotNotificationOwner    = fmt.Errorf("notification belongs to another user: %w", ErrForbidden)
	ErrInvalidNotificationType = fmt.Errorf("invalid notification type: %w", ErrValidation)
)
