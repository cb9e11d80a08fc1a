package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the engines after a mutation commits.
const (
	EventPostCreated    = "post_created"
	EventPostDeleted    = "post_deleted"
	EventPostLiked      = "post_liked"
	EventPostCommented  = "post_commented"
	EventUserFollowed   = "user_followed"
	EventUserUnfollowed = "user_unfollowed"
)

// Stream and consumer group defaults
const (
	StreamEvents        = "stream:events"
	ConsumerGroupEvents = "event_workers"
)

// Event is a domain event. ID is unique per emitted event and survives redelivery,
// so consumers use it as an idempotency key.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix ms when the event was emitted

	// Post events
	PostID    string `json:"post_id,omitempty"`
	AuthorID  string `json:"author_id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"` // post creation time, unix ms

	// Interaction events (PostLiked, PostCommented)
	ActorID     string `json:"actor_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	CommentID   string `json:"comment_id,omitempty"`

	// Follow events
	FollowerID string `json:"follower_id,omitempty"`
	FolloweeID string `json:"followee_id,omitempty"`
}

func newEvent(eventType string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewPostCreatedEvent is fanned out into the global and follower home timelines.
func NewPostCreatedEvent(postID, authorID string, createdAt time.Time) Event {
	e := newEvent(EventPostCreated)
	e.PostID = postID
	e.AuthorID = authorID
	e.CreatedAt = createdAt.UnixMilli()
	return e
}

// NewPostDeletedEvent removes the post from cached timelines.
func NewPostDeletedEvent(postID, authorID string) Event {
	e := newEvent(EventPostDeleted)
	e.PostID = postID
	e.AuthorID = authorID
	return e
}

// NewPostLikedEvent notifies the post author.
func NewPostLikedEvent(postID, actorID, authorID string) Event {
	e := newEvent(EventPostLiked)
	e.PostID = postID
	e.ActorID = actorID
	e.RecipientID = authorID
	return e
}

// NewPostCommentedEvent notifies the post author.
func NewPostCommentedEvent(postID, commentID, actorID, authorID string) Event {
	e := newEvent(EventPostCommented)
	e.PostID = postID
	e.CommentID = commentID
	e.ActorID = actorID
	e.RecipientID = authorID
	return e
}

// NewUserFollowedEvent notifies the followee and backfills the follower's home timeline.
func NewUserFollowedEvent(followerID, followeeID string) Event {
	e := newEvent(EventUserFollowed)
	e.FollowerID = followerID
	e.FolloweeID = followeeID
	e.ActorID = followerID
	e.RecipientID = followeeID
	return e
}

// NewUserUnfollowedEvent removes the followee's posts from the follower's home timeline.
func NewUserUnfollowedEvent(followerID, followeeID string) Event {
	e := newEvent(EventUserUnfollowed)
	e.FollowerID = followerID
	e.FolloweeID = followeeID
	return e
}

// ToMap converts the event to stream field-value pairs. The JSON body lives in "data".
func (e Event) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParseEvent parses an Event from Redis stream message values.
func ParseEvent(values map[string]interface{}) (Event, error) {
	data, ok := values["data"].(string)
	if !ok {
		return Event{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return Event{}, fmt.Errorf("event missing id or type")
	}
	return event, nil
}
