package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
	"socialgraph/internal/model"
	"socialgraph/internal/repository"
)

// NotificationService stores and serves notifications. Notifications are only created
// as a side effect of likes, comments and follows.
type NotificationService struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	log           zerolog.Logger
}

func NewNotificationService(notifications repository.NotificationRepository, users repository.UserRepository) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		users:         users,
		log:           logging.Component("notification_service"),
	}
}

// Notify appends a notification with a fresh id.
func (s *NotificationService) Notify(ctx context.Context, recipientID, notifType, actorID string, postID, commentID *string) (*model.Notification, error) {
	n := &model.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        notifType,
		ActorID:     actorID,
		PostID:      postID,
		CommentID:   commentID,
		CreatedAt:   newTimestamp(),
	}
	if _, err := s.Deliver(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Deliver appends n keyed by its id. Delivering the same id twice stores it once and
// reports created=false the second time.
func (s *NotificationService) Deliver(ctx context.Context, n *model.Notification) (bool, error) {
	if !model.IsValidNotificationType(n.Type) {
		return false, model.ErrInvalidNotificationType
	}
	if err := validateIDs(n.RecipientID, n.ActorID); err != nil {
		return false, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = newTimestamp()
	}
	n.Read = false

	created, err := s.notifications.Create(ctx, n)
	if err != nil {
		return false, err
	}
	if created {
		metrics.NotificationsCreated.WithLabelValues(n.Type).Inc()
		s.log.Debug().
			Str("notification_id", n.ID).
			Str("recipient_id", n.RecipientID).
			Str("type", n.Type).
			Msg("Notification created")
	}
	return created, nil
}

// List returns a page of the actor's notifications, newest first, with the unread count.
func (s *NotificationService) List(ctx context.Context, actorID string, page, limit int) (*model.NotificationListResponse, error) {
	if err := validateIDs(actorID); err != nil {
		return nil, err
	}
	_, limit, offset, err := pageBounds(page, limit, model.DefaultNotificationLimit, model.MaxNotificationLimit)
	if err != nil {
		return nil, err
	}

	notifications, err := s.notifications.List(ctx, actorID, offset, limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.notifications.CountUnread(ctx, actorID)
	if err != nil {
		return nil, err
	}

	actorIDs := make([]string, len(notifications))
	for i, n := range notifications {
		actorIDs[i] = n.ActorID
	}
	actors, err := summaryMap(ctx, s.users, actorIDs)
	if err != nil {
		return nil, err
	}
	for i := range notifications {
		notifications[i].Actor = actors[notifications[i].ActorID]
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}

	return &model.NotificationListResponse{
		Notifications: notifications,
		UnreadCount:   unread,
	}, nil
}

// UnreadCount returns the badge count.
func (s *NotificationService) UnreadCount(ctx context.Context, actorID string) (int, error) {
	if err := validateIDs(actorID); err != nil {
		return 0, err
	}
	return s.notifications.CountUnread(ctx, actorID)
}

// MarkRead marks one of the actor's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, actorID, notificationID string) (err error) {
	defer func() { metrics.RecordMutation("mark_read", err) }()

	if err := validateIDs(actorID, notificationID); err != nil {
		return err
	}
	return s.notifications.MarkRead(ctx, actorID, notificationID)
}

// MarkAllRead marks every unread notification of the actor as read and returns how
// many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, actorID string) (n int64, err error) {
	defer func() { metrics.RecordMutation("mark_all_read", err) }()

	if err := validateIDs(actorID); err != nil {
		return 0, err
	}
	return s.notifications.MarkAllRead(ctx, actorID)
}
