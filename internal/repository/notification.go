package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"socialgraph/internal/model"
)

const notificationColumns = `id, recipient_id, actor_id, type, post_id, comment_id, is_read, created_at`

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, actor_id, type, post_id, comment_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.RecipientID, n.ActorID, n.Type, n.PostID, n.CommentID, n.CreatedAt)
	if err != nil {
		return false, wrapErr("insert notification", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, wrapErr("get rows affected", err)
	}
	return rows > 0, nil
}

func (r *notificationRepository) List(ctx context.Context, recipientID string, offset, limit int) ([]model.Notification, error) {
	out := []model.Notification{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`, recipientID, offset, limit)
	if err != nil {
		return nil, wrapErr("list notifications", err)
	}
	return out, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, recipientID)
	if err != nil {
		return 0, wrapErr("count unread notifications", err)
	}
	return count, nil
}

// MarkRead never sets is_read back to false, so marking twice is a no-op.
func (r *notificationRepository) MarkRead(ctx context.Context, recipientID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return wrapErr("mark notification read", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapErr("get rows affected", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)`, id); err != nil {
			return wrapErr("check notification exists", err)
		}
		if exists {
			return model.ErrNotNotificationOwner
		}
		return model.ErrNotificationNotFound
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND is_read = FALSE`, recipientID)
	if err != nil {
		return 0, wrapErr("mark all notifications read", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, wrapErr("get rows affected", err)
	}
	return rows, nil
}
