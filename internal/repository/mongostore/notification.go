package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"socialgraph/internal/model"
)

type notificationDoc struct {
	ID          string    `bson:"_id"`
	RecipientID string    `bson:"recipient_id"`
	Type        string    `bson:"type"`
	ActorID     string    `bson:"actor_id"`
	PostID      *string   `bson:"post_id,omitempty"`
	CommentID   *string   `bson:"comment_id,omitempty"`
	Read        bool      `bson:"read"`
	CreatedAt   time.Time `bson:"created_at"`
}

type notificationRepository struct {
	c *collections
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) (bool, error) {
	_, err := r.c.notifications.InsertOne(ctx, notificationDoc{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Type:        n.Type,
		ActorID:     n.ActorID,
		PostID:      n.PostID,
		CommentID:   n.CommentID,
		CreatedAt:   n.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("insert notification", err)
	}
	return true, nil
}

func (r *notificationRepository) List(ctx context.Context, recipientID string, offset, limit int) ([]model.Notification, error) {
	opts := options.Find().SetSort(newestFirst).SetSkip(int64(offset)).SetLimit(int64(limit))
	cursor, err := r.c.notifications.Find(ctx, bson.M{"recipient_id": recipientID}, opts)
	if err != nil {
		return nil, wrapErr("list notifications", err)
	}
	defer cursor.Close(ctx)

	var docs []notificationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr("decode notifications", err)
	}
	out := make([]model.Notification, len(docs))
	for i, d := range docs {
		out[i] = model.Notification{
			ID:          d.ID,
			RecipientID: d.RecipientID,
			Type:        d.Type,
			ActorID:     d.ActorID,
			PostID:      d.PostID,
			CommentID:   d.CommentID,
			Read:        d.Read,
			CreatedAt:   d.CreatedAt.UTC(),
		}
	}
	return out, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	n, err := r.c.notifications.CountDocuments(ctx, bson.M{"recipient_id": recipientID, "read": false})
	if err != nil {
		return 0, wrapErr("count unread notifications", err)
	}
	return int(n), nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, recipientID, id string) error {
	res, err := r.c.notifications.UpdateOne(ctx,
		bson.M{"_id": id, "recipient_id": recipientID},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return wrapErr("mark notification read", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := r.c.notifications.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return wrapErr("check notification exists", err)
	}
	if n > 0 {
		return model.ErrNotNotificationOwner
	}
	return model.ErrNotificationNotFound
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.c.notifications.UpdateMany(ctx,
		bson.M{"recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, wrapErr("mark all notifications read", err)
	}
	return res.ModifiedCount, nil
}
