// Package mongostore implements the repositories on MongoDB. Each post document embeds
// its liker and comment id sets next to their counters, and each user document embeds
// both halves of the follow relation, so single-document updates keep set and counter
// together. Changes spanning documents run in a session transaction.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"socialgraph/internal/logging"
	"socialgraph/internal/model"
	"socialgraph/internal/repository"
)

// Collection names
const (
	UsersCollection         = "users"
	PostsCollection         = "posts"
	CommentsCollection      = "comments"
	NotificationsCollection = "notifications"
)

type collections struct {
	db            *mongo.Database
	users         *mongo.Collection
	posts         *mongo.Collection
	comments      *mongo.Collection
	notifications *mongo.Collection
}

// NewStore wires the Mongo repositories over one database.
func NewStore(db *mongo.Database) *repository.Store {
	c := &collections{
		db:            db,
		users:         db.Collection(UsersCollection),
		posts:         db.Collection(PostsCollection),
		comments:      db.Collection(CommentsCollection),
		notifications: db.Collection(NotificationsCollection),
	}
	return &repository.Store{
		Users:         &userRepository{c: c},
		Follows:       &followRepository{c: c},
		Posts:         &postRepository{c: c},
		Comments:      &commentRepository{c: c},
		Notifications: &notificationRepository{c: c},
		Reconciler:    &reconciler{c: c},
		Close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return db.Client().Disconnect(ctx)
		},
	}
}

// EnsureIndexes creates the indexes the queries rely on. It is safe to call on every start.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "username_lower", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		PostsCollection: {
			{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
			{Keys: bson.D{{Key: "author_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "likes_count", Value: -1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "tags", Value: 1}}},
		},
		CommentsCollection: {
			{Keys: bson.D{{Key: "post_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		NotificationsCollection: {
			{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	logging.Info().Str("component", "mongo").Str("database", db.Name()).Msg("Indexes ensured")
	return nil
}

// wrapErr marks timeouts and connection failures as transient.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) || isTransientTxnError(err) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrTransientStorage, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransientTxnError(err error) bool {
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) {
		return labeled.HasErrorLabel("TransientTransactionError")
	}
	return false
}

// withTransaction runs fn in a session transaction. Domain errors returned by fn pass
// through unwrapped.
func (c *collections) withTransaction(ctx context.Context, op string, fn func(sc mongo.SessionContext) error) error {
	session, err := c.db.Client().StartSession()
	if err != nil {
		return wrapErr("start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err == nil {
		return nil
	}
	if isDomainErr(err) {
		return err
	}
	return wrapErr(op, err)
}

func isDomainErr(err error) bool {
	return errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrForbidden) || errors.Is(err, model.ErrTransientStorage)
}

func contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// newestFirst sorts by creation time, then id, both descending.
var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
