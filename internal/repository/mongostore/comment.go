package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"socialgraph/internal/model"
)

type commentDoc struct {
	ID        string    `bson:"_id"`
	PostID    string    `bson:"post_id"`
	AuthorID  string    `bson:"author_id"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d commentDoc) toModel() model.Comment {
	return model.Comment{
		ID:        d.ID,
		PostID:    d.PostID,
		AuthorID:  d.AuthorID,
		Content:   d.Content,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type commentRepository struct {
	c *collections
}

// Create inserts the comment and links it to the post in one transaction.
func (r *commentRepository) Create(ctx context.Context, c *model.Comment) (string, error) {
	var authorID string
	err := r.c.withTransaction(ctx, "create comment", func(sc mongo.SessionContext) error {
		var post postDoc
		err := r.c.posts.FindOneAndUpdate(sc,
			bson.M{"_id": c.PostID},
			bson.M{"$push": bson.M{"comment_ids": c.ID}, "$inc": bson.M{"comments_count": 1}},
			options.FindOneAndUpdate().SetProjection(bson.M{"author_id": 1}),
		).Decode(&post)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.ErrPostNotFound
		}
		if err != nil {
			return err
		}
		authorID = post.AuthorID

		_, err = r.c.comments.InsertOne(sc, commentDoc{
			ID:        c.ID,
			PostID:    c.PostID,
			AuthorID:  c.AuthorID,
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return authorID, nil
}

// Delete removes an own comment and unlinks it in one transaction. The post may
// already be gone.
func (r *commentRepository) Delete(ctx context.Context, commentID, actorID string) (*model.Comment, error) {
	var deleted model.Comment
	err := r.c.withTransaction(ctx, "delete comment", func(sc mongo.SessionContext) error {
		var doc commentDoc
		err := r.c.comments.FindOne(sc, bson.M{"_id": commentID}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.ErrCommentNotFound
		}
		if err != nil {
			return err
		}
		if doc.AuthorID != actorID {
			return model.ErrNotCommentOwner
		}

		res, err := r.c.comments.DeleteOne(sc, bson.M{"_id": commentID})
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return model.ErrCommentNotFound
		}

		_, err = r.c.posts.UpdateOne(sc,
			bson.M{"_id": doc.PostID, "comment_ids": commentID},
			bson.M{"$pull": bson.M{"comment_ids": commentID}, "$inc": bson.M{"comments_count": -1}},
		)
		if err != nil {
			return err
		}
		deleted = doc.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

func (r *commentRepository) ListByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	cursor, err := r.c.comments.Find(ctx, bson.M{"post_id": postID}, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, wrapErr("list comments", err)
	}
	defer cursor.Close(ctx)

	var docs []commentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr("decode comments", err)
	}
	out := make([]model.Comment, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}
