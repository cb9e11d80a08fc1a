package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"socialgraph/internal/cache"
	"socialgraph/internal/model"
)

// maxLikeAttempts bounds retries when a concurrent toggle flips membership between the
// two conditional updates.
const maxLikeAttempts = 5

type postDoc struct {
	ID            string    `bson:"_id"`
	AuthorID      string    `bson:"author_id"`
	Content       string    `bson:"content"`
	MediaRefs     []string  `bson:"media_refs"`
	Tags          []string  `bson:"tags"`
	LikerIDs      []string  `bson:"liker_ids"`
	LikesCount    int       `bson:"likes_count"`
	CommentIDs    []string  `bson:"comment_ids"`
	CommentsCount int       `bson:"comments_count"`
	CreatedAt     time.Time `bson:"created_at"`
}

func (d postDoc) toModel() model.Post {
	return model.Post{
		ID:            d.ID,
		AuthorID:      d.AuthorID,
		Content:       d.Content,
		MediaRefs:     nonNil(d.MediaRefs),
		Tags:          nonNil(d.Tags),
		LikerIDs:      nonNil(d.LikerIDs),
		LikesCount:    d.LikesCount,
		CommentIDs:    nonNil(d.CommentIDs),
		CommentsCount: d.CommentsCount,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

type postRepository struct {
	c *collections
}

func (r *postRepository) Create(ctx context.Context, p *model.Post) error {
	doc := postDoc{
		ID:         p.ID,
		AuthorID:   p.AuthorID,
		Content:    p.Content,
		MediaRefs:  nonNil(p.MediaRefs),
		Tags:       nonNil(p.Tags),
		LikerIDs:   []string{},
		CommentIDs: []string{},
		CreatedAt:  p.CreatedAt,
	}
	if _, err := r.c.posts.InsertOne(ctx, doc); err != nil {
		return wrapErr("insert post", err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	var doc postDoc
	err := r.c.posts.FindOne(ctx, bson.M{"_id": postID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrPostNotFound
	}
	if err != nil {
		return nil, wrapErr("get post", err)
	}
	p := doc.toModel()
	return &p, nil
}

func (r *postRepository) GetByIDs(ctx context.Context, postIDs []string) ([]model.Post, error) {
	if len(postIDs) == 0 {
		return []model.Post{}, nil
	}
	posts, err := r.find(ctx, "get posts by ids", bson.M{"_id": bson.M{"$in": postIDs}}, options.Find())
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	ordered := make([]model.Post, 0, len(postIDs))
	for _, id := range postIDs {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// Delete removes the post document. Comments are not cascaded.
func (r *postRepository) Delete(ctx context.Context, postID, actorID string) error {
	res, err := r.c.posts.DeleteOne(ctx, bson.M{"_id": postID, "author_id": actorID})
	if err != nil {
		return wrapErr("delete post", err)
	}
	if res.DeletedCount > 0 {
		return nil
	}

	n, err := r.c.posts.CountDocuments(ctx, bson.M{"_id": postID}, options.Count().SetLimit(1))
	if err != nil {
		return wrapErr("check post exists", err)
	}
	if n > 0 {
		return model.ErrNotPostOwner
	}
	return model.ErrPostNotFound
}

// ToggleLike tries to add the like where userID is absent, then to remove it where
// present. Each attempt is one conditional single-document update, so set and counter
// never diverge. Losing both races means another toggle moved in between; try again.
func (r *postRepository) ToggleLike(ctx context.Context, postID, userID string) (*model.LikeResult, error) {
	after := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"author_id": 1, "likes_count": 1})

	for attempt := 0; attempt < maxLikeAttempts; attempt++ {
		var doc postDoc
		err := r.c.posts.FindOneAndUpdate(ctx,
			bson.M{"_id": postID, "liker_ids": bson.M{"$ne": userID}},
			bson.M{"$addToSet": bson.M{"liker_ids": userID}, "$inc": bson.M{"likes_count": 1}},
			after,
		).Decode(&doc)
		if err == nil {
			return &model.LikeResult{Liked: true, LikesCount: doc.LikesCount, AuthorID: doc.AuthorID}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, wrapErr("add like", err)
		}

		err = r.c.posts.FindOneAndUpdate(ctx,
			bson.M{"_id": postID, "liker_ids": userID},
			bson.M{"$pull": bson.M{"liker_ids": userID}, "$inc": bson.M{"likes_count": -1}},
			after,
		).Decode(&doc)
		if err == nil {
			return &model.LikeResult{Liked: false, LikesCount: doc.LikesCount, AuthorID: doc.AuthorID}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, wrapErr("remove like", err)
		}

		n, err := r.c.posts.CountDocuments(ctx, bson.M{"_id": postID}, options.Count().SetLimit(1))
		if err != nil {
			return nil, wrapErr("check post exists", err)
		}
		if n == 0 {
			return nil, model.ErrPostNotFound
		}
	}
	return nil, wrapErr("toggle like", model.ErrTransientStorage)
}

func (r *postRepository) List(ctx context.Context, offset, limit int) ([]model.Post, error) {
	opts := options.Find().SetSort(newestFirst).SetSkip(int64(offset)).SetLimit(int64(limit))
	return r.find(ctx, "list posts", bson.M{}, opts)
}

func (r *postRepository) Trending(ctx context.Context, limit int) ([]model.Post, error) {
	sort := bson.D{{Key: "likes_count", Value: -1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	return r.find(ctx, "trending posts", bson.M{}, options.Find().SetSort(sort).SetLimit(int64(limit)))
}

func (r *postRepository) ByTag(ctx context.Context, tag string) ([]model.Post, error) {
	return r.find(ctx, "posts by tag", bson.M{"tags": tag}, options.Find().SetSort(newestFirst))
}

func (r *postRepository) ByAuthor(ctx context.Context, authorID string) ([]model.Post, error) {
	return r.find(ctx, "posts by author", bson.M{"author_id": authorID}, options.Find().SetSort(newestFirst))
}

func (r *postRepository) ByAuthors(ctx context.Context, authorIDs []string, offset, limit int) ([]model.Post, error) {
	if len(authorIDs) == 0 {
		return []model.Post{}, nil
	}
	opts := options.Find().SetSort(newestFirst).SetSkip(int64(offset)).SetLimit(int64(limit))
	return r.find(ctx, "posts by authors", bson.M{"author_id": bson.M{"$in": authorIDs}}, opts)
}

func (r *postRepository) RecentScores(ctx context.Context, limit int) ([]cache.PostScore, error) {
	return r.scores(ctx, "recent post scores", bson.M{}, limit)
}

func (r *postRepository) ScoresByAuthors(ctx context.Context, authorIDs []string, limit int) ([]cache.PostScore, error) {
	if len(authorIDs) == 0 {
		return []cache.PostScore{}, nil
	}
	return r.scores(ctx, "post scores by authors", bson.M{"author_id": bson.M{"$in": authorIDs}}, limit)
}

func (r *postRepository) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]model.Post, error) {
	cursor, err := r.c.posts.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer cursor.Close(ctx)

	var docs []postDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(op, err)
	}
	posts := make([]model.Post, len(docs))
	for i, d := range docs {
		posts[i] = d.toModel()
	}
	return posts, nil
}

func (r *postRepository) scores(ctx context.Context, op string, filter bson.M, limit int) ([]cache.PostScore, error) {
	opts := options.Find().
		SetSort(newestFirst).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1, "created_at": 1})

	cursor, err := r.c.posts.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer cursor.Close(ctx)

	var docs []postDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(op, err)
	}
	out := make([]cache.PostScore, len(docs))
	for i, d := range docs {
		out[i] = cache.PostScore{PostID: d.ID, Timestamp: d.CreatedAt.UnixMilli()}
	}
	return out, nil
}
