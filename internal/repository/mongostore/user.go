package mongostore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"socialgraph/internal/model"
)

type userDoc struct {
	ID             string    `bson:"_id"`
	Username       string    `bson:"username"`
	UsernameLower  string    `bson:"username_lower"`
	FullName       string    `bson:"full_name"`
	Bio            string    `bson:"bio"`
	AvatarRef      *string   `bson:"avatar_ref"`
	FollowerIDs    []string  `bson:"follower_ids"`
	FollowingIDs   []string  `bson:"following_ids"`
	FollowerCount  int       `bson:"follower_count"`
	FollowingCount int       `bson:"following_count"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (d userDoc) toModel() *model.User {
	return &model.User{
		ID:             d.ID,
		Username:       d.Username,
		FullName:       d.FullName,
		Bio:            d.Bio,
		AvatarRef:      d.AvatarRef,
		FollowerCount:  d.FollowerCount,
		FollowingCount: d.FollowingCount,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
		FollowerIDs:    nonNil(d.FollowerIDs),
		FollowingIDs:   nonNil(d.FollowingIDs),
	}
}

var summaryProjection = bson.M{"_id": 1, "username": 1, "full_name": 1, "avatar_ref": 1}

type userRepository struct {
	c *collections
}

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	u.UpdatedAt = u.CreatedAt
	doc := userDoc{
		ID:            u.ID,
		Username:      u.Username,
		UsernameLower: strings.ToLower(u.Username),
		FullName:      u.FullName,
		Bio:           u.Bio,
		AvatarRef:     u.AvatarRef,
		FollowerIDs:   []string{},
		FollowingIDs:  []string{},
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	if _, err := r.c.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.ErrUsernameExists
		}
		return wrapErr("insert user", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var doc userDoc
	err := r.c.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, wrapErr("get user", err)
	}
	return doc.toModel(), nil
}

func (r *userRepository) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.c.users.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrapErr("check user exists", err)
	}
	return n > 0, nil
}

func (r *userRepository) GetSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	if len(ids) == 0 {
		return []model.UserSummary{}, nil
	}

	cursor, err := r.c.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(summaryProjection))
	if err != nil {
		return nil, wrapErr("get user summaries", err)
	}
	defer cursor.Close(ctx)

	var rows []model.UserSummary
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, wrapErr("decode user summaries", err)
	}

	byID := make(map[string]model.UserSummary, len(rows))
	for _, s := range rows {
		byID[s.ID] = s
	}
	out := make([]model.UserSummary, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Search quotes the query so it matches as a literal substring.
func (r *userRepository) Search(ctx context.Context, query string, limit int) ([]model.UserSummary, error) {
	pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{"username": pattern},
		bson.M{"full_name": pattern},
	}}
	opts := options.Find().
		SetProjection(summaryProjection).
		SetSort(bson.D{{Key: "username", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.c.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr("search users", err)
	}
	defer cursor.Close(ctx)

	users := []model.UserSummary{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, wrapErr("decode users", err)
	}
	return users, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id string, req model.UpdateProfileRequest) (*model.User, error) {
	set := bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)}
	if req.FullName != nil {
		set["full_name"] = *req.FullName
	}
	if req.Bio != nil {
		set["bio"] = *req.Bio
	}
	if req.AvatarRef != nil {
		set["avatar_ref"] = *req.AvatarRef
	}

	var doc userDoc
	err := r.c.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, wrapErr("update profile", err)
	}
	return doc.toModel(), nil
}

func (r *userRepository) SetAvatar(ctx context.Context, id, ref string) (*string, error) {
	update := bson.M{"$set": bson.M{
		"avatar_ref": ref,
		"updated_at": time.Now().UTC().Truncate(time.Millisecond),
	}}

	var before userDoc
	err := r.c.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, wrapErr("set avatar", err)
	}
	return before.AvatarRef, nil
}

type followRepository struct {
	c *collections
}

// Toggle reads the follower's following set and flips both halves of the edge inside one
// transaction. New edges go to the front so ids stay newest first.
func (r *followRepository) Toggle(ctx context.Context, followerID, followeeID string) (bool, error) {
	var following bool
	err := r.c.withTransaction(ctx, "toggle follow", func(sc mongo.SessionContext) error {
		var follower userDoc
		err := r.c.users.FindOne(sc, bson.M{"_id": followerID},
			options.FindOne().SetProjection(bson.M{"following_ids": 1})).Decode(&follower)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.ErrUserNotFound
		}
		if err != nil {
			return err
		}

		n, err := r.c.users.CountDocuments(sc, bson.M{"_id": followeeID})
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrUserNotFound
		}

		if contains(follower.FollowingIDs, followeeID) {
			following = false
			if _, err := r.c.users.UpdateOne(sc,
				bson.M{"_id": followerID, "following_ids": followeeID},
				bson.M{"$pull": bson.M{"following_ids": followeeID}, "$inc": bson.M{"following_count": -1}},
			); err != nil {
				return err
			}
			_, err := r.c.users.UpdateOne(sc,
				bson.M{"_id": followeeID, "follower_ids": followerID},
				bson.M{"$pull": bson.M{"follower_ids": followerID}, "$inc": bson.M{"follower_count": -1}},
			)
			return err
		}

		following = true
		if _, err := r.c.users.UpdateOne(sc,
			bson.M{"_id": followerID, "following_ids": bson.M{"$ne": followeeID}},
			bson.M{
				"$push": bson.M{"following_ids": bson.M{"$each": bson.A{followeeID}, "$position": 0}},
				"$inc":  bson.M{"following_count": 1},
			},
		); err != nil {
			return err
		}
		_, err = r.c.users.UpdateOne(sc,
			bson.M{"_id": followeeID, "follower_ids": bson.M{"$ne": followerID}},
			bson.M{
				"$push": bson.M{"follower_ids": bson.M{"$each": bson.A{followerID}, "$position": 0}},
				"$inc":  bson.M{"follower_count": 1},
			},
		)
		return err
	})
	if err != nil {
		return false, err
	}
	return following, nil
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	n, err := r.c.users.CountDocuments(ctx,
		bson.M{"_id": followerID, "following_ids": followeeID}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrapErr("check follow exists", err)
	}
	return n > 0, nil
}

func (r *followRepository) GetFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	doc, err := r.edges(ctx, userID, "follower_ids")
	if err != nil {
		return nil, wrapErr("get follower ids", err)
	}
	return nonNil(doc.FollowerIDs), nil
}

func (r *followRepository) GetFollowingIDs(ctx context.Context, userID string) ([]string, error) {
	doc, err := r.edges(ctx, userID, "following_ids")
	if err != nil {
		return nil, wrapErr("get following ids", err)
	}
	return nonNil(doc.FollowingIDs), nil
}

func (r *followRepository) edges(ctx context.Context, userID, field string) (userDoc, error) {
	var doc userDoc
	err := r.c.users.FindOne(ctx, bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{field: 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return userDoc{}, nil
	}
	return doc, err
}
