package mongostore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"socialgraph/internal/repository"
)

type reconciler struct {
	c *collections
}

// counterFix sets counter to the size of set wherever the two disagree.
func counterFix(ctx context.Context, coll *mongo.Collection, counter, set string) (int64, error) {
	size := bson.M{"$size": bson.M{"$ifNull": bson.A{"$" + set, bson.A{}}}}
	filter := bson.M{"$expr": bson.M{"$ne": bson.A{"$" + counter, size}}}
	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{counter: size}}}}

	res, err := coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, wrapErr("reconcile "+counter, err)
	}
	return res.ModifiedCount, nil
}

func (r *reconciler) ReconcileCounters(ctx context.Context) (repository.ReconcileReport, error) {
	var report repository.ReconcileReport
	var err error

	if report.LikeCounts, err = counterFix(ctx, r.c.posts, "likes_count", "liker_ids"); err != nil {
		return report, err
	}
	if report.CommentCounts, err = counterFix(ctx, r.c.posts, "comments_count", "comment_ids"); err != nil {
		return report, err
	}
	if report.FollowerCounts, err = counterFix(ctx, r.c.users, "follower_count", "follower_ids"); err != nil {
		return report, err
	}
	report.FollowingCounts, err = counterFix(ctx, r.c.users, "following_count", "following_ids")
	return report, err
}

// ReconcileFollowEdges makes every follower set mirror the following sets. A scan picks
// the users that look asymmetric; each is then re-read and patched in its own
// transaction, so an edge committed during the scan is never undone. Counters are left
// to ReconcileCounters.
func (r *reconciler) ReconcileFollowEdges(ctx context.Context) (int64, error) {
	cursor, err := r.c.users.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"follower_ids": 1, "following_ids": 1}))
	if err != nil {
		return 0, wrapErr("load follow edges", err)
	}
	defer cursor.Close(ctx)

	var users []userDoc
	if err := cursor.All(ctx, &users); err != nil {
		return 0, wrapErr("decode follow edges", err)
	}

	want := make(map[string]map[string]struct{}, len(users))
	for _, u := range users {
		want[u.ID] = make(map[string]struct{})
	}
	for _, u := range users {
		for _, followee := range u.FollowingIDs {
			if set, ok := want[followee]; ok {
				set[u.ID] = struct{}{}
			}
		}
	}

	var repaired int64
	for _, u := range users {
		extra, missing := followerDiff(u.FollowerIDs, want[u.ID])
		if len(extra) == 0 && len(missing) == 0 {
			continue
		}
		n, err := r.repairFollowers(ctx, u.ID)
		if err != nil {
			return repaired, err
		}
		repaired += n
	}
	return repaired, nil
}

// repairFollowers recomputes userID's follower set from the users that follow it, all
// read from one transaction snapshot. A concurrent toggle touching userID conflicts with
// the patch and the transaction is retried.
func (r *reconciler) repairFollowers(ctx context.Context, userID string) (int64, error) {
	var changes int64
	err := r.c.withTransaction(ctx, "repair follower ids", func(sc mongo.SessionContext) error {
		changes = 0

		var u userDoc
		err := r.c.users.FindOne(sc, bson.M{"_id": userID},
			options.FindOne().SetProjection(bson.M{"follower_ids": 1})).Decode(&u)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		if err != nil {
			return err
		}

		cursor, err := r.c.users.Find(sc, bson.M{"following_ids": userID},
			options.Find().SetProjection(bson.M{"_id": 1}))
		if err != nil {
			return err
		}
		var followers []userDoc
		if err := cursor.All(sc, &followers); err != nil {
			return err
		}
		expected := make(map[string]struct{}, len(followers))
		for _, f := range followers {
			expected[f.ID] = struct{}{}
		}

		extra, missing := followerDiff(u.FollowerIDs, expected)
		if len(extra) > 0 {
			if _, err := r.c.users.UpdateOne(sc, bson.M{"_id": userID},
				bson.M{"$pullAll": bson.M{"follower_ids": extra}}); err != nil {
				return err
			}
		}
		if len(missing) > 0 {
			if _, err := r.c.users.UpdateOne(sc, bson.M{"_id": userID},
				bson.M{"$addToSet": bson.M{"follower_ids": bson.M{"$each": missing}}}); err != nil {
				return err
			}
		}
		changes = int64(len(extra) + len(missing))
		return nil
	})
	return changes, err
}

// followerDiff returns the ids in have that are not expected and the expected ids that
// are missing from have.
func followerDiff(have []string, expected map[string]struct{}) (extra, missing []string) {
	present := make(map[string]struct{}, len(have))
	for _, f := range have {
		present[f] = struct{}{}
		if _, ok := expected[f]; !ok {
			extra = append(extra, f)
		}
	}
	for f := range expected {
		if _, ok := present[f]; !ok {
			missing = append(missing, f)
		}
	}
	return extra, missing
}
