package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"socialgraph/internal/model"
)

type followRepository struct {
	db *sqlx.DB
}

func NewFollowRepository(db *sqlx.DB) FollowRepository {
	return &followRepository{db: db}
}

// Toggle locks both user rows in id order, so concurrent toggles on the same pair
// serialize and opposite-direction toggles cannot deadlock. The edge row is both halves
// of the relation; the two counters change in the same transaction.
func (r *followRepository) Toggle(ctx context.Context, followerID, followeeID string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	var locked []string
	err = tx.SelectContext(ctx, &locked,
		`SELECT id FROM users WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`, followerID, followeeID)
	if err != nil {
		return false, wrapErr("lock users", err)
	}
	if len(locked) < 2 {
		return false, model.ErrUserNotFound
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
	if err != nil {
		return false, wrapErr("delete follow", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return false, wrapErr("get rows affected", err)
	}

	delta := -1
	following := false
	if removed == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2)`, followerID, followeeID)
		if err != nil {
			return false, wrapErr("insert follow", err)
		}
		delta = 1
		following = true
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET following_count = following_count + $2 WHERE id = $1`, followerID, delta)
	if err != nil {
		return false, wrapErr("update following count", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET follower_count = follower_count + $2 WHERE id = $1`, followeeID, delta)
	if err != nil {
		return false, wrapErr("update follower count", err)
	}

	if err := tx.Commit(); err != nil {
		return false, wrapErr("commit transaction", err)
	}
	return following, nil
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)`, followerID, followeeID)
	if err != nil {
		return false, wrapErr("check follow exists", err)
	}
	return exists, nil
}

func (r *followRepository) GetFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids,
		`SELECT follower_id FROM follows WHERE followee_id = $1 ORDER BY created_at DESC, follower_id`, userID)
	if err != nil {
		return nil, wrapErr("get follower ids", err)
	}
	return ids, nil
}

func (r *followRepository) GetFollowingIDs(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids,
		`SELECT followee_id FROM follows WHERE follower_id = $1 ORDER BY created_at DESC, followee_id`, userID)
	if err != nil {
		return nil, wrapErr("get following ids", err)
	}
	return ids, nil
}
