package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type reconciler struct {
	db *sqlx.DB
}

func NewReconciler(db *sqlx.DB) Reconciler {
	return &reconciler{db: db}
}

// counterCheck describes one denormalized counter. drifted lists candidate rows from a
// single snapshot; each candidate is then locked and recounted on its own.
type counterCheck struct {
	op      string
	drifted string
	lock    string
	repair  string
}

var (
	likeCounter = counterCheck{
		op: "reconcile like counts",
		drifted: `
			SELECT p.id FROM posts p LEFT JOIN post_likes l ON l.post_id = p.id
			GROUP BY p.id HAVING p.like_count <> COUNT(l.user_id)`,
		lock: `SELECT id FROM posts WHERE id = $1 FOR UPDATE`,
		repair: `
			UPDATE posts SET like_count = c.n
			FROM (SELECT COUNT(*) AS n FROM post_likes WHERE post_id = $1) c
			WHERE id = $1 AND like_count <> c.n`,
	}
	commentCounter = counterCheck{
		op: "reconcile comment counts",
		drifted: `
			SELECT p.id FROM posts p LEFT JOIN comments cm ON cm.post_id = p.id
			GROUP BY p.id HAVING p.comment_count <> COUNT(cm.id)`,
		lock: `SELECT id FROM posts WHERE id = $1 FOR UPDATE`,
		repair: `
			UPDATE posts SET comment_count = c.n
			FROM (SELECT COUNT(*) AS n FROM comments WHERE post_id = $1) c
			WHERE id = $1 AND comment_count <> c.n`,
	}
	followerCounter = counterCheck{
		op: "reconcile follower counts",
		drifted: `
			SELECT u.id FROM users u LEFT JOIN follows f ON f.followee_id = u.id
			GROUP BY u.id HAVING u.follower_count <> COUNT(f.follower_id)`,
		lock: `SELECT id FROM users WHERE id = $1 FOR UPDATE`,
		repair: `
			UPDATE users SET follower_count = c.n
			FROM (SELECT COUNT(*) AS n FROM follows WHERE followee_id = $1) c
			WHERE id = $1 AND follower_count <> c.n`,
	}
	followingCounter = counterCheck{
		op: "reconcile following counts",
		drifted: `
			SELECT u.id FROM users u LEFT JOIN follows f ON f.follower_id = u.id
			GROUP BY u.id HAVING u.following_count <> COUNT(f.followee_id)`,
		lock: `SELECT id FROM users WHERE id = $1 FOR UPDATE`,
		repair: `
			UPDATE users SET following_count = c.n
			FROM (SELECT COUNT(*) AS n FROM follows WHERE follower_id = $1) c
			WHERE id = $1 AND following_count <> c.n`,
	}
)

// ReconcileCounters rewrites only counters that disagree with their rows.
func (r *reconciler) ReconcileCounters(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	var err error

	if report.LikeCounts, err = r.reconcile(ctx, likeCounter); err != nil {
		return report, err
	}
	if report.CommentCounts, err = r.reconcile(ctx, commentCounter); err != nil {
		return report, err
	}
	if report.FollowerCounts, err = r.reconcile(ctx, followerCounter); err != nil {
		return report, err
	}
	report.FollowingCounts, err = r.reconcile(ctx, followingCounter)
	return report, err
}

// ReconcileFollowEdges has nothing to repair: one follows row is both halves of the edge.
func (r *reconciler) ReconcileFollowEdges(ctx context.Context) (int64, error) {
	return 0, nil
}

func (r *reconciler) reconcile(ctx context.Context, check counterCheck) (int64, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, check.drifted); err != nil {
		return 0, wrapErr(check.op, err)
	}

	var repaired int64
	for _, id := range ids {
		n, err := r.repairRow(ctx, check, id)
		if err != nil {
			return repaired, err
		}
		repaired += n
	}
	return repaired, nil
}

// repairRow takes the same row lock the toggles take, so no counter change is in
// flight. Under READ COMMITTED the repair statement then sees every committed member.
func (r *reconciler) repairRow(ctx context.Context, check counterCheck, id string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	var locked []string
	if err := tx.SelectContext(ctx, &locked, check.lock, id); err != nil {
		return 0, wrapErr(check.op, err)
	}
	if len(locked) == 0 {
		return 0, nil
	}

	result, err := tx.ExecContext(ctx, check.repair, id)
	if err != nil {
		return 0, wrapErr(check.op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, wrapErr(check.op, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapErr("commit transaction", err)
	}
	return n, nil
}

// NewPostgresStore wires the Postgres repositories over one pool.
func NewPostgresStore(db *sqlx.DB) *Store {
	return &Store{
		Users:         NewUserRepository(db),
		Follows:       NewFollowRepository(db),
		Posts:         NewPostRepository(db),
		Comments:      NewCommentRepository(db),
		Notifications: NewNotificationRepository(db),
		Reconciler:    NewReconciler(db),
		Close:         db.Close,
	}
}
