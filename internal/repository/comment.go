package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"socialgraph/internal/model"
)

const commentColumns = `id, post_id, author_id, content, created_at`

type commentRepository struct {
	db *sqlx.DB
}

func NewCommentRepository(db *sqlx.DB) CommentRepository {
	return &commentRepository{db: db}
}

// Create locks the parent post so the insert and the counter increment land together
// and cannot interleave with a concurrent delete of the post.
func (r *commentRepository) Create(ctx context.Context, c *model.Comment) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	var authorID string
	err = tx.GetContext(ctx, &authorID,
		`SELECT author_id FROM posts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, c.PostID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrPostNotFound
	}
	if err != nil {
		return "", wrapErr("lock post", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, author_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.PostID, c.AuthorID, c.Content, c.CreatedAt)
	if err != nil {
		return "", wrapErr("insert comment", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE posts SET comment_count = comment_count + 1 WHERE id = $1`, c.PostID)
	if err != nil {
		return "", wrapErr("increment comment count", err)
	}

	if err := tx.Commit(); err != nil {
		return "", wrapErr("commit transaction", err)
	}
	return authorID, nil
}

// Delete removes the comment and decrements its post's counter in one transaction.
// The DELETE ... RETURNING makes a concurrent second delete a no-op, so the counter
// moves exactly once.
func (r *commentRepository) Delete(ctx context.Context, commentID, actorID string) (*model.Comment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	var c model.Comment
	err = tx.GetContext(ctx, &c, `
		DELETE FROM comments
		WHERE id = $1 AND author_id = $2
		RETURNING `+commentColumns, commentID, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1)`, commentID); err != nil {
			return nil, wrapErr("check comment exists", err)
		}
		if exists {
			return nil, model.ErrNotCommentOwner
		}
		return nil, model.ErrCommentNotFound
	}
	if err != nil {
		return nil, wrapErr("delete comment", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE posts SET comment_count = GREATEST(comment_count - 1, 0) WHERE id = $1`, c.PostID)
	if err != nil {
		return nil, wrapErr("decrement comment count", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("commit transaction", err)
	}
	return &c, nil
}

func (r *commentRepository) ListByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	comments := []model.Comment{}
	err := r.db.SelectContext(ctx, &comments, `
		SELECT `+commentColumns+` FROM comments
		WHERE post_id = $1
		ORDER BY created_at DESC, id DESC
	`, postID)
	if err != nil {
		return nil, wrapErr("list comments", err)
	}
	return comments, nil
}
