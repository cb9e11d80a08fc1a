package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"socialgraph/internal/cache"
	"socialgraph/internal/model"
)

const postColumns = `id, author_id, content, media_refs, tags, like_count, comment_count, created_at`

type postRow struct {
	ID           string         `db:"id"`
	AuthorID     string         `db:"author_id"`
	Content      string         `db:"content"`
	MediaRefs    pq.StringArray `db:"media_refs"`
	Tags         pq.StringArray `db:"tags"`
	LikeCount    int            `db:"like_count"`
	CommentCount int            `db:"comment_count"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r postRow) toModel() model.Post {
	return model.Post{
		ID:            r.ID,
		AuthorID:      r.AuthorID,
		Content:       r.Content,
		MediaRefs:     nonNil(r.MediaRefs),
		Tags:          nonNil(r.Tags),
		LikerIDs:      []string{},
		LikesCount:    r.LikeCount,
		CommentIDs:    []string{},
		CommentsCount: r.CommentCount,
		CreatedAt:     r.CreatedAt,
	}
}

type scoreRow struct {
	ID        string `db:"id"`
	Timestamp int64  `db:"ts"`
}

type postRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, p *model.Post) error {
	query := `
		INSERT INTO posts (id, author_id, content, media_refs, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.AuthorID, p.Content, pq.Array(p.MediaRefs), pq.Array(p.Tags), p.CreatedAt)
	if err != nil {
		return wrapErr("insert post", err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	var row postRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+postColumns+` FROM posts WHERE id = $1 AND deleted_at IS NULL`, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPostNotFound
	}
	if err != nil {
		return nil, wrapErr("get post", err)
	}

	posts, err := r.hydrate(ctx, []postRow{row})
	if err != nil {
		return nil, err
	}
	return &posts[0], nil
}

func (r *postRepository) GetByIDs(ctx context.Context, postIDs []string) ([]model.Post, error) {
	if len(postIDs) == 0 {
		return []model.Post{}, nil
	}

	var rows []postRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+postColumns+` FROM posts WHERE id = ANY($1) AND deleted_at IS NULL`, pq.Array(postIDs))
	if err != nil {
		return nil, wrapErr("get posts by ids", err)
	}
	posts, err := r.hydrate(ctx, rows)
	if err != nil {
		return nil, err
	}

	// Re-order to match input order
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

// Delete soft-deletes the post. Comments and likes stay in place.
func (r *postRepository) Delete(ctx context.Context, postID, actorID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE posts SET deleted_at = NOW()
		WHERE id = $1 AND author_id = $2 AND deleted_at IS NULL
	`, postID, actorID)
	if err != nil {
		return wrapErr("delete post", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return wrapErr("get rows affected", err)
	}
	if rows == 0 {
		var exists bool
		err := r.db.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1 AND deleted_at IS NULL)`, postID)
		if err != nil {
			return wrapErr("check post exists", err)
		}
		if exists {
			return model.ErrNotPostOwner
		}
		return model.ErrPostNotFound
	}
	return nil
}

// ToggleLike holds the post row lock while it reads membership, flips it and moves the
// counter, so concurrent toggles apply one after another against current state.
func (r *postRepository) ToggleLike(ctx context.Context, postID, userID string) (*model.LikeResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	var authorID string
	err = tx.GetContext(ctx, &authorID,
		`SELECT author_id FROM posts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPostNotFound
	}
	if err != nil {
		return nil, wrapErr("lock post", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		return nil, wrapErr("delete like", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return nil, wrapErr("get rows affected", err)
	}

	delta := -1
	if removed == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)`, postID, userID)
		if err != nil {
			return nil, wrapErr("insert like", err)
		}
		delta = 1
	}

	var count int
	err = tx.GetContext(ctx, &count,
		`UPDATE posts SET like_count = like_count + $2 WHERE id = $1 RETURNING like_count`, postID, delta)
	if err != nil {
		return nil, wrapErr("update like count", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("commit transaction", err)
	}
	return &model.LikeResult{Liked: delta > 0, LikesCount: count, AuthorID: authorID}, nil
}

func (r *postRepository) List(ctx context.Context, offset, limit int) ([]model.Post, error) {
	return r.selectPosts(ctx, "list posts", `
		SELECT `+postColumns+` FROM posts
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2
	`, offset, limit)
}

func (r *postRepository) Trending(ctx context.Context, limit int) ([]model.Post, error) {
	return r.selectPosts(ctx, "trending posts", `
		SELECT `+postColumns+` FROM posts
		WHERE deleted_at IS NULL
		ORDER BY like_count DESC, created_at DESC, id DESC
		LIMIT $1
	`, limit)
}

func (r *postRepository) ByTag(ctx context.Context, tag string) ([]model.Post, error) {
	return r.selectPosts(ctx, "posts by tag", `
		SELECT `+postColumns+` FROM posts
		WHERE deleted_at IS NULL AND tags @> ARRAY[$1]::text[]
		ORDER BY created_at DESC, id DESC
	`, tag)
}

func (r *postRepository) ByAuthor(ctx context.Context, authorID string) ([]model.Post, error) {
	return r.selectPosts(ctx, "posts by author", `
		SELECT `+postColumns+` FROM posts
		WHERE deleted_at IS NULL AND author_id = $1
		ORDER BY created_at DESC, id DESC
	`, authorID)
}

func (r *postRepository) ByAuthors(ctx context.Context, authorIDs []string, offset, limit int) ([]model.Post, error) {
	if len(authorIDs) == 0 {
		return []model.Post{}, nil
	}
	return r.selectPosts(ctx, "posts by authors", `
		SELECT `+postColumns+` FROM posts
		WHERE deleted_at IS NULL AND author_id = ANY($1)
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`, pq.Array(authorIDs), offset, limit)
}

func (r *postRepository) RecentScores(ctx context.Context, limit int) ([]cache.PostScore, error) {
	return r.selectScores(ctx, "recent post scores", `
		SELECT id, (EXTRACT(EPOCH FROM created_at) * 1000)::bigint AS ts
		FROM posts
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
}

func (r *postRepository) ScoresByAuthors(ctx context.Context, authorIDs []string, limit int) ([]cache.PostScore, error) {
	if len(authorIDs) == 0 {
		return []cache.PostScore{}, nil
	}
	return r.selectScores(ctx, "post scores by authors", `
		SELECT id, (EXTRACT(EPOCH FROM created_at) * 1000)::bigint AS ts
		FROM posts
		WHERE deleted_at IS NULL AND author_id = ANY($1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, pq.Array(authorIDs), limit)
}

func (r *postRepository) selectPosts(ctx context.Context, op, query string, args ...interface{}) ([]model.Post, error) {
	var rows []postRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr(op, err)
	}
	return r.hydrate(ctx, rows)
}

func (r *postRepository) selectScores(ctx context.Context, op, query string, args ...interface{}) ([]cache.PostScore, error) {
	var rows []scoreRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr(op, err)
	}
	scores := make([]cache.PostScore, len(rows))
	for i, row := range rows {
		scores[i] = cache.PostScore{PostID: row.ID, Timestamp: row.Timestamp}
	}
	return scores, nil
}

// hydrate attaches liker and comment ids with one query each.
func (r *postRepository) hydrate(ctx context.Context, rows []postRow) ([]model.Post, error) {
	posts := make([]model.Post, len(rows))
	if len(rows) == 0 {
		return posts, nil
	}

	ids := make([]string, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		posts[i] = row.toModel()
		ids[i] = row.ID
		index[row.ID] = i
	}

	type pair struct {
		PostID string `db:"post_id"`
		ID     string `db:"id"`
	}

	var likes []pair
	err := r.db.SelectContext(ctx, &likes, `
		SELECT post_id, user_id AS id FROM post_likes
		WHERE post_id = ANY($1)
		ORDER BY created_at, user_id
	`, pq.Array(ids))
	if err != nil {
		return nil, wrapErr("get post likers", err)
	}
	for _, l := range likes {
		p := &posts[index[l.PostID]]
		p.LikerIDs = append(p.LikerIDs, l.ID)
	}

	var comments []pair
	err = r.db.SelectContext(ctx, &comments, `
		SELECT post_id, id FROM comments
		WHERE post_id = ANY($1)
		ORDER BY created_at, id
	`, pq.Array(ids))
	if err != nil {
		return nil, wrapErr("get post comment ids", err)
	}
	for _, c := range comments {
		p := &posts[index[c.PostID]]
		p.CommentIDs = append(p.CommentIDs, c.ID)
	}

	return posts, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
