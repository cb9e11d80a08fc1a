package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"socialgraph/internal/model"
)

const userColumns = `id, username, full_name, bio, avatar_ref, follower_count, following_count, created_at, updated_at`

// userRepository implements UserRepository using sqlx
type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, username, full_name, bio, avatar_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Username, u.FullName, u.Bio, u.AvatarRef, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrUsernameExists
		}
		return wrapErr("insert user", err)
	}
	u.UpdatedAt = u.CreatedAt
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, wrapErr("get user", err)
	}

	u.FollowerIDs = []string{}
	err = r.db.SelectContext(ctx, &u.FollowerIDs,
		`SELECT follower_id FROM follows WHERE followee_id = $1 ORDER BY created_at DESC, follower_id`, id)
	if err != nil {
		return nil, wrapErr("get follower ids", err)
	}

	u.FollowingIDs = []string{}
	err = r.db.SelectContext(ctx, &u.FollowingIDs,
		`SELECT followee_id FROM follows WHERE follower_id = $1 ORDER BY created_at DESC, followee_id`, id)
	if err != nil {
		return nil, wrapErr("get following ids", err)
	}

	return &u, nil
}

func (r *userRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id)
	if err != nil {
		return false, wrapErr("check user exists", err)
	}
	return exists, nil
}

func (r *userRepository) GetSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	if len(ids) == 0 {
		return []model.UserSummary{}, nil
	}

	var rows []model.UserSummary
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, username, full_name, avatar_ref FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, wrapErr("get user summaries", err)
	}
	return orderSummaries(ids, rows), nil
}

// Search uses ILIKE with the query's wildcard characters escaped.
func (r *userRepository) Search(ctx context.Context, query string, limit int) ([]model.UserSummary, error) {
	pattern := "%" + escapeLike(query) + "%"
	searchQuery := `
		SELECT id, username, full_name, avatar_ref
		FROM users
		WHERE username ILIKE $1 ESCAPE '\' OR full_name ILIKE $1 ESCAPE '\'
		ORDER BY username
		LIMIT $2
	`
	users := []model.UserSummary{}
	if err := r.db.SelectContext(ctx, &users, searchQuery, pattern, limit); err != nil {
		return nil, wrapErr("search users", err)
	}
	return users, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id string, req model.UpdateProfileRequest) (*model.User, error) {
	query := `
		UPDATE users SET
			full_name  = COALESCE($2, full_name),
			bio        = COALESCE($3, bio),
			avatar_ref = COALESCE($4, avatar_ref),
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, req.FullName, req.Bio, req.AvatarRef)
	if err != nil {
		return nil, wrapErr("update profile", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, model.ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}

// SetAvatar locks the row so the returned previous ref is the one actually replaced.
func (r *userRepository) SetAvatar(ctx context.Context, id, ref string) (*string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	var previous sql.NullString
	err = tx.GetContext(ctx, &previous, `SELECT avatar_ref FROM users WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, wrapErr("lock user", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET avatar_ref = $2, updated_at = NOW() WHERE id = $1`, id, ref); err != nil {
		return nil, wrapErr("set avatar", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("commit transaction", err)
	}

	if !previous.Valid {
		return nil, nil
	}
	return &previous.String, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func orderSummaries(ids []string, rows []model.UserSummary) []model.UserSummary {
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
	return out
}
