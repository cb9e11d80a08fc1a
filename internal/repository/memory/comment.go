package memory

import (
	"context"
	"sort"

	"socialgraph/internal/model"
)

type commentRepository struct {
	s *state
}

func (r *commentRepository) Create(_ context.Context, c *model.Comment) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[c.PostID]
	if !ok {
		return "", model.ErrPostNotFound
	}
	stored := *c
	stored.Author = nil
	r.s.comments[c.ID] = &stored
	p.CommentIDs = append(p.CommentIDs, c.ID)
	p.CommentsCount = len(p.CommentIDs)
	return p.AuthorID, nil
}

func (r *commentRepository) Delete(_ context.Context, commentID, actorID string) (*model.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.comments[commentID]
	if !ok {
		return nil, model.ErrCommentNotFound
	}
	if c.AuthorID != actorID {
		return nil, model.ErrNotCommentOwner
	}
	delete(r.s.comments, commentID)

	if p, ok := r.s.posts[c.PostID]; ok {
		p.CommentIDs, _ = remove(p.CommentIDs, commentID)
		p.CommentsCount = len(p.CommentIDs)
	}
	deleted := *c
	return &deleted, nil
}

func (r *commentRepository) ListByPost(_ context.Context, postID string) ([]model.Comment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []model.Comment{}
	for _, c := range r.s.comments {
		if c.PostID == postID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
