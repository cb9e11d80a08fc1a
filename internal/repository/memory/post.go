package memory

import (
	"context"
	"sort"

	"socialgraph/internal/cache"
	"socialgraph/internal/model"
)

type postRepository struct {
	s *state
}

func (r *postRepository) Create(_ context.Context, p *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := clonePost(p)
	stored.LikerIDs = []string{}
	stored.LikesCount = 0
	stored.CommentIDs = []string{}
	stored.CommentsCount = 0
	r.s.posts[p.ID] = &stored
	return nil
}

func (r *postRepository) GetByID(_ context.Context, postID string) (*model.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.posts[postID]
	if !ok {
		return nil, model.ErrPostNotFound
	}
	c := clonePost(p)
	return &c, nil
}

func (r *postRepository) GetByIDs(_ context.Context, postIDs []string) ([]model.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.Post, 0, len(postIDs))
	for _, id := range postIDs {
		if p, ok := r.s.posts[id]; ok {
			out = append(out, clonePost(p))
		}
	}
	return out, nil
}

// Delete removes the post. Its comments are left in place.
func (r *postRepository) Delete(_ context.Context, postID, actorID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[postID]
	if !ok {
		return model.ErrPostNotFound
	}
	if p.AuthorID != actorID {
		return model.ErrNotPostOwner
	}
	delete(r.s.posts, postID)
	return nil
}

func (r *postRepository) ToggleLike(_ context.Context, postID, userID string) (*model.LikeResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[postID]
	if !ok {
		return nil, model.ErrPostNotFound
	}

	var removed bool
	p.LikerIDs, removed = remove(p.LikerIDs, userID)
	if !removed {
		p.LikerIDs = append(p.LikerIDs, userID)
	}
	p.LikesCount = len(p.LikerIDs)
	return &model.LikeResult{Liked: !removed, LikesCount: p.LikesCount, AuthorID: p.AuthorID}, nil
}

func (r *postRepository) List(_ context.Context, offset, limit int) ([]model.Post, error) {
	return page(r.filter(func(*model.Post) bool { return true }), offset, limit), nil
}

func (r *postRepository) Trending(_ context.Context, limit int) ([]model.Post, error) {
	posts := r.filter(func(*model.Post) bool { return true })
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].LikesCount > posts[j].LikesCount
	})
	return page(posts, 0, limit), nil
}

func (r *postRepository) ByTag(_ context.Context, tag string) ([]model.Post, error) {
	return r.filter(func(p *model.Post) bool { return contains(p.Tags, tag) }), nil
}

func (r *postRepository) ByAuthor(_ context.Context, authorID string) ([]model.Post, error) {
	return r.filter(func(p *model.Post) bool { return p.AuthorID == authorID }), nil
}

func (r *postRepository) ByAuthors(_ context.Context, authorIDs []string, offset, limit int) ([]model.Post, error) {
	return page(r.filter(func(p *model.Post) bool { return contains(authorIDs, p.AuthorID) }), offset, limit), nil
}

func (r *postRepository) RecentScores(_ context.Context, limit int) ([]cache.PostScore, error) {
	return scores(page(r.filter(func(*model.Post) bool { return true }), 0, limit)), nil
}

func (r *postRepository) ScoresByAuthors(_ context.Context, authorIDs []string, limit int) ([]cache.PostScore, error) {
	posts := r.filter(func(p *model.Post) bool { return contains(authorIDs, p.AuthorID) })
	return scores(page(posts, 0, limit)), nil
}

// filter returns matching posts newest first.
func (r *postRepository) filter(match func(*model.Post) bool) []model.Post {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []model.Post{}
	for _, p := range r.s.posts {
		if match(p) {
			out = append(out, clonePost(p))
		}
	}
	sortPosts(out)
	return out
}

func scores(posts []model.Post) []cache.PostScore {
	out := make([]cache.PostScore, len(posts))
	for i, p := range posts {
		out[i] = cache.PostScore{PostID: p.ID, Timestamp: p.CreatedAt.UnixMilli()}
	}
	return out
}
