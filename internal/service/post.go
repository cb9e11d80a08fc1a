package service

import (
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
	"socialgraph/internal/model"
	"socialgraph/internal/queue"
	"socialgraph/internal/repository"
)

// PostService is the interaction engine for posts and likes.
type PostService struct {
	posts     repository.PostRepository
	users     repository.UserRepository
	comments  repository.CommentRepository
	publisher queue.Publisher
	log       zerolog.Logger
}

func NewPostService(
	posts repository.PostRepository,
	users repository.UserRepository,
	comments repository.CommentRepository,
	publisher queue.Publisher,
) *PostService {
	return &PostService{
		posts:     posts,
		users:     users,
		comments:  comments,
		publisher: publisher,
		log:       logging.Component("post_service"),
	}
}

// CreatePost stores a new post authored by actorID and publishes PostCreated for
// timeline fan-out.
func (s *PostService) CreatePost(ctx context.Context, actorID string, req model.CreatePostRequest) (post *model.Post, err error) {
	defer func() { metrics.RecordMutation("create_post", err) }()

	if err := validateIDs(actorID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Content) == "" && len(req.MediaRefs) == 0 {
		return nil, model.ErrPostEmpty
	}
	if utf8.RuneCountInString(req.Content) > model.MaxPostContentLength {
		return nil, model.ErrContentTooLong
	}
	if len(req.MediaRefs) > model.MaxPostMediaCount {
		return nil, model.ErrTooManyMedia
	}
	mediaRefs := make([]string, 0, len(req.MediaRefs))
	for _, ref := range req.MediaRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, model.ErrEmptyMediaRef
		}
		mediaRefs = append(mediaRefs, ref)
	}

	exists, err := s.users.Exists(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, model.ErrUserNotFound
	}

	post = &model.Post{
		ID:         uuid.NewString(),
		AuthorID:   actorID,
		Content:    req.Content,
		MediaRefs:  mediaRefs,
		Tags:       model.NormalizeTags(req.Tags),
		LikerIDs:   []string{},
		CommentIDs: []string{},
		CreatedAt:  newTimestamp(),
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}

	publishAfterCommit(ctx, s.publisher, s.log, queue.NewPostCreatedEvent(post.ID, post.AuthorID, post.CreatedAt))

	if authors, err := summaryMap(ctx, s.users, []string{actorID}); err == nil {
		post.Author = authors[actorID]
	}

	s.log.Info().Str("post_id", post.ID).Str("author_id", actorID).Msg("Post created")
	return post, nil
}

// ToggleLike flips the actor's like on a post. A new like by someone other than the
// author publishes PostLiked; unliking never retracts a notification.
func (s *PostService) ToggleLike(ctx context.Context, actorID, postID string) (result *model.LikeResult, err error) {
	defer func() { metrics.RecordMutation("toggle_like", err) }()

	if err := validateIDs(actorID, postID); err != nil {
		return nil, err
	}

	result, err = s.posts.ToggleLike(ctx, postID, actorID)
	if err != nil {
		return nil, err
	}

	if result.Liked && result.AuthorID != actorID {
		publishAfterCommit(ctx, s.publisher, s.log, queue.NewPostLikedEvent(postID, actorID, result.AuthorID))
	}

	s.log.Debug().
		Str("post_id", postID).
		Str("actor_id", actorID).
		Bool("liked", result.Liked).
		Int("likes_count", result.LikesCount).
		Msg("Like toggled")
	return result, nil
}

// DeletePost removes the actor's own post and publishes PostDeleted so it leaves the
// cached timelines. Comments are kept.
func (s *PostService) DeletePost(ctx context.Context, actorID, postID string) (err error) {
	defer func() { metrics.RecordMutation("delete_post", err) }()

	if err := validateIDs(actorID, postID); err != nil {
		return err
	}
	if err := s.posts.Delete(ctx, postID, actorID); err != nil {
		return err
	}

	publishAfterCommit(ctx, s.publisher, s.log, queue.NewPostDeletedEvent(postID, actorID))

	s.log.Info().Str("post_id", postID).Str("author_id", actorID).Msg("Post deleted")
	return nil
}

// GetPost returns a post with its author and comments, newest comment first. viewerID
// is empty for anonymous readers.
func (s *PostService) GetPost(ctx context.Context, postID, viewerID string) (*model.PostDetail, error) {
	if err := validateIDs(postID); err != nil {
		return nil, err
	}

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	posts := []model.Post{*post}
	if err := attachPostAuthors(ctx, s.users, posts); err != nil {
		return nil, err
	}
	if err := attachCommentAuthors(ctx, s.users, comments); err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []model.Comment{}
	}

	return &model.PostDetail{
		Post:          posts[0],
		Comments:      comments,
		LikedByViewer: viewerID != "" && slices.Contains(post.LikerIDs, viewerID),
	}, nil
}
