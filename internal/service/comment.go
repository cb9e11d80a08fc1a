package service

import (
	"context"
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

type CommentService struct {
	comments  repository.CommentRepository
	posts     repository.PostRepository
	users     repository.UserRepository
	publisher queue.Publisher
	log       zerolog.Logger
}

func NewCommentService(
	comments repository.CommentRepository,
	posts repository.PostRepository,
	users repository.UserRepository,
	publisher queue.Publisher,
) *CommentService {
	return &CommentService{
		comments:  comments,
		posts:     posts,
		users:     users,
		publisher: publisher,
		log:       logging.Component("comment_service"),
	}
}

// CreateComment stores the comment and links it to its post in one atomic unit, then
// publishes PostCommented unless the actor wrote the post.
func (s *CommentService) CreateComment(ctx context.Context, actorID, postID, content string) (comment *model.Comment, err error) {
	defer func() { metrics.RecordMutation("create_comment", err) }()

	if err := validateIDs(actorID, postID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, model.ErrContentRequired
	}
	if utf8.RuneCountInString(content) > model.MaxCommentLength {
		return nil, model.ErrCommentTooLong
	}

	exists, err := s.users.Exists(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, model.ErrUserNotFound
	}

	comment = &model.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  actorID,
		Content:   content,
		CreatedAt: newTimestamp(),
	}
	postAuthorID, err := s.comments.Create(ctx, comment)
	if err != nil {
		return nil, err
	}

	if postAuthorID != actorID {
		publishAfterCommit(ctx, s.publisher, s.log,
			queue.NewPostCommentedEvent(postID, comment.ID, actorID, postAuthorID))
	}

	if authors, err := summaryMap(ctx, s.users, []string{actorID}); err == nil {
		comment.Author = authors[actorID]
	}

	s.log.Info().
		Str("comment_id", comment.ID).
		Str("post_id", postID).
		Str("author_id", actorID).
		Msg("Comment created")
	return comment, nil
}

// DeleteComment removes the actor's own comment and unlinks it from its post.
func (s *CommentService) DeleteComment(ctx context.Context, actorID, commentID string) (err error) {
	defer func() { metrics.RecordMutation("delete_comment", err) }()

	if err := validateIDs(actorID, commentID); err != nil {
		return err
	}

	deleted, err := s.comments.Delete(ctx, commentID, actorID)
	if err != nil {
		return err
	}

	s.log.Info().
		Str("comment_id", commentID).
		Str("post_id", deleted.PostID).
		Msg("Comment deleted")
	return nil
}

// ListComments returns a post's comments, newest first.
func (s *CommentService) ListComments(ctx context.Context, postID string) ([]model.Comment, error) {
	if err := validateIDs(postID); err != nil {
		return nil, err
	}
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return nil, err
	}

	comments, err := s.comments.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := attachCommentAuthors(ctx, s.users, comments); err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	return comments, nil
}
