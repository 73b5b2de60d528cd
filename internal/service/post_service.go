package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/repository"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

// PostView is a post as read back, with its like tally attached.
type PostView struct {
	Post      *model.Post `json:"post"`
	LikeCount int64       `json:"like_count"`
}

// PostService is the minimal post surface the notification engine
// hangs off: create, comment, like, unlike.
type PostService interface {
	Create(ctx context.Context, authorID uuid.UUID, content string) (*model.Post, error)
	Get(ctx context.Context, postID uuid.UUID) (*PostView, error)
	Comment(ctx context.Context, postID, authorID uuid.UUID, content string) (*model.Comment, error)
	Like(ctx context.Context, postID, userID uuid.UUID) error
	Unlike(ctx context.Context, postID, userID uuid.UUID) error
}

type postService struct {
	postRepo      repository.PostRepository
	notifications NotificationService
	sanitizer     *bluemonday.Policy
	async         func(fn func())
}

func NewPostService(postRepo repository.PostRepository, notifications NotificationService) PostService {
	return &postService{
		postRepo:      postRepo,
		notifications: notifications,
		sanitizer:     bluemonday.UGCPolicy(),
		async:         func(fn func()) { go fn() },
	}
}

func (s *postService) Create(ctx context.Context, authorID uuid.UUID, content string) (*model.Post, error) {
	content = strings.TrimSpace(s.sanitizer.Sanitize(content))
	if content == "" {
		return nil, apperror.Wrap(apperror.ErrBadRequest, "post content is required")
	}
	post := &model.Post{UserID: authorID, Text: content}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

func (s *postService) Get(ctx context.Context, postID uuid.UUID) (*PostView, error) {
	post, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	likes, err := s.postRepo.CountLikes(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &PostView{Post: post, LikeCount: likes}, nil
}

func (s *postService) Comment(ctx context.Context, postID, authorID uuid.UUID, content string) (*model.Comment, error) {
	content = strings.TrimSpace(s.sanitizer.Sanitize(content))
	if content == "" {
		return nil, apperror.Wrap(apperror.ErrBadRequest, "comment content is required")
	}
	post, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	comment := &model.Comment{PostID: postID, UserID: authorID, Text: content}
	if err := s.postRepo.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}

	preview := truncatePreview(content)
	pID, cID := postID, comment.ID
	s.async(func() {
		err := s.notifications.Emit(context.Background(), EmitInput{
			RecipientID: post.UserID,
			ActorID:     authorID,
			Type:        model.NotifComment,
			PostID:      &pID,
			CommentID:   &cID,
			Meta:        model.NotificationMeta{Preview: preview},
		})
		if err != nil {
			log.Printf("comment notification failed: %v", err)
		}
	})
	return comment, nil
}

func (s *postService) Like(ctx context.Context, postID, userID uuid.UUID) error {
	post, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return err
	}
	created, err := s.postRepo.Like(ctx, postID, userID)
	if err != nil {
		return fmt.Errorf("like post: %w", err)
	}
	if !created {
		return nil
	}

	pID := postID
	s.async(func() {
		err := s.notifications.Emit(context.Background(), EmitInput{
			RecipientID: post.UserID,
			ActorID:     userID,
			Type:        model.NotifLike,
			PostID:      &pID,
		})
		if err != nil {
			log.Printf("like notification failed: %v", err)
		}
	})
	return nil
}

func (s *postService) Unlike(ctx context.Context, postID, userID uuid.UUID) error {
	post, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return err
	}
	deleted, err := s.postRepo.Unlike(ctx, postID, userID)
	if err != nil {
		return fmt.Errorf("unlike post: %w", err)
	}
	if !deleted {
		return nil
	}

	s.async(func() {
		if err := s.notifications.RemoveLike(context.Background(), post.UserID, userID, postID); err != nil {
			log.Printf("like notification removal failed: %v", err)
		}
	})
	return nil
}
