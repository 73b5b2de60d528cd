package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

type PostStore struct {
	mu       sync.RWMutex
	posts    map[uuid.UUID]*model.Post
	comments map[uuid.UUID][]model.Comment
	likes    map[uuid.UUID]map[uuid.UUID]struct{} // postID -> userIDs
}

func NewPostStore() *PostStore {
	return &PostStore{
		posts:    make(map[uuid.UUID]*model.Post),
		comments: make(map[uuid.UUID][]model.Comment),
		likes:    make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (s *PostStore) Create(_ context.Context, post *model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if post.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		post.ID = id
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	stored := *post
	s.posts[post.ID] = &stored
	return nil
}

func (s *PostStore) FindByID(_ context.Context, id uuid.UUID) (*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	out := *post
	return &out, nil
}

func (s *PostStore) CreateComment(_ context.Context, comment *model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[comment.PostID]; !ok {
		return apperror.ErrNotFound
	}
	if comment.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		comment.ID = id
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}
	s.comments[comment.PostID] = append(s.comments[comment.PostID], *comment)
	return nil
}

func (s *PostStore) Like(_ context.Context, postID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[postID]; !ok {
		return false, apperror.ErrNotFound
	}
	set := s.likes[postID]
	if set == nil {
		set = make(map[uuid.UUID]struct{})
		s.likes[postID] = set
	}
	if _, liked := set[userID]; liked {
		return false, nil
	}
	set[userID] = struct{}{}
	return true, nil
}

func (s *PostStore) Unlike(_ context.Context, postID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.likes[postID]
	if _, liked := set[userID]; !liked {
		return false, nil
	}
	delete(set, userID)
	return true, nil
}

func (s *PostStore) CountLikes(_ context.Context, postID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.likes[postID])), nil
}
