package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/repository"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

type NotificationStore struct {
	mu    sync.RWMutex
	rows  map[uuid.UUID]*model.Notification
	users *UserStore
}

// NewNotificationStore builds a store; users, when non-nil, is used to
// attach actor display fields on reads the way the postgres
// implementation preloads them.
func NewNotificationStore(users *UserStore) *NotificationStore {
	return &NotificationStore{
		rows:  make(map[uuid.UUID]*model.Notification),
		users: users,
	}
}

func (s *NotificationStore) Create(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(n)
	return nil
}

func (s *NotificationStore) UpsertLike(_ context.Context, n *model.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.Type == model.NotifLike &&
			row.RecipientID == n.RecipientID &&
			row.ActorID == n.ActorID &&
			equalRef(row.PostID, n.PostID) {
			return false, nil
		}
	}
	s.insertLocked(n)
	return true, nil
}

func (s *NotificationStore) DeleteLike(_ context.Context, recipientID, actorID, postID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, row := range s.rows {
		if row.Type == model.NotifLike &&
			row.RecipientID == recipientID &&
			row.ActorID == actorID &&
			row.PostID != nil && *row.PostID == postID {
			delete(s.rows, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *NotificationStore) FindByID(_ context.Context, id, recipientID uuid.UUID) (*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok || row.RecipientID != recipientID {
		return nil, apperror.ErrNotFound
	}
	out := *row
	s.attachActor(&out)
	return &out, nil
}

func (s *NotificationStore) List(_ context.Context, recipientID uuid.UUID, q repository.NotificationQuery) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Notification
	for _, row := range s.rows {
		if row.RecipientID != recipientID {
			continue
		}
		if q.UnreadOnly && row.Read {
			continue
		}
		if len(q.Types) > 0 && !contains(q.Types, row.Type) {
			continue
		}
		if q.Before != nil && !row.CreatedAt.Before(*q.Before) {
			continue
		}
		out := *row
		s.attachActor(&out)
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *NotificationStore) CountUnread(_ context.Context, recipientID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, row := range s.rows {
		if row.RecipientID == recipientID && !row.Read {
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) MarkRead(_ context.Context, recipientID uuid.UUID, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, id := range ids {
		row, ok := s.rows[id]
		if !ok || row.RecipientID != recipientID || row.Read {
			continue
		}
		row.Read = true
		updated++
	}
	return updated, nil
}

func (s *NotificationStore) MarkAllRead(_ context.Context, recipientID uuid.UUID, types []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, row := range s.rows {
		if row.RecipientID != recipientID || row.Read {
			continue
		}
		if len(types) > 0 && !contains(types, row.Type) {
			continue
		}
		row.Read = true
		updated++
	}
	return updated, nil
}

func (s *NotificationStore) insertLocked(n *model.Notification) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	stored := *n
	stored.Actor = nil
	s.rows[n.ID] = &stored
}

func (s *NotificationStore) attachActor(n *model.Notification) {
	if s.users == nil {
		return
	}
	if u, err := s.users.FindByID(context.Background(), n.ActorID); err == nil {
		n.Actor = u
	}
}

func equalRef(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
