package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

type MessageStore struct {
	mu      sync.RWMutex
	msgs    map[uuid.UUID]*model.Message
	byConvo map[uuid.UUID][]uuid.UUID
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		msgs:    make(map[uuid.UUID]*model.Message),
		byConvo: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *MessageStore) Create(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		msg.ID = id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	for i := range msg.Receipts {
		msg.Receipts[i].MessageID = msg.ID
	}

	stored := cloneMessage(msg)
	s.msgs[msg.ID] = &stored
	s.byConvo[msg.ConversationID] = append(s.byConvo[msg.ConversationID], msg.ID)
	return nil
}

func (s *MessageStore) FindByID(_ context.Context, id uuid.UUID) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.msgs[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	out := cloneMessage(msg)
	return &out, nil
}

func (s *MessageStore) ListByConversation(_ context.Context, convoID, viewerID uuid.UUID, before *time.Time, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Message
	for _, id := range s.byConvo[convoID] {
		msg := s.msgs[id]
		if hasReceipt(msg, viewerID, model.ReceiptDeleted) {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		result = append(result, cloneMessage(msg))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MessageStore) AddReceipt(_ context.Context, messageID, userID uuid.UUID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[messageID]
	if !ok {
		return apperror.ErrNotFound
	}
	s.addReceiptLocked(msg, userID, kind)
	return nil
}

func (s *MessageStore) MarkAllRead(_ context.Context, convoID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byConvo[convoID] {
		s.addReceiptLocked(s.msgs[id], userID, model.ReceiptRead)
	}
	return nil
}

func (s *MessageStore) CountUnread(_ context.Context, convoID, userID uuid.UUID, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, id := range s.byConvo[convoID] {
		msg := s.msgs[id]
		if msg.SenderID == userID || !msg.CreatedAt.After(since) {
			continue
		}
		if hasReceipt(msg, userID, model.ReceiptDeleted) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MessageStore) LastMessages(_ context.Context, convoIDs []uuid.UUID) (map[uuid.UUID]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[uuid.UUID]model.Message, len(convoIDs))
	for _, convoID := range convoIDs {
		var last *model.Message
		for _, id := range s.byConvo[convoID] {
			msg := s.msgs[id]
			if last == nil || msg.CreatedAt.After(last.CreatedAt) {
				last = msg
			}
		}
		if last != nil {
			result[convoID] = cloneMessage(last)
		}
	}
	return result, nil
}

func (s *MessageStore) addReceiptLocked(msg *model.Message, userID uuid.UUID, kind string) {
	if hasReceipt(msg, userID, kind) {
		return
	}
	msg.Receipts = append(msg.Receipts, model.MessageReceipt{
		MessageID: msg.ID,
		UserID:    userID,
		Kind:      kind,
		CreatedAt: time.Now(),
	})
}

func hasReceipt(msg *model.Message, userID uuid.UUID, kind string) bool {
	for _, r := range msg.Receipts {
		if r.UserID == userID && r.Kind == kind {
			return true
		}
	}
	return false
}

func cloneMessage(m *model.Message) model.Message {
	out := *m
	out.Attachments = make([]model.MessageAttachment, len(m.Attachments))
	copy(out.Attachments, m.Attachments)
	out.Receipts = make([]model.MessageReceipt, len(m.Receipts))
	copy(out.Receipts, m.Receipts)
	return out
}
