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

type ConversationStore struct {
	mu        sync.RWMutex
	convos    map[uuid.UUID]*model.Conversation
	pairIndex map[string]uuid.UUID
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		convos:    make(map[uuid.UUID]*model.Conversation),
		pairIndex: make(map[string]uuid.UUID),
	}
}

func (s *ConversationStore) Create(_ context.Context, convo *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convo.ID == uuid.Nil {
		convo.ID = uuid.New()
	}
	now := time.Now()
	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = now
	}
	if convo.PairKey != nil {
		if _, exists := s.pairIndex[*convo.PairKey]; exists {
			return apperror.ErrBadRequest
		}
		s.pairIndex[*convo.PairKey] = convo.ID
	}
	for i := range convo.Participants {
		convo.Participants[i].ConversationID = convo.ID
		if convo.Participants[i].CreatedAt.IsZero() {
			convo.Participants[i].CreatedAt = now
		}
	}

	stored := cloneConversation(convo)
	s.convos[convo.ID] = &stored
	return nil
}

func (s *ConversationStore) FindByID(_ context.Context, id uuid.UUID) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convo, ok := s.convos[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	out := cloneConversation(convo)
	return &out, nil
}

func (s *ConversationStore) FindByPairKey(_ context.Context, pairKey string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairIndex[pairKey]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	out := cloneConversation(s.convos[id])
	return &out, nil
}

func (s *ConversationStore) FindByUser(_ context.Context, userID uuid.UUID, limit int) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Conversation
	for _, convo := range s.convos {
		for _, p := range convo.Participants {
			if p.UserID == userID {
				result = append(result, cloneConversation(convo))
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastMessageAt.After(result[j].LastMessageAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *ConversationStore) MemberConversationIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for id, convo := range s.convos {
		for _, p := range convo.Participants {
			if p.UserID == userID && p.Status == model.StatusMember {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

func (s *ConversationStore) AddParticipants(_ context.Context, convoID uuid.UUID, participants []model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convo, ok := s.convos[convoID]
	if !ok {
		return apperror.ErrNotFound
	}
	now := time.Now()
	for _, p := range participants {
		p.ConversationID = convoID
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		convo.Participants = append(convo.Participants, p)
	}
	return nil
}

func (s *ConversationStore) AcceptParticipant(_ context.Context, convoID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participant(convoID, userID)
	if p == nil {
		return apperror.ErrNotFound
	}
	p.Status = model.StatusMember
	p.AcceptedAt = &at
	p.LastReadAt = at
	return nil
}

func (s *ConversationStore) RemoveParticipant(_ context.Context, convoID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convo, ok := s.convos[convoID]
	if !ok {
		return apperror.ErrNotFound
	}
	for i, p := range convo.Participants {
		if p.UserID == userID {
			convo.Participants = append(convo.Participants[:i], convo.Participants[i+1:]...)
			return nil
		}
	}
	return apperror.ErrNotFound
}

func (s *ConversationStore) SetLastReadAt(_ context.Context, convoID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participant(convoID, userID)
	if p == nil {
		return apperror.ErrNotFound
	}
	p.LastReadAt = at
	return nil
}

func (s *ConversationStore) TouchLastMessageAt(_ context.Context, convoID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convo, ok := s.convos[convoID]
	if !ok {
		return apperror.ErrNotFound
	}
	if at.After(convo.LastMessageAt) {
		convo.LastMessageAt = at
	}
	return nil
}

func (s *ConversationStore) participant(convoID, userID uuid.UUID) *model.Participant {
	convo, ok := s.convos[convoID]
	if !ok {
		return nil
	}
	for i := range convo.Participants {
		if convo.Participants[i].UserID == userID {
			return &convo.Participants[i]
		}
	}
	return nil
}

func cloneConversation(c *model.Conversation) model.Conversation {
	out := *c
	out.Participants = make([]model.Participant, len(c.Participants))
	copy(out.Participants, c.Participants)
	return out
}
