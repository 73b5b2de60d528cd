package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
	"gorm.io/gorm"
)

// ConversationRepository owns the conversation documents and their
// embedded participant roster. Roster rows are only ever touched
// through these narrow operations; callers never replace the roster
// wholesale.
type ConversationRepository interface {
	Create(ctx context.Context, convo *model.Conversation) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	FindByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error)
	FindByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Conversation, error)
	MemberConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	AddParticipants(ctx context.Context, convoID uuid.UUID, participants []model.Participant) error
	AcceptParticipant(ctx context.Context, convoID, userID uuid.UUID, at time.Time) error
	RemoveParticipant(ctx context.Context, convoID, userID uuid.UUID) error
	SetLastReadAt(ctx context.Context, convoID, userID uuid.UUID, at time.Time) error
	TouchLastMessageAt(ctx context.Context, convoID uuid.UUID, at time.Time) error
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, convo *model.Conversation) error {
	return r.db.WithContext(ctx).Create(convo).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	var convo model.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("participants.created_at") // roster keeps insertion order
		}).
		Preload("Participants.User", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "name", "avatar_url")
		}).
		First(&convo, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &convo, nil
}

func (r *conversationRepository) FindByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error) {
	var convo model.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		First(&convo, "pair_key = ?", pairKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &convo, nil
}

func (r *conversationRepository) FindByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Conversation, error) {
	var convos []model.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN participants ON participants.conversation_id = conversations.id").
		Where("participants.user_id = ?", userID).
		Order("conversations.last_message_at DESC").
		Limit(limit).
		Preload("Participants").
		Preload("Participants.User", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "name", "avatar_url")
		}).
		Find(&convos).Error
	return convos, err
}

func (r *conversationRepository) MemberConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("user_id = ? AND status = ?", userID, model.StatusMember).
		Pluck("conversation_id", &ids).Error
	return ids, err
}

func (r *conversationRepository) AddParticipants(ctx context.Context, convoID uuid.UUID, participants []model.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	for i := range participants {
		participants[i].ConversationID = convoID
	}
	return r.db.WithContext(ctx).Create(&participants).Error
}

func (r *conversationRepository) AcceptParticipant(ctx context.Context, convoID, userID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", convoID, userID).
		Updates(map[string]interface{}{
			"status":       model.StatusMember,
			"accepted_at":  at,
			"last_read_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *conversationRepository) RemoveParticipant(ctx context.Context, convoID, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convoID, userID).
		Delete(&model.Participant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *conversationRepository) SetLastReadAt(ctx context.Context, convoID, userID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", convoID, userID).
		Update("last_read_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *conversationRepository) TouchLastMessageAt(ctx context.Context, convoID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", convoID).
		Update("last_message_at", at).Error
}
