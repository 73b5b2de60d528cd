package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository is append-only: a persisted message is never
// updated except through receipt rows (delivered / read / deleted
// sets), which are added with conflict-free narrow inserts.
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Message, error)

	// ListByConversation returns messages the viewer has not soft
	// deleted, strictly older than before when set, newest first.
	ListByConversation(ctx context.Context, convoID, viewerID uuid.UUID, before *time.Time, limit int) ([]model.Message, error)

	// AddReceipt is an idempotent set-add.
	AddReceipt(ctx context.Context, messageID, userID uuid.UUID, kind string) error

	// MarkAllRead adds a read receipt for every message of the
	// conversation the user has not read yet.
	MarkAllRead(ctx context.Context, convoID, userID uuid.UUID) error

	// CountUnread counts messages from other senders created after
	// since and not soft deleted by the user.
	CountUnread(ctx context.Context, convoID, userID uuid.UUID, since time.Time) (int64, error)

	// LastMessages returns, per conversation id, the most recent message.
	LastMessages(ctx context.Context, convoIDs []uuid.UUID) (map[uuid.UUID]model.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		Preload("Receipts").
		First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, convoID, viewerID uuid.UUID, before *time.Time, limit int) ([]model.Message, error) {
	deleted := r.db.
		Model(&model.MessageReceipt{}).
		Select("message_id").
		Where("user_id = ? AND kind = ?", viewerID, model.ReceiptDeleted)

	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", convoID).
		Where("id NOT IN (?)", deleted)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var msgs []model.Message
	err := q.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Preload("Attachments").
		Preload("Receipts").
		Preload("Sender", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "name", "avatar_url")
		}).
		Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) AddReceipt(ctx context.Context, messageID, userID uuid.UUID, kind string) error {
	receipt := model.MessageReceipt{
		MessageID: messageID,
		UserID:    userID,
		Kind:      kind,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipt).Error
}

func (r *messageRepository) MarkAllRead(ctx context.Context, convoID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO message_receipts (message_id, user_id, kind, created_at)
		SELECT id, ?, ?, NOW() FROM messages WHERE conversation_id = ?
		ON CONFLICT DO NOTHING`,
		userID, model.ReceiptRead, convoID,
	).Error
}

func (r *messageRepository) CountUnread(ctx context.Context, convoID, userID uuid.UUID, since time.Time) (int64, error) {
	deleted := r.db.
		Model(&model.MessageReceipt{}).
		Select("message_id").
		Where("user_id = ? AND kind = ?", userID, model.ReceiptDeleted)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND created_at > ?", convoID, since).
		Where("sender_id <> ?", userID).
		Where("id NOT IN (?)", deleted).
		Count(&count).Error
	return count, err
}

func (r *messageRepository) LastMessages(ctx context.Context, convoIDs []uuid.UUID) (map[uuid.UUID]model.Message, error) {
	result := make(map[uuid.UUID]model.Message, len(convoIDs))
	if len(convoIDs) == 0 {
		return result, nil
	}

	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Raw(`
			SELECT DISTINCT ON (conversation_id) *
			FROM messages
			WHERE conversation_id IN ?
			ORDER BY conversation_id, created_at DESC, id DESC`,
			convoIDs,
		).
		Scan(&msgs).Error
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		result[m.ConversationID] = m
	}
	return result, nil
}
