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

// NotificationQuery narrows a notification inbox listing.
type NotificationQuery struct {
	Before     *time.Time
	Types      []string
	UnreadOnly bool
	Limit      int
}

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error

	// UpsertLike inserts a like notification unless one already exists
	// for the (recipient, actor, post) tuple. Reports whether a row was
	// actually created.
	UpsertLike(ctx context.Context, n *model.Notification) (bool, error)

	// DeleteLike removes the like row for the tuple. Reports whether a
	// row existed.
	DeleteLike(ctx context.Context, recipientID, actorID, postID uuid.UUID) (bool, error)

	FindByID(ctx context.Context, id, recipientID uuid.UUID) (*model.Notification, error)
	List(ctx context.Context, recipientID uuid.UUID, q NotificationQuery) ([]model.Notification, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, types []string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// MigrateLikeIndex creates the partial unique index backing the
// one-active-like-notification invariant. AutoMigrate cannot express
// partial indexes, so it is issued explicitly at bootstrap.
func MigrateLikeIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_like_once
		ON notifications (recipient_id, actor_id, post_id)
		WHERE type = 'like'`,
	).Error
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) UpsertLike(ctx context.Context, n *model.Notification) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "recipient_id"},
				{Name: "actor_id"},
				{Name: "post_id"},
			},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Name: "type"}, Value: model.NotifLike},
			}},
			DoNothing: true,
		}).
		Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *notificationRepository) DeleteLike(ctx context.Context, recipientID, actorID, postID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("recipient_id = ? AND actor_id = ? AND post_id = ? AND type = ?",
			recipientID, actorID, postID, model.NotifLike).
		Delete(&model.Notification{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *notificationRepository) FindByID(ctx context.Context, id, recipientID uuid.UUID) (*model.Notification, error) {
	var n model.Notification
	err := r.db.WithContext(ctx).
		Preload("Actor", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "name", "avatar_url")
		}).
		First(&n, "id = ? AND recipient_id = ?", id, recipientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) List(ctx context.Context, recipientID uuid.UUID, q NotificationQuery) ([]model.Notification, error) {
	query := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if q.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	if len(q.Types) > 0 {
		query = query.Where("type IN ?", q.Types)
	}
	if q.Before != nil {
		query = query.Where("created_at < ?", *q.Before)
	}

	var notifications []model.Notification
	err := query.
		Order("created_at DESC").
		Limit(q.Limit).
		Preload("Actor", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "name", "avatar_url")
		}).
		Find(&notifications).Error
	return notifications, err
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ? AND id IN ?", recipientID, ids).
		Update("read", true)
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID uuid.UUID, types []string) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false)
	if len(types) > 0 {
		query = query.Where("type IN ?", types)
	}
	res := query.Update("read", true)
	return res.RowsAffected, res.Error
}
