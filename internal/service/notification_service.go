package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/repository"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

const (
	notificationPageDefault = 50
	notificationPageMax     = 100
)

// EmitInput describes one notification to persist and push.
type EmitInput struct {
	RecipientID uuid.UUID
	ActorID     uuid.UUID
	Type        string

	PostID         *uuid.UUID
	CommentID      *uuid.UUID
	ConversationID *uuid.UUID
	MessageID      *uuid.UUID

	Meta model.NotificationMeta
}

// ListInput narrows a notification inbox read. Cursor accepts either
// an RFC 3339 timestamp or a notification id, which is translated to
// that row's timestamp.
type ListInput struct {
	Cursor     string
	Types      []string
	UnreadOnly bool
	Limit      int
}

// Inbox is one page of a recipient's notifications, with the unread
// count computed fresh per call.
type Inbox struct {
	Notifications []model.Notification `json:"notifications"`
	NextCursor    *time.Time           `json:"next_cursor"`
	UnreadCount   int64                `json:"unread_count"`
}

// NotificationService owns notification rows exclusively; nothing else
// writes them. It keeps the recipient's unread badge consistent by
// pushing the authoritative count after every change, never an
// increment.
type NotificationService interface {
	Emit(ctx context.Context, input EmitInput) error
	RemoveLike(ctx context.Context, recipientID, actorID, postID uuid.UUID) error

	List(ctx context.Context, recipientID uuid.UUID, input ListInput) (*Inbox, error)
	UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, types []string) (int64, error)
}

type notificationService struct {
	repo        repository.NotificationRepository
	broadcaster Broadcaster
}

func NewNotificationService(repo repository.NotificationRepository, broadcaster Broadcaster) NotificationService {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &notificationService{
		repo:        repo,
		broadcaster: broadcaster,
	}
}

func (s *notificationService) Emit(ctx context.Context, input EmitInput) error {
	// Self notifications are suppressed entirely: no row, no push.
	if input.RecipientID == input.ActorID {
		return nil
	}

	n := &model.Notification{
		RecipientID:    input.RecipientID,
		ActorID:        input.ActorID,
		Type:           input.Type,
		PostID:         input.PostID,
		CommentID:      input.CommentID,
		ConversationID: input.ConversationID,
		MessageID:      input.MessageID,
		Meta:           input.Meta,
	}

	if input.Type == model.NotifLike {
		created, err := s.repo.UpsertLike(ctx, n)
		if err != nil {
			return fmt.Errorf("upsert like notification: %w", err)
		}
		if !created {
			// Second like for the same (recipient, actor, post): no-op.
			return nil
		}
	} else {
		if err := s.repo.Create(ctx, n); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
	}

	s.pushNew(ctx, n.ID, input.RecipientID)
	s.pushCount(ctx, input.RecipientID)
	return nil
}

func (s *notificationService) RemoveLike(ctx context.Context, recipientID, actorID, postID uuid.UUID) error {
	deleted, err := s.repo.DeleteLike(ctx, recipientID, actorID, postID)
	if err != nil {
		return fmt.Errorf("delete like notification: %w", err)
	}
	if !deleted {
		return nil
	}

	// Enough identifying fields for the client to retract the rendered
	// notification, not merely mark it read.
	s.broadcaster.Broadcast(UserChannel(recipientID), EventNotificationGone, map[string]interface{}{
		"type":     model.NotifLike,
		"actor_id": actorID,
		"post_id":  postID,
	})
	s.pushCount(ctx, recipientID)
	return nil
}

func (s *notificationService) List(ctx context.Context, recipientID uuid.UUID, input ListInput) (*Inbox, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = notificationPageDefault
	}
	if limit > notificationPageMax {
		limit = notificationPageMax
	}

	query := repository.NotificationQuery{
		Types:      input.Types,
		UnreadOnly: input.UnreadOnly,
		Limit:      limit,
	}
	if input.Cursor != "" {
		cutoff, err := s.resolveCursor(ctx, recipientID, input.Cursor)
		if err != nil {
			return nil, err
		}
		query.Before = cutoff
	}

	notifications, err := s.repo.List(ctx, recipientID, query)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	inbox := &Inbox{
		Notifications: notifications,
		UnreadCount:   unread,
	}
	if len(notifications) == limit {
		last := notifications[len(notifications)-1].CreatedAt
		inbox.NextCursor = &last
	}
	return inbox, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return s.repo.CountUnread(ctx, recipientID)
}

// MarkRead does not push real-time events: the client just performed
// the action and already knows.
func (s *notificationService) MarkRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) (int64, error) {
	return s.repo.MarkRead(ctx, recipientID, ids)
}

func (s *notificationService) MarkAllRead(ctx context.Context, recipientID uuid.UUID, types []string) (int64, error) {
	return s.repo.MarkAllRead(ctx, recipientID, types)
}

// resolveCursor translates a cursor into a created-at cutoff. A
// non-timestamp, non-id, or foreign-owned cursor yields a bad request.
func (s *notificationService) resolveCursor(ctx context.Context, recipientID uuid.UUID, cursor string) (*time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, cursor); err == nil {
		return &ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, cursor); err == nil {
		return &ts, nil
	}
	if id, err := uuid.Parse(cursor); err == nil {
		n, err := s.repo.FindByID(ctx, id, recipientID)
		if err != nil {
			return nil, apperror.Wrap(apperror.ErrBadRequest, "unknown cursor")
		}
		return &n.CreatedAt, nil
	}
	return nil, apperror.Wrap(apperror.ErrBadRequest, "invalid cursor")
}

// notificationEvent is the notification:new payload. The actor is
// narrowed to display fields; the full account row never goes over
// the wire.
type notificationEvent struct {
	model.Notification
	Actor *model.UserRef `json:"actor,omitempty"`
}

// pushNew reads the stored row back with the actor's display fields
// attached and delivers it to the recipient's personal channel.
func (s *notificationService) pushNew(ctx context.Context, id, recipientID uuid.UUID) {
	n, err := s.repo.FindByID(ctx, id, recipientID)
	if err != nil {
		log.Printf("notification push read-back failed: %v", err)
		return
	}

	event := notificationEvent{Notification: *n}
	if n.Actor != nil {
		ref := n.Actor.Ref()
		event.Actor = &ref
	}
	event.Notification.Actor = nil
	s.broadcaster.Broadcast(UserChannel(recipientID), EventNotificationNew, event)
}

// pushCount recomputes and pushes the authoritative unread count; the
// badge is never incremented optimistically.
func (s *notificationService) pushCount(ctx context.Context, recipientID uuid.UUID) {
	count, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		log.Printf("notification count recompute failed: %v", err)
		return
	}
	s.broadcaster.Broadcast(UserChannel(recipientID), EventNotificationCount, map[string]int64{
		"unread": count,
	})
}
