package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NotifLike        = "like"
	NotifComment     = "comment"
	NotifChatInvite  = "chat:invite"
	NotifChatMessage = "chat:message"
	NotifChatAccept  = "chat:accept"
	NotifChatDecline = "chat:decline"
	NotifChatAdded   = "chat:added"
	NotifChatRemoved = "chat:removed"
)

// NotificationMeta is the small free-form payload clients use to
// render a notification without extra round trips.
type NotificationMeta struct {
	Preview string `json:"preview,omitempty"`
	Title   string `json:"title,omitempty"`
	Kind    string `json:"kind,omitempty"` // "dm" or "group" for chat types
}

func (m NotificationMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *NotificationMeta) Scan(value interface{}) error {
	if value == nil {
		*m = NotificationMeta{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported meta column type %T", value)
	}
	return json.Unmarshal(raw, m)
}

type Notification struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RecipientID uuid.UUID `gorm:"type:uuid;not null;index:idx_notifications_inbox,priority:1" json:"recipient_id"`
	ActorID     uuid.UUID `gorm:"type:uuid;not null" json:"actor_id"`
	Type        string    `gorm:"size:30;not null;index" json:"type"`

	// Post graph (like / comment types).
	PostID    *uuid.UUID `gorm:"type:uuid" json:"post_id,omitempty"`
	CommentID *uuid.UUID `gorm:"type:uuid" json:"comment_id,omitempty"`

	// Chat graph.
	ConversationID *uuid.UUID `gorm:"type:uuid" json:"conversation_id,omitempty"`
	MessageID      *uuid.UUID `gorm:"type:uuid" json:"message_id,omitempty"`

	Meta NotificationMeta `gorm:"type:jsonb" json:"meta"`
	Read bool             `gorm:"not null;default:false;index:idx_notifications_inbox,priority:2" json:"read"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_notifications_inbox,priority:3,sort:desc" json:"created_at"`

	Actor *User `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
