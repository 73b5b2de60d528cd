package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
	AttachmentAudio = "audio"
	AttachmentVideo = "video"
	AttachmentOther = "other"
)

// Receipt kinds. A message is immutable after creation except for
// these three per-user sets, each stored as receipt rows so set-adds
// stay narrow atomic writes under concurrent senders and readers.
const (
	ReceiptDelivered = "delivered"
	ReceiptRead      = "read"
	ReceiptDeleted   = "deleted"
)

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_convo_created,priority:1" json:"conversation_id"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null;index" json:"sender_id"`
	Text           string    `gorm:"type:text;default:''" json:"text"`

	// ClientMsgID is a client-supplied idempotency token, echoed back so
	// the sender can reconcile optimistic UI state.
	ClientMsgID *string `gorm:"size:100" json:"client_msg_id,omitempty"`

	Attachments []MessageAttachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"attachments"`
	Receipts    []MessageReceipt    `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_messages_convo_created,priority:2,sort:desc" json:"created_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == uuid.Nil {
		// v7 is time ordered, so insertion order breaks created_at ties.
		m.ID, err = uuid.NewV7()
	}
	return
}

// UserIDsByKind collects the user ids of receipts of the given kind.
func (m *Message) UserIDsByKind(kind string) []uuid.UUID {
	var ids []uuid.UUID
	for _, r := range m.Receipts {
		if r.Kind == kind {
			ids = append(ids, r.UserID)
		}
	}
	return ids
}

type MessageAttachment struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	URL       string    `gorm:"type:text;not null" json:"url"`
	Kind      string    `gorm:"size:20;not null;default:'other'" json:"kind"`
	Name      string    `gorm:"size:255" json:"name"`
	Size      int64     `json:"size"`
}

// MessageReceipt records one user's membership in one of a message's
// mutable sets (deliveredTo / readBy / deletedFor).
type MessageReceipt struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind      string    `gorm:"size:20;primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
