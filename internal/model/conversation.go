package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"

	StatusInvited = "invited"
	StatusMember  = "member"
)

type Conversation struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	IsGroup bool      `gorm:"not null;default:false" json:"is_group"`
	Title   string    `gorm:"size:255;default:''" json:"title"`

	// PairKey is the sorted "id1:id2" of a direct conversation's two
	// participants. Unique, set only for non-group conversations, so the
	// database enforces at most one DM per unordered pair.
	PairKey *string `gorm:"size:80;uniqueIndex" json:"-"`

	Participants  []Participant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"participants"`
	LastMessageAt time.Time     `gorm:"index:,sort:desc;not null" json:"last_message_at"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Participant returns the roster entry for userID, or nil.
func (c *Conversation) Participant(userID uuid.UUID) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// MemberIDs returns the ids of all participants with member status,
// excluding exclude. Invited participants never appear here.
func (c *Conversation) MemberIDs(exclude uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range c.Participants {
		if p.UserID != exclude && p.Status == StatusMember {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// OwnerIDs returns the ids of all owner-role participants, excluding exclude.
func (c *Conversation) OwnerIDs(exclude uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range c.Participants {
		if p.UserID != exclude && p.Role == RoleOwner {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// PairKeyFor builds the deterministic lookup key for a direct
// conversation between a and b, independent of argument order.
func PairKeyFor(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return fmt.Sprintf("%s:%s", ids[0], ids[1])
}

// Participant is a user's membership record within one conversation.
// It has no identity of its own; the roster is owned by the
// conversation and mutated only through the lifecycle operations.
type Participant struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Role           string    `gorm:"size:20;not null;default:'member'" json:"role"`
	Status         string    `gorm:"size:20;not null;default:'member';index" json:"status"`

	// Invite lifecycle, set only when the participant entered as invited.
	InvitedBy *uuid.UUID `gorm:"type:uuid" json:"invited_by,omitempty"`
	InvitedAt *time.Time `json:"invited_at,omitempty"`

	AcceptedAt *time.Time `json:"accepted_at,omitempty"`

	// Read cursor. Epoch for freshly invited participants, "now" for
	// auto-accepted ones (DM parties, group creators).
	LastReadAt time.Time `gorm:"not null" json:"last_read_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
