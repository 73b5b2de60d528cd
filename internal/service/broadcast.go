package service

import (
	"github.com/google/uuid"
)

// Real-time event names pushed to clients.
const (
	EventMessageNew        = "message:new"
	EventMessageRead       = "message:read"
	EventTyping            = "typing"
	EventNotificationNew   = "notification:new"
	EventNotificationCount = "notification:count"
	EventNotificationGone  = "notification:remove"
	EventPresenceUpdate    = "presence:update"
	EventPresenceState     = "presence:state"
)

// Broadcaster delivers an event to every connection joined to a named
// channel. Implementations are process-local (single instance) or
// pub/sub backed (multiple instances); services never care which.
// Delivery is best effort: offline recipients are covered by the
// durable notification rows.
type Broadcaster interface {
	Broadcast(channel, event string, payload interface{})

	// BroadcastExcept delivers to the channel but skips every
	// connection belonging to exclude. Typing indicators use this so a
	// user never sees their own.
	BroadcastExcept(channel string, exclude uuid.UUID, event string, payload interface{})
}

// UserChannel is the personal channel every authenticated connection
// joins; notification pushes land here.
func UserChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// ConversationChannel carries message, read and typing events for one
// conversation. Only member-status participants may join it.
func ConversationChannel(convoID uuid.UUID) string {
	return "conversation:" + convoID.String()
}

// NopBroadcaster drops everything. Used when a mutation path runs
// without a live hub (CLI tooling, some tests).
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string, string, interface{}) {}

func (NopBroadcaster) BroadcastExcept(string, uuid.UUID, string, interface{}) {}
