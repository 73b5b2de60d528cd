package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

// Inbound events clients may send. Anything else is answered with an
// error frame and otherwise ignored.
const (
	eventChatJoin   = "chat:join"
	eventChatLeave  = "chat:leave"
	eventChatTyping = "chat:typing"
	eventChatSend   = "chat:send"
	eventChatRead   = "chat:read"
)

var errNotMember = apperror.Wrap(apperror.ErrForbidden, "not a member of this conversation")

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type conversationRef struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type typingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Typing         bool      `json:"typing"`
}

type sendPayload struct {
	ConversationID uuid.UUID                 `json:"conversation_id"`
	Text           string                    `json:"text"`
	ClientMsgID    *string                   `json:"client_msg_id,omitempty"`
	Attachments    []model.MessageAttachment `json:"attachments,omitempty"`
}

// sendAck is the reply to chat:send. On success it carries the stored
// message id (and the echoed client id) so optimistic UI can reconcile.
type sendAck struct {
	OK          bool       `json:"ok"`
	MessageID   *uuid.UUID `json:"message_id,omitempty"`
	ClientMsgID *string    `json:"client_msg_id,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Router maps inbound socket frames onto the same chat service the
// HTTP handlers call, so both paths enforce identical rules.
type Router struct {
	chat service.ChatService
}

func NewRouter(chat service.ChatService) *Router {
	return &Router{chat: chat}
}

func (r *Router) Dispatch(c *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendEvent("error", map[string]string{"error": "malformed frame"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch frame.Event {
	case eventChatJoin:
		err = r.handleJoin(ctx, c, frame.Data)
	case eventChatLeave:
		err = r.handleLeave(c, frame.Data)
	case eventChatTyping:
		err = r.handleTyping(ctx, c, frame.Data)
	case eventChatSend:
		r.handleSend(ctx, c, frame.Data)
		return
	case eventChatRead:
		err = r.handleRead(ctx, c, frame.Data)
	default:
		err = fmt.Errorf("unknown event %q", frame.Event)
	}

	if err != nil {
		c.sendEvent("error", map[string]string{
			"event": frame.Event,
			"error": err.Error(),
		})
	}
}

func (r *Router) handleJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	var p conversationRef
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.New("malformed chat:join payload")
	}
	return c.hub.JoinConversation(ctx, c.userID, p.ConversationID)
}

func (r *Router) handleLeave(c *Client, data json.RawMessage) error {
	var p conversationRef
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.New("malformed chat:leave payload")
	}
	c.hub.LeaveConversation(c.userID, p.ConversationID)
	return nil
}

func (r *Router) handleTyping(ctx context.Context, c *Client, data json.RawMessage) error {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.New("malformed chat:typing payload")
	}
	return r.chat.Typing(ctx, p.ConversationID, c.userID, p.Typing)
}

// handleSend always answers with an ack frame, success or not: the
// sender needs a definitive outcome per attempt, especially when the
// rate limiter rejects one in the middle of a burst.
func (r *Router) handleSend(ctx context.Context, c *Client, data json.RawMessage) {
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendEvent("chat:send:ack", sendAck{OK: false, Error: "malformed chat:send payload"})
		return
	}

	msg, err := r.chat.SendMessage(ctx, p.ConversationID, c.userID, service.SendMessageInput{
		Text:        p.Text,
		ClientMsgID: p.ClientMsgID,
		Attachments: p.Attachments,
	})
	if err != nil {
		log.Printf("ws: chat:send from %s failed: %v", c.userID, err)
		c.sendEvent("chat:send:ack", sendAck{OK: false, ClientMsgID: p.ClientMsgID, Error: err.Error()})
		return
	}
	c.sendEvent("chat:send:ack", sendAck{OK: true, MessageID: &msg.ID, ClientMsgID: msg.ClientMsgID})
}

func (r *Router) handleRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p conversationRef
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.New("malformed chat:read payload")
	}
	return r.chat.MarkRead(ctx, p.ConversationID, c.userID)
}
