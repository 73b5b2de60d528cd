package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/repository"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

const (
	messagePageDefault = 30
	messagePageMax     = 100

	previewMaxLen = 200
)

// SendMessageInput is one outbound message, identical whether it
// arrives over HTTP or a socket frame.
type SendMessageInput struct {
	Text        string
	ClientMsgID *string
	Attachments []model.MessageAttachment
}

// MessagePage is a window of conversation history, newest first.
// NextCursor is the oldest returned timestamp when more may exist.
type MessagePage struct {
	Messages   []model.Message `json:"messages"`
	NextCursor *time.Time      `json:"next_cursor"`
}

// ConversationSummary is one row of the caller's conversation list.
type ConversationSummary struct {
	Conversation model.Conversation `json:"conversation"`
	LastMessage  *model.Message     `json:"last_message,omitempty"`
	UnreadCount  int64              `json:"unread_count"`
	MyStatus     string             `json:"my_status"`
}

// ChatService drives the conversation lifecycle and the message store.
// All membership checks happen here so HTTP handlers and socket frames
// share one set of rules.
type ChatService interface {
	CreateDirect(ctx context.Context, meID, otherID uuid.UUID, initialText string) (*model.Conversation, error)
	CreateGroup(ctx context.Context, meID uuid.UUID, title string, inviteeIDs []uuid.UUID) (*model.Conversation, error)
	Invite(ctx context.Context, convoID, byID uuid.UUID, inviteeIDs []uuid.UUID) (*model.Conversation, error)
	AcceptInvite(ctx context.Context, convoID, userID uuid.UUID) (*model.Conversation, error)
	DeclineInvite(ctx context.Context, convoID, userID uuid.UUID) error

	SendMessage(ctx context.Context, convoID, senderID uuid.UUID, input SendMessageInput) (*model.Message, error)
	MarkRead(ctx context.Context, convoID, userID uuid.UUID) error
	ListMessages(ctx context.Context, convoID, viewerID uuid.UUID, before *time.Time, limit int) (*MessagePage, error)
	DeleteMessageForMe(ctx context.Context, messageID, userID uuid.UUID) error
	Typing(ctx context.Context, convoID, userID uuid.UUID, typing bool) error

	GetConversation(ctx context.Context, convoID, viewerID uuid.UUID) (*model.Conversation, error)
	ListMyConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error)
	MemberConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, convoID, userID uuid.UUID) (bool, error)
}

type chatService struct {
	convoRepo     repository.ConversationRepository
	messageRepo   repository.MessageRepository
	userRepo      repository.UserRepository
	notifications NotificationService
	broadcaster   Broadcaster
	limiter       *RateLimiter

	sanitizer *bluemonday.Policy

	// async runs side effects (notification fan-out) off the request
	// path. Tests swap in a synchronous version.
	async func(fn func())
	now   func() time.Time
}

func NewChatService(
	convoRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	notifications NotificationService,
	broadcaster Broadcaster,
	limiter *RateLimiter,
) ChatService {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &chatService{
		convoRepo:     convoRepo,
		messageRepo:   messageRepo,
		userRepo:      userRepo,
		notifications: notifications,
		broadcaster:   broadcaster,
		limiter:       limiter,
		sanitizer:     bluemonday.StrictPolicy(),
		async:         func(fn func()) { go fn() },
		now:           time.Now,
	}
}

func (s *chatService) CreateDirect(ctx context.Context, meID, otherID uuid.UUID, initialText string) (*model.Conversation, error) {
	if meID == otherID {
		return nil, apperror.Wrap(apperror.ErrInvalidOperation, "cannot start a conversation with yourself")
	}
	if _, err := s.userRepo.FindByID(ctx, otherID); err != nil {
		return nil, apperror.Wrap(apperror.ErrNotFound, "user not found")
	}

	pairKey := model.PairKeyFor(meID, otherID)
	if existing, err := s.convoRepo.FindByPairKey(ctx, pairKey); err == nil {
		return s.maybeSendInitial(ctx, existing, meID, initialText)
	}

	now := s.now()
	convo := &model.Conversation{
		IsGroup:       false,
		PairKey:       &pairKey,
		LastMessageAt: now,
		Participants: []model.Participant{
			{UserID: meID, Role: model.RoleOwner, Status: model.StatusMember, LastReadAt: now},
			{UserID: otherID, Role: model.RoleMember, Status: model.StatusMember, LastReadAt: now},
		},
	}
	if err := s.convoRepo.Create(ctx, convo); err != nil {
		// Lost a race on the pair key: the other party created it first.
		if existing, ferr := s.convoRepo.FindByPairKey(ctx, pairKey); ferr == nil {
			return s.maybeSendInitial(ctx, existing, meID, initialText)
		}
		return nil, fmt.Errorf("create direct conversation: %w", err)
	}
	return s.maybeSendInitial(ctx, convo, meID, initialText)
}

func (s *chatService) maybeSendInitial(ctx context.Context, convo *model.Conversation, senderID uuid.UUID, text string) (*model.Conversation, error) {
	if strings.TrimSpace(text) == "" {
		return convo, nil
	}
	msg, err := s.SendMessage(ctx, convo.ID, senderID, SendMessageInput{Text: text})
	if err != nil {
		return nil, err
	}
	// The opener lands as delivered for the other party; their client
	// has not seen it yet but the conversation now exists for them.
	for _, p := range convo.Participants {
		if p.UserID == senderID {
			continue
		}
		if err := s.messageRepo.AddReceipt(ctx, msg.ID, p.UserID, model.ReceiptDelivered); err != nil {
			log.Printf("seed delivered receipt for %s failed: %v", p.UserID, err)
		}
	}
	return s.convoRepo.FindByID(ctx, convo.ID)
}

func (s *chatService) CreateGroup(ctx context.Context, meID uuid.UUID, title string, inviteeIDs []uuid.UUID) (*model.Conversation, error) {
	title = strings.TrimSpace(s.sanitizer.Sanitize(title))
	if title == "" {
		return nil, apperror.Wrap(apperror.ErrBadRequest, "group title is required")
	}

	now := s.now()
	convo := &model.Conversation{
		IsGroup:       true,
		Title:         title,
		LastMessageAt: now,
		Participants: []model.Participant{
			{UserID: meID, Role: model.RoleOwner, Status: model.StatusMember, LastReadAt: now},
		},
	}

	var invited []uuid.UUID
	seen := map[uuid.UUID]bool{meID: true}
	for _, id := range inviteeIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		invited = append(invited, id)
	}
	if err := s.requireUsers(ctx, invited); err != nil {
		return nil, err
	}
	for _, id := range invited {
		inviter := meID
		at := now
		convo.Participants = append(convo.Participants, model.Participant{
			UserID:    id,
			Role:      model.RoleMember,
			Status:    model.StatusInvited,
			InvitedBy: &inviter,
			InvitedAt: &at,
			// Epoch read cursor: invitees have read nothing yet.
			LastReadAt: time.Unix(0, 0),
		})
	}

	if err := s.convoRepo.Create(ctx, convo); err != nil {
		return nil, fmt.Errorf("create group conversation: %w", err)
	}

	s.notifyInvited(convo, meID, invited)
	return convo, nil
}

func (s *chatService) Invite(ctx context.Context, convoID, byID uuid.UUID, inviteeIDs []uuid.UUID) (*model.Conversation, error) {
	convo, err := s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return nil, err
	}
	if !convo.IsGroup {
		return nil, apperror.Wrap(apperror.ErrInvalidOperation, "direct conversations cannot be invited to")
	}
	inviter := convo.Participant(byID)
	if inviter == nil || inviter.Status != model.StatusMember {
		return nil, apperror.Wrap(apperror.ErrForbidden, "only members can invite")
	}

	now := s.now()
	var addedIDs []uuid.UUID
	seen := map[uuid.UUID]bool{byID: true}
	for _, id := range inviteeIDs {
		if seen[id] || convo.Participant(id) != nil {
			continue
		}
		seen[id] = true
		addedIDs = append(addedIDs, id)
	}
	if err := s.requireUsers(ctx, addedIDs); err != nil {
		return nil, err
	}

	var added []model.Participant
	for _, id := range addedIDs {
		by := byID
		at := now
		added = append(added, model.Participant{
			ConversationID: convoID,
			UserID:         id,
			Role:           model.RoleMember,
			Status:         model.StatusInvited,
			InvitedBy:      &by,
			InvitedAt:      &at,
			LastReadAt:     time.Unix(0, 0),
		})
	}
	if len(added) > 0 {
		if err := s.convoRepo.AddParticipants(ctx, convoID, added); err != nil {
			return nil, fmt.Errorf("add participants: %w", err)
		}
	}

	convo, err = s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return nil, err
	}
	s.notifyInvited(convo, byID, addedIDs)
	return convo, nil
}

// requireUsers verifies every id resolves to an existing user.
func (s *chatService) requireUsers(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := s.userRepo.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(users) != len(ids) {
		return apperror.Wrap(apperror.ErrNotFound, "invited user not found")
	}
	return nil
}

// truncatePreview caps notification previews at previewMaxLen
// characters without splitting a rune.
func truncatePreview(text string) string {
	if utf8.RuneCountInString(text) <= previewMaxLen {
		return text
	}
	return string([]rune(text)[:previewMaxLen])
}

func (s *chatService) notifyInvited(convo *model.Conversation, byID uuid.UUID, inviteeIDs []uuid.UUID) {
	if len(inviteeIDs) == 0 {
		return
	}
	convoID := convo.ID
	title := convo.Title
	s.async(func() {
		for _, id := range inviteeIDs {
			err := s.notifications.Emit(context.Background(), EmitInput{
				RecipientID:    id,
				ActorID:        byID,
				Type:           model.NotifChatInvite,
				ConversationID: &convoID,
				Meta:           model.NotificationMeta{Title: title, Kind: "group"},
			})
			if err != nil {
				log.Printf("chat invite notification to %s failed: %v", id, err)
			}
		}
	})
}

func (s *chatService) AcceptInvite(ctx context.Context, convoID, userID uuid.UUID) (*model.Conversation, error) {
	convo, err := s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return nil, err
	}
	p := convo.Participant(userID)
	if p == nil {
		return nil, apperror.Wrap(apperror.ErrNotFound, "no invite for this conversation")
	}
	if p.Status == model.StatusMember {
		// Accepting twice is harmless.
		return convo, nil
	}

	now := s.now()
	if err := s.convoRepo.AcceptParticipant(ctx, convoID, userID, now); err != nil {
		return nil, err
	}

	recipients := convo.OwnerIDs(userID)
	if p.InvitedBy != nil {
		recipients = []uuid.UUID{*p.InvitedBy}
	}
	title := convo.Title
	s.async(func() {
		for _, id := range recipients {
			err := s.notifications.Emit(context.Background(), EmitInput{
				RecipientID:    id,
				ActorID:        userID,
				Type:           model.NotifChatAccept,
				ConversationID: &convoID,
				Meta:           model.NotificationMeta{Title: title, Kind: "group"},
			})
			if err != nil {
				log.Printf("chat accept notification to %s failed: %v", id, err)
			}
		}
	})

	return s.convoRepo.FindByID(ctx, convoID)
}

func (s *chatService) DeclineInvite(ctx context.Context, convoID, userID uuid.UUID) error {
	convo, err := s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return err
	}
	p := convo.Participant(userID)
	if p == nil || p.Status != model.StatusInvited {
		return apperror.Wrap(apperror.ErrNotFound, "no pending invite for this conversation")
	}
	if err := s.convoRepo.RemoveParticipant(ctx, convoID, userID); err != nil {
		return err
	}

	recipients := convo.OwnerIDs(userID)
	if p.InvitedBy != nil {
		recipients = []uuid.UUID{*p.InvitedBy}
	}
	title := convo.Title
	s.async(func() {
		for _, id := range recipients {
			err := s.notifications.Emit(context.Background(), EmitInput{
				RecipientID:    id,
				ActorID:        userID,
				Type:           model.NotifChatDecline,
				ConversationID: &convoID,
				Meta:           model.NotificationMeta{Title: title, Kind: "group"},
			})
			if err != nil {
				log.Printf("chat decline notification to %s failed: %v", id, err)
			}
		}
	})
	return nil
}

func (s *chatService) SendMessage(ctx context.Context, convoID, senderID uuid.UUID, input SendMessageInput) (*model.Message, error) {
	if s.limiter != nil {
		if err := s.limiter.Allow(senderID); err != nil {
			return nil, err
		}
	}

	convo, err := s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return nil, err
	}
	p := convo.Participant(senderID)
	if p == nil {
		return nil, apperror.Wrap(apperror.ErrForbidden, "not a participant of this conversation")
	}
	if p.Status == model.StatusInvited {
		return nil, apperror.Wrap(apperror.ErrForbidden, "accept the invite before sending messages")
	}

	text := strings.TrimSpace(s.sanitizer.Sanitize(input.Text))
	if text == "" && len(input.Attachments) == 0 {
		return nil, apperror.Wrap(apperror.ErrBadRequest, "message needs text or an attachment")
	}

	msg := &model.Message{
		ConversationID: convoID,
		SenderID:       senderID,
		Text:           text,
		ClientMsgID:    input.ClientMsgID,
		Attachments:    input.Attachments,
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	if err := s.convoRepo.TouchLastMessageAt(ctx, convoID, msg.CreatedAt); err != nil {
		log.Printf("touch last_message_at for %s failed: %v", convoID, err)
	}

	// The broadcast carries the sender id only; clients resolve display
	// fields on read. Pushing the profile here would hand every member
	// the sender's account row.
	wire := *msg
	wire.Sender = nil
	s.broadcaster.Broadcast(ConversationChannel(convoID), EventMessageNew, wire)

	sender, err := s.userRepo.FindByID(ctx, senderID)
	if err == nil {
		msg.Sender = sender
	}

	recipients := convo.MemberIDs(senderID)
	preview := truncatePreview(text)
	kind := "dm"
	if convo.IsGroup {
		kind = "group"
	}
	msgID := msg.ID
	title := convo.Title
	s.async(func() {
		for _, id := range recipients {
			err := s.notifications.Emit(context.Background(), EmitInput{
				RecipientID:    id,
				ActorID:        senderID,
				Type:           model.NotifChatMessage,
				ConversationID: &convoID,
				MessageID:      &msgID,
				Meta:           model.NotificationMeta{Preview: preview, Title: title, Kind: kind},
			})
			if err != nil {
				log.Printf("chat message notification to %s failed: %v", id, err)
			}
		}
	})

	return msg, nil
}

func (s *chatService) MarkRead(ctx context.Context, convoID, userID uuid.UUID) error {
	convo, err := s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return err
	}
	p := convo.Participant(userID)
	if p == nil {
		return apperror.Wrap(apperror.ErrNotFound, "not a participant of this conversation")
	}

	now := s.now()
	if err := s.convoRepo.SetLastReadAt(ctx, convoID, userID, now); err != nil {
		return err
	}
	if err := s.messageRepo.MarkAllRead(ctx, convoID, userID); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	s.broadcaster.Broadcast(ConversationChannel(convoID), EventMessageRead, map[string]interface{}{
		"conversation_id": convoID,
		"user_id":         userID,
		"at":              now,
	})
	return nil
}

func (s *chatService) ListMessages(ctx context.Context, convoID, viewerID uuid.UUID, before *time.Time, limit int) (*MessagePage, error) {
	convo, err := s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return nil, err
	}
	p := convo.Participant(viewerID)
	if p == nil || p.Status != model.StatusMember {
		return nil, apperror.Wrap(apperror.ErrForbidden, "not a member of this conversation")
	}

	if limit <= 0 {
		limit = messagePageDefault
	}
	if limit > messagePageMax {
		limit = messagePageMax
	}

	messages, err := s.messageRepo.ListByConversation(ctx, convoID, viewerID, before, limit)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{Messages: messages}
	if len(messages) == limit {
		oldest := messages[len(messages)-1].CreatedAt
		page.NextCursor = &oldest
	}
	return page, nil
}

func (s *chatService) DeleteMessageForMe(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	convo, err := s.convoRepo.FindByID(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if convo.Participant(userID) == nil {
		return apperror.Wrap(apperror.ErrForbidden, "not a participant of this conversation")
	}
	// Hidden for this user only; everyone else still sees the message.
	return s.messageRepo.AddReceipt(ctx, messageID, userID, model.ReceiptDeleted)
}

func (s *chatService) Typing(ctx context.Context, convoID, userID uuid.UUID, typing bool) error {
	member, err := s.IsMember(ctx, convoID, userID)
	if err != nil {
		return err
	}
	if !member {
		return apperror.Wrap(apperror.ErrForbidden, "not a member of this conversation")
	}
	// The typist's own sockets are skipped; nobody needs their own
	// typing indicator.
	s.broadcaster.BroadcastExcept(ConversationChannel(convoID), userID, EventTyping, map[string]interface{}{
		"conversation_id": convoID,
		"user_id":         userID,
		"typing":          typing,
	})
	return nil
}

func (s *chatService) GetConversation(ctx context.Context, convoID, viewerID uuid.UUID) (*model.Conversation, error) {
	convo, err := s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return nil, err
	}
	if convo.Participant(viewerID) == nil {
		return nil, apperror.Wrap(apperror.ErrForbidden, "not a participant of this conversation")
	}
	return convo, nil
}

func (s *chatService) ListMyConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	convos, err := s.convoRepo.FindByUser(ctx, userID, 200)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(convos))
	for _, c := range convos {
		ids = append(ids, c.ID)
	}
	lastByConvo, err := s.messageRepo.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(convos))
	for _, c := range convos {
		p := c.Participant(userID)
		if p == nil {
			continue
		}
		last, hasLast := lastByConvo[c.ID]

		// Empty DMs are lookup artifacts, not conversations worth listing.
		if !c.IsGroup && !hasLast {
			continue
		}

		summary := ConversationSummary{
			Conversation: c,
			MyStatus:     p.Status,
		}
		if hasLast {
			lastCopy := last
			summary.LastMessage = &lastCopy
		}
		if p.Status == model.StatusMember {
			unread, err := s.messageRepo.CountUnread(ctx, c.ID, userID, p.LastReadAt)
			if err != nil {
				return nil, err
			}
			summary.UnreadCount = unread
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *chatService) MemberConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.convoRepo.MemberConversationIDs(ctx, userID)
}

func (s *chatService) IsMember(ctx context.Context, convoID, userID uuid.UUID) (bool, error) {
	convo, err := s.convoRepo.FindByID(ctx, convoID)
	if err != nil {
		return false, err
	}
	p := convo.Participant(userID)
	return p != nil && p.Status == model.StatusMember, nil
}
