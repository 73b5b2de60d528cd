package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/repository/memory"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordBroadcaster captures everything pushed through it.
type recordBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Channel string
	Event   string
	Payload interface{}
	Except  *uuid.UUID
}

func (b *recordBroadcaster) Broadcast(channel, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Channel: channel, Event: event, Payload: payload})
}

func (b *recordBroadcaster) BroadcastExcept(channel string, exclude uuid.UUID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Channel: channel, Event: event, Payload: payload, Except: &exclude})
}

func (b *recordBroadcaster) byEvent(event string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type chatFixture struct {
	chat       ChatService
	notifs     NotificationService
	users      *memory.UserStore
	broadcasts *recordBroadcaster
}

// newChatFixture wires the chat stack on in-memory stores with
// synchronous side effects so assertions see them immediately.
func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()

	users := memory.NewUserStore()
	convos := memory.NewConversationStore()
	messages := memory.NewMessageStore()
	notifRows := memory.NewNotificationStore(users)

	broadcasts := &recordBroadcaster{}
	notifs := NewNotificationService(notifRows, broadcasts)

	chat := NewChatService(convos, messages, users, notifs, broadcasts, nil)
	chat.(*chatService).async = func(fn func()) { fn() }

	return &chatFixture{
		chat:       chat,
		notifs:     notifs,
		users:      users,
		broadcasts: broadcasts,
	}
}

func (f *chatFixture) newUser(t *testing.T, username string) uuid.UUID {
	t.Helper()
	u := &model.User{Username: username, Name: username, Email: username + "@example.com"}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

func TestCreateDirectIsIdempotentPerPair(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	first, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	// Same pair, other direction, still the same conversation.
	second, err := f.chat.CreateDirect(ctx, bob, alice, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Participants, 2)
}

func TestCreateDirectWithSelfRejected(t *testing.T) {
	f := newChatFixture(t)
	alice := f.newUser(t, "alice")

	_, err := f.chat.CreateDirect(context.Background(), alice, alice, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)
}

func TestCreateDirectUnknownUserRejected(t *testing.T) {
	f := newChatFixture(t)
	alice := f.newUser(t, "alice")

	_, err := f.chat.CreateDirect(context.Background(), alice, uuid.New(), "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCreateDirectWithOpeningMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	convo, err := f.chat.CreateDirect(ctx, alice, bob, "hey there")
	require.NoError(t, err)

	page, err := f.chat.ListMessages(ctx, convo.ID, alice, nil, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hey there", page.Messages[0].Text)
	assert.Contains(t, page.Messages[0].UserIDsByKind(model.ReceiptDelivered), bob)

	// Bob is told about the new message in real time and durably.
	assert.NotEmpty(t, f.broadcasts.byEvent(EventMessageNew))
	inbox, err := f.notifs.List(ctx, bob, ListInput{})
	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, model.NotifChatMessage, inbox.Notifications[0].Type)
}

func TestCreateGroupInviteesStartPending(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	carol := f.newUser(t, "carol")

	// Duplicates and the creator are filtered out of the invite list.
	convo, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob, carol, bob, alice})
	require.NoError(t, err)
	require.Len(t, convo.Participants, 3)

	creator := convo.Participant(alice)
	require.NotNil(t, creator)
	assert.Equal(t, model.RoleOwner, creator.Role)
	assert.Equal(t, model.StatusMember, creator.Status)

	for _, id := range []uuid.UUID{bob, carol} {
		p := convo.Participant(id)
		require.NotNil(t, p)
		assert.Equal(t, model.StatusInvited, p.Status)
		require.NotNil(t, p.InvitedBy)
		assert.Equal(t, alice, *p.InvitedBy)
		assert.True(t, p.LastReadAt.Equal(time.Unix(0, 0)))

		inbox, err := f.notifs.List(ctx, id, ListInput{})
		require.NoError(t, err)
		require.Len(t, inbox.Notifications, 1)
		assert.Equal(t, model.NotifChatInvite, inbox.Notifications[0].Type)
	}
}

func TestInviteToDirectConversationRejected(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	carol := f.newUser(t, "carol")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	_, err = f.chat.Invite(ctx, dm.ID, alice, []uuid.UUID{carol})
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)
}

func TestInviteRequiresMemberStatus(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	carol := f.newUser(t, "carol")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob})
	require.NoError(t, err)

	// Bob is still invited; he cannot invite others yet.
	_, err = f.chat.Invite(ctx, group.ID, bob, []uuid.UUID{carol})
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	// An outsider cannot either.
	_, err = f.chat.Invite(ctx, group.ID, carol, []uuid.UUID{carol})
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestInviteSkipsExistingParticipants(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob})
	require.NoError(t, err)

	convo, err := f.chat.Invite(ctx, group.ID, alice, []uuid.UUID{bob})
	require.NoError(t, err)
	assert.Len(t, convo.Participants, 2)
}

func TestAcceptInviteNotifiesInviter(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob})
	require.NoError(t, err)

	convo, err := f.chat.AcceptInvite(ctx, group.ID, bob)
	require.NoError(t, err)
	p := convo.Participant(bob)
	require.NotNil(t, p)
	assert.Equal(t, model.StatusMember, p.Status)
	require.NotNil(t, p.AcceptedAt)

	inbox, err := f.notifs.List(ctx, alice, ListInput{Types: []string{model.NotifChatAccept}})
	require.NoError(t, err)
	assert.Len(t, inbox.Notifications, 1)

	// Accepting again is a no-op, not an error, and no second notification.
	_, err = f.chat.AcceptInvite(ctx, group.ID, bob)
	require.NoError(t, err)
	inbox, err = f.notifs.List(ctx, alice, ListInput{Types: []string{model.NotifChatAccept}})
	require.NoError(t, err)
	assert.Len(t, inbox.Notifications, 1)
}

func TestAcceptInviteWithoutEntry(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", nil)
	require.NoError(t, err)

	_, err = f.chat.AcceptInvite(ctx, group.ID, bob)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDeclineInviteRemovesEntry(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob})
	require.NoError(t, err)

	require.NoError(t, f.chat.DeclineInvite(ctx, group.ID, bob))

	convo, err := f.chat.GetConversation(ctx, group.ID, alice)
	require.NoError(t, err)
	assert.Nil(t, convo.Participant(bob))

	inbox, err := f.notifs.List(ctx, alice, ListInput{Types: []string{model.NotifChatDecline}})
	require.NoError(t, err)
	assert.Len(t, inbox.Notifications, 1)

	// Declining twice: the entry is gone.
	err = f.chat.DeclineInvite(ctx, group.ID, bob)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSendMessageMembershipRules(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	mallory := f.newUser(t, "mallory")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob})
	require.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, group.ID, mallory, SendMessageInput{Text: "hi"})
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	// Invited but not yet accepted: also forbidden, with a hint.
	_, err = f.chat.SendMessage(ctx, group.ID, bob, SendMessageInput{Text: "hi"})
	require.ErrorIs(t, err, apperror.ErrForbidden)
	assert.Contains(t, err.Error(), "accept the invite")

	_, err = f.chat.AcceptInvite(ctx, group.ID, bob)
	require.NoError(t, err)
	_, err = f.chat.SendMessage(ctx, group.ID, bob, SendMessageInput{Text: "hi"})
	assert.NoError(t, err)
}

func TestSendMessageRequiresContent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{Text: "   "})
	assert.ErrorIs(t, err, apperror.ErrBadRequest)

	// Attachment-only messages are fine.
	_, err = f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{
		Attachments: []model.MessageAttachment{{URL: "https://cdn.example.com/a.png", Kind: model.AttachmentImage}},
	})
	assert.NoError(t, err)
}

func TestSendMessageStripsMarkup(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	msg, err := f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{Text: "<script>alert(1)</script>hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
}

func TestSendMessageSkipsInvitedRecipients(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	carol := f.newUser(t, "carol")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob, carol})
	require.NoError(t, err)
	_, err = f.chat.AcceptInvite(ctx, group.ID, bob)
	require.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, group.ID, alice, SendMessageInput{Text: "standup in 5"})
	require.NoError(t, err)

	// Bob, a member, gets the message notification.
	inbox, err := f.notifs.List(ctx, bob, ListInput{Types: []string{model.NotifChatMessage}})
	require.NoError(t, err)
	assert.Len(t, inbox.Notifications, 1)

	// Carol has not accepted; no message notification for her.
	inbox, err = f.notifs.List(ctx, carol, ListInput{Types: []string{model.NotifChatMessage}})
	require.NoError(t, err)
	assert.Empty(t, inbox.Notifications)

	// The sender never notifies themselves.
	inbox, err = f.notifs.List(ctx, alice, ListInput{Types: []string{model.NotifChatMessage}})
	require.NoError(t, err)
	assert.Empty(t, inbox.Notifications)
}

func TestGroupUnreadCounts(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	carol := f.newUser(t, "carol")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob, carol})
	require.NoError(t, err)
	_, err = f.chat.AcceptInvite(ctx, group.ID, bob)
	require.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, group.ID, alice, SendMessageInput{Text: "one"})
	require.NoError(t, err)
	_, err = f.chat.SendMessage(ctx, group.ID, alice, SendMessageInput{Text: "two"})
	require.NoError(t, err)

	summaryFor := func(userID uuid.UUID) ConversationSummary {
		summaries, err := f.chat.ListMyConversations(ctx, userID)
		require.NoError(t, err)
		for _, s := range summaries {
			if s.Conversation.ID == group.ID {
				return s
			}
		}
		t.Fatalf("conversation %s not listed for %s", group.ID, userID)
		return ConversationSummary{}
	}

	assert.Equal(t, int64(2), summaryFor(bob).UnreadCount)

	// Invited users see the conversation but never an unread count.
	carolSummary := summaryFor(carol)
	assert.Equal(t, model.StatusInvited, carolSummary.MyStatus)
	assert.Zero(t, carolSummary.UnreadCount)

	// A sender's own messages are not unread to them.
	assert.Zero(t, summaryFor(alice).UnreadCount)

	require.NoError(t, f.chat.MarkRead(ctx, group.ID, bob))
	assert.Zero(t, summaryFor(bob).UnreadCount)

	reads := f.broadcasts.byEvent(EventMessageRead)
	require.NotEmpty(t, reads)
	assert.Equal(t, ConversationChannel(group.ID), reads[len(reads)-1].Channel)

	// Marking read again stays at zero.
	require.NoError(t, f.chat.MarkRead(ctx, group.ID, bob))
	assert.Zero(t, summaryFor(bob).UnreadCount)
}

func TestListMessagesPagination(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	texts := []string{"one", "two", "three", "four", "five"}
	for _, text := range texts {
		_, err := f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{Text: text})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := f.chat.ListMessages(ctx, dm.ID, bob, nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "five", page.Messages[0].Text)
	assert.Equal(t, "four", page.Messages[1].Text)
	require.NotNil(t, page.NextCursor)

	page, err = f.chat.ListMessages(ctx, dm.ID, bob, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "three", page.Messages[0].Text)
	assert.Equal(t, "two", page.Messages[1].Text)
	require.NotNil(t, page.NextCursor)

	page, err = f.chat.ListMessages(ctx, dm.ID, bob, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "one", page.Messages[0].Text)
	assert.Nil(t, page.NextCursor)
}

func TestListMessagesRequiresMembership(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob})
	require.NoError(t, err)

	_, err = f.chat.ListMessages(ctx, group.ID, bob, nil, 0)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestDeleteMessageHidesForDeleterOnly(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)
	msg, err := f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{Text: "oops"})
	require.NoError(t, err)

	require.NoError(t, f.chat.DeleteMessageForMe(ctx, msg.ID, alice))

	page, err := f.chat.ListMessages(ctx, dm.ID, alice, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)

	page, err = f.chat.ListMessages(ctx, dm.ID, bob, nil, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
}

func TestDeleteMessageRequiresParticipation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	mallory := f.newUser(t, "mallory")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)
	msg, err := f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{Text: "secret"})
	require.NoError(t, err)

	err = f.chat.DeleteMessageForMe(ctx, msg.ID, mallory)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestListMyConversationsHidesEmptyDMs(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	summaries, err := f.chat.ListMyConversations(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	_, err = f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{Text: "now it counts"})
	require.NoError(t, err)

	summaries, err = f.chat.ListMyConversations(ctx, alice)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "now it counts", summaries[0].LastMessage.Text)
}

func TestMessageBroadcastCarriesSenderIDOnly(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)
	_, err = f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{Text: "hello"})
	require.NoError(t, err)

	events := f.broadcasts.byEvent(EventMessageNew)
	require.Len(t, events, 1)

	wire, ok := events[0].Payload.(model.Message)
	require.True(t, ok)
	assert.Equal(t, alice, wire.SenderID)
	assert.Nil(t, wire.Sender)

	// Nothing from the sender's account row leaks onto the wire.
	raw, err := json.Marshal(events[0].Payload)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "email")
	assert.NotContains(t, string(raw), "alice@example.com")
}

func TestTypingSkipsSenderConnections(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)
	require.NoError(t, f.chat.Typing(ctx, dm.ID, alice, true))

	events := f.broadcasts.byEvent(EventTyping)
	require.Len(t, events, 1)
	assert.Equal(t, ConversationChannel(dm.ID), events[0].Channel)
	require.NotNil(t, events[0].Except)
	assert.Equal(t, alice, *events[0].Except)
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)
	_, err = f.chat.SendMessage(ctx, dm.ID, alice, SendMessageInput{Text: strings.Repeat("é", 300)})
	require.NoError(t, err)

	inbox, err := f.notifs.List(ctx, bob, ListInput{})
	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 1)

	preview := inbox.Notifications[0].Meta.Preview
	assert.True(t, utf8.ValidString(preview))
	assert.Equal(t, 200, utf8.RuneCountInString(preview))
}

func TestCreateGroupUnknownInvitee(t *testing.T) {
	f := newChatFixture(t)
	alice := f.newUser(t, "alice")

	_, err := f.chat.CreateGroup(context.Background(), alice, "ghosts", []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
