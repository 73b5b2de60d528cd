package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/repository/memory"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubFixture struct {
	hub   *Hub
	chat  service.ChatService
	users *memory.UserStore
}

func newHubFixture(t *testing.T, grace time.Duration) *hubFixture {
	t.Helper()

	users := memory.NewUserStore()
	convos := memory.NewConversationStore()
	messages := memory.NewMessageStore()
	notifs := service.NewNotificationService(memory.NewNotificationStore(users), service.NopBroadcaster{})
	chat := service.NewChatService(convos, messages, users, notifs, service.NopBroadcaster{}, nil)

	return &hubFixture{
		hub:   NewHub(chat, grace),
		chat:  chat,
		users: users,
	}
}

func (f *hubFixture) newUser(t *testing.T, username string) uuid.UUID {
	t.Helper()
	u := &model.User{Username: username, Name: username, Email: username + "@example.com"}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

// connect registers a connection without a real socket; frames land in
// the client's send buffer where tests can read them.
func (f *hubFixture) connect(userID uuid.UUID) *Client {
	c := NewClient(f.hub, nil, userID)
	f.hub.Register(c)
	return c
}

func drainFrames(c *Client) []Frame {
	var frames []Frame
	for {
		select {
		case raw := <-c.send:
			var frame Frame
			if err := json.Unmarshal(raw, &frame); err == nil {
				frames = append(frames, frame)
			}
		default:
			return frames
		}
	}
}

func framesByEvent(frames []Frame, event string) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func TestRegisterSendsPresenceSnapshot(t *testing.T) {
	f := newHubFixture(t, time.Second)
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	f.connect(alice)
	bobConn := f.connect(bob)

	frames := drainFrames(bobConn)
	states := framesByEvent(frames, service.EventPresenceState)
	require.Len(t, states, 1)

	data, ok := states[0].Data.(map[string]interface{})
	require.True(t, ok)
	online, ok := data["online"].([]interface{})
	require.True(t, ok)
	assert.Len(t, online, 2)
}

func TestPresenceUpdateOnFirstConnectionOnly(t *testing.T) {
	f := newHubFixture(t, time.Second)
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	aliceConn := f.connect(alice)
	drainFrames(aliceConn)

	// Bob's first socket comes online.
	f.connect(bob)
	updates := framesByEvent(drainFrames(aliceConn), service.EventPresenceUpdate)
	require.Len(t, updates, 1)

	// A second tab for bob changes nothing for observers.
	f.connect(bob)
	updates = framesByEvent(drainFrames(aliceConn), service.EventPresenceUpdate)
	assert.Empty(t, updates)
}

func TestOfflineAfterGraceWindow(t *testing.T) {
	f := newHubFixture(t, 20*time.Millisecond)
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	aliceConn := f.connect(alice)
	bobConn := f.connect(bob)
	drainFrames(aliceConn)

	f.hub.Unregister(bobConn)

	// Still online inside the grace window.
	assert.True(t, f.hub.IsOnline(bob))

	require.Eventually(t, func() bool {
		return !f.hub.IsOnline(bob)
	}, time.Second, 5*time.Millisecond)

	updates := framesByEvent(drainFrames(aliceConn), service.EventPresenceUpdate)
	require.Len(t, updates, 1)
	data := updates[0].Data.(map[string]interface{})
	assert.Equal(t, false, data["online"])
}

func TestReconnectWithinGraceStaysOnline(t *testing.T) {
	f := newHubFixture(t, 50*time.Millisecond)
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	aliceConn := f.connect(alice)
	bobConn := f.connect(bob)
	drainFrames(aliceConn)

	f.hub.Unregister(bobConn)
	f.connect(bob)

	time.Sleep(100 * time.Millisecond)
	assert.True(t, f.hub.IsOnline(bob))

	// No offline flap was ever announced, and no duplicate online.
	updates := framesByEvent(drainFrames(aliceConn), service.EventPresenceUpdate)
	assert.Empty(t, updates)
}

func TestBroadcastReachesConversationMembers(t *testing.T) {
	f := newHubFixture(t, time.Second)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	mallory := f.newUser(t, "mallory")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	aliceConn := f.connect(alice)
	bobConn := f.connect(bob)
	malloryConn := f.connect(mallory)
	drainFrames(aliceConn)
	drainFrames(bobConn)
	drainFrames(malloryConn)

	f.hub.Broadcast(service.ConversationChannel(dm.ID), service.EventMessageNew, map[string]string{"text": "hi"})

	assert.Len(t, framesByEvent(drainFrames(aliceConn), service.EventMessageNew), 1)
	assert.Len(t, framesByEvent(drainFrames(bobConn), service.EventMessageNew), 1)
	assert.Empty(t, framesByEvent(drainFrames(malloryConn), service.EventMessageNew))
}

func TestJoinConversationRequiresMembership(t *testing.T) {
	f := newHubFixture(t, time.Second)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	group, err := f.chat.CreateGroup(ctx, alice, "Engineering", []uuid.UUID{bob})
	require.NoError(t, err)

	bobConn := f.connect(bob)
	drainFrames(bobConn)

	// Invited but not accepted: the join is refused.
	err = f.hub.JoinConversation(ctx, bob, group.ID)
	require.Error(t, err)

	_, err = f.chat.AcceptInvite(ctx, group.ID, bob)
	require.NoError(t, err)
	require.NoError(t, f.hub.JoinConversation(ctx, bob, group.ID))

	f.hub.Broadcast(service.ConversationChannel(group.ID), service.EventMessageNew, map[string]string{"text": "hi"})
	assert.Len(t, framesByEvent(drainFrames(bobConn), service.EventMessageNew), 1)
}

func TestRegisterJoinsMemberConversations(t *testing.T) {
	f := newHubFixture(t, time.Second)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	// Connecting after the conversation exists still lands in its channel.
	bobConn := f.connect(bob)
	drainFrames(bobConn)

	f.hub.Broadcast(service.ConversationChannel(dm.ID), service.EventMessageNew, map[string]string{"text": "hi"})
	assert.Len(t, framesByEvent(drainFrames(bobConn), service.EventMessageNew), 1)
}

func TestDispatchRejectsUnknownEvent(t *testing.T) {
	f := newHubFixture(t, time.Second)
	alice := f.newUser(t, "alice")

	conn := f.connect(alice)
	drainFrames(conn)

	router := NewRouter(f.chat)
	router.Dispatch(conn, []byte(`{"event":"chat:selfdestruct","data":{}}`))

	errs := framesByEvent(drainFrames(conn), "error")
	require.Len(t, errs, 1)
	data := errs[0].Data.(map[string]interface{})
	assert.Contains(t, data["error"], "unknown event")
}

func TestDispatchSendAcksMessage(t *testing.T) {
	f := newHubFixture(t, time.Second)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	conn := f.connect(alice)
	drainFrames(conn)

	router := NewRouter(f.chat)
	payload, _ := json.Marshal(map[string]interface{}{
		"event": eventChatSend,
		"data": map[string]interface{}{
			"conversation_id": dm.ID,
			"text":            "hello",
			"client_msg_id":   "tmp-1",
		},
	})
	router.Dispatch(conn, payload)

	acks := framesByEvent(drainFrames(conn), "chat:send:ack")
	require.Len(t, acks, 1)
	data := acks[0].Data.(map[string]interface{})
	assert.Equal(t, true, data["ok"])
	assert.NotEmpty(t, data["message_id"])
	assert.Equal(t, "tmp-1", data["client_msg_id"])
}

func TestDispatchSendAcksFailure(t *testing.T) {
	f := newHubFixture(t, time.Second)
	alice := f.newUser(t, "alice")

	conn := f.connect(alice)
	drainFrames(conn)

	router := NewRouter(f.chat)
	payload, _ := json.Marshal(map[string]interface{}{
		"event": eventChatSend,
		"data": map[string]interface{}{
			"conversation_id": uuid.New(),
			"text":            "hello",
		},
	})
	router.Dispatch(conn, payload)

	acks := framesByEvent(drainFrames(conn), "chat:send:ack")
	require.Len(t, acks, 1)
	data := acks[0].Data.(map[string]interface{})
	assert.Equal(t, false, data["ok"])
	assert.NotEmpty(t, data["error"])
}

func TestBroadcastExceptSkipsExcludedUser(t *testing.T) {
	f := newHubFixture(t, time.Second)
	ctx := context.Background()
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	dm, err := f.chat.CreateDirect(ctx, alice, bob, "")
	require.NoError(t, err)

	aliceConn := f.connect(alice)
	aliceTab := f.connect(alice)
	bobConn := f.connect(bob)
	drainFrames(aliceConn)
	drainFrames(aliceTab)
	drainFrames(bobConn)

	f.hub.BroadcastExcept(service.ConversationChannel(dm.ID), alice, service.EventTyping, map[string]interface{}{"typing": true})

	// Every one of the excluded user's sockets stays quiet.
	assert.Empty(t, framesByEvent(drainFrames(aliceConn), service.EventTyping))
	assert.Empty(t, framesByEvent(drainFrames(aliceTab), service.EventTyping))
	assert.Len(t, framesByEvent(drainFrames(bobConn), service.EventTyping), 1)
}

func TestPresenceUpdateSkipsSubjectConnections(t *testing.T) {
	f := newHubFixture(t, time.Second)
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	aliceConn := f.connect(alice)
	drainFrames(aliceConn)

	bobConn := f.connect(bob)

	// Observers hear about bob; bob's own sockets rely on the snapshot.
	assert.Len(t, framesByEvent(drainFrames(aliceConn), service.EventPresenceUpdate), 1)
	assert.Empty(t, framesByEvent(drainFrames(bobConn), service.EventPresenceUpdate))
}
