package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
)

// Frame is the wire envelope for every outbound event.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

// presenceEntry tracks one user's aggregate presence across all of
// their sockets.
type presenceEntry struct {
	conns        int
	connectedAt  time.Time
	lastActivity time.Time

	// Armed when the last socket drops; cancelled on reconnect within
	// the grace window so flaky networks don't flap presence.
	offline *time.Timer
}

// Hub owns every live connection. It is the process-local
// implementation of service.Broadcaster: channels are rooms, and a
// connection's room set is decided here, never by the client alone.
type Hub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]map[*Client]bool
	rooms    map[string]map[*Client]bool
	presence map[uuid.UUID]*presenceEntry

	chat  service.ChatService
	grace time.Duration
	now   func() time.Time
}

func NewHub(chat service.ChatService, grace time.Duration) *Hub {
	return &Hub{
		clients:  make(map[uuid.UUID]map[*Client]bool),
		rooms:    make(map[string]map[*Client]bool),
		presence: make(map[uuid.UUID]*presenceEntry),
		chat:     chat,
		grace:    grace,
		now:      time.Now,
	}
}

// Register wires a freshly authenticated connection in: personal
// channel, every member conversation's channel, presence accounting.
func (h *Hub) Register(c *Client) {
	convoIDs, err := h.chat.MemberConversationIDs(context.Background(), c.userID)
	if err != nil {
		log.Printf("ws: loading conversations for %s failed: %v", c.userID, err)
	}

	h.mu.Lock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*Client]bool)
	}
	h.clients[c.userID][c] = true

	h.joinLocked(c, service.UserChannel(c.userID))
	for _, id := range convoIDs {
		h.joinLocked(c, service.ConversationChannel(id))
	}

	now := h.now()
	entry := h.presence[c.userID]
	cameOnline := false
	if entry == nil {
		entry = &presenceEntry{connectedAt: now}
		h.presence[c.userID] = entry
		cameOnline = true
	}
	if entry.offline != nil {
		// Reconnected inside the grace window; nobody ever saw them go.
		entry.offline.Stop()
		entry.offline = nil
	}
	entry.conns++
	entry.lastActivity = now

	online := make([]uuid.UUID, 0, len(h.presence))
	for id, e := range h.presence {
		if e.conns > 0 {
			online = append(online, id)
		}
	}
	h.mu.Unlock()

	// Snapshot to the newcomer, then the delta to everyone else.
	c.sendEvent(service.EventPresenceState, map[string]interface{}{
		"online": online,
	})
	if cameOnline {
		h.broadcastPresence(c.userID, true)
	}
}

// Unregister drops a connection. The user stays "online" for the grace
// window after their last socket closes.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.userID)
		}
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}

	entry := h.presence[c.userID]
	if entry != nil {
		entry.conns--
		if entry.conns <= 0 {
			userID := c.userID
			entry.offline = time.AfterFunc(h.grace, func() {
				h.mu.Lock()
				e := h.presence[userID]
				if e == nil || e.conns > 0 {
					h.mu.Unlock()
					return
				}
				delete(h.presence, userID)
				h.mu.Unlock()
				h.broadcastPresence(userID, false)
			})
		}
	}
	h.mu.Unlock()
}

// JoinConversation subscribes every one of the user's sockets to a
// conversation channel, after a membership check. Invited users are
// refused until they accept.
func (h *Hub) JoinConversation(ctx context.Context, userID, convoID uuid.UUID) error {
	member, err := h.chat.IsMember(ctx, convoID, userID)
	if err != nil {
		return err
	}
	if !member {
		return errNotMember
	}

	room := service.ConversationChannel(convoID)
	h.mu.Lock()
	for c := range h.clients[userID] {
		h.joinLocked(c, room)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) LeaveConversation(userID, convoID uuid.UUID) {
	room := service.ConversationChannel(convoID)
	h.mu.Lock()
	for c := range h.clients[userID] {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()
}

// Broadcast implements service.Broadcaster. Slow consumers whose send
// buffer is full lose the connection rather than stalling the room.
func (h *Hub) Broadcast(channel, event string, payload interface{}) {
	h.broadcast(channel, nil, event, payload)
}

// BroadcastExcept skips every connection owned by exclude.
func (h *Hub) BroadcastExcept(channel string, exclude uuid.UUID, event string, payload interface{}) {
	h.broadcast(channel, &exclude, event, payload)
}

func (h *Hub) broadcast(channel string, exclude *uuid.UUID, event string, payload interface{}) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.Printf("ws: encoding %s frame failed: %v", event, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[channel]))
	for c := range h.rooms[channel] {
		if exclude != nil && c.userID == *exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// Touch records activity for presence bookkeeping.
func (h *Hub) Touch(userID uuid.UUID) {
	h.mu.Lock()
	if e := h.presence[userID]; e != nil {
		e.lastActivity = h.now()
	}
	h.mu.Unlock()
}

// IsOnline reports whether the user has at least one live socket or is
// inside the offline grace window.
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence[userID] != nil
}

// broadcastPresence announces a presence change to everyone but the
// user themselves; their own sockets learn state from the snapshot.
func (h *Hub) broadcastPresence(userID uuid.UUID, online bool) {
	frame, err := encodeFrame(service.EventPresenceUpdate, map[string]interface{}{
		"user_id": userID,
		"online":  online,
	})
	if err != nil {
		return
	}
	h.mu.RLock()
	for uid, conns := range h.clients {
		if uid == userID {
			continue
		}
		for c := range conns {
			c.enqueue(frame)
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) joinLocked(c *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	c.rooms[room] = true
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}
