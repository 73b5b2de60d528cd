package ws

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	sendBufferSize = 64
)

// Client is one websocket connection belonging to one authenticated
// user. A user may hold several at once (tabs, devices); each gets its
// own Client, all sharing the user's presence entry and rate bucket.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID

	send chan []byte

	// rooms this connection is joined to; guarded by hub.mu.
	rooms map[string]bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		rooms:  make(map[string]bool),
	}
}

// enqueue hands a pre-encoded frame to the write pump. A full buffer
// means the consumer is too slow to keep; the connection is closed and
// the client is expected to reconnect and resync.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.conn.Close()
	}
}

func (c *Client) sendEvent(event string, data interface{}) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		log.Printf("ws: encoding %s frame failed: %v", event, err)
		return
	}
	c.enqueue(frame)
}

// ReadPump consumes inbound frames until the connection dies, then
// unregisters. Runs on its own goroutine, one per connection.
func (c *Client) ReadPump(router *Router) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read from %s: %v", c.userID, err)
			}
			return
		}
		c.hub.Touch(c.userID)
		router.Dispatch(c, raw)
	}
}

// WritePump drains the send buffer and keeps the connection alive with
// pings. Runs on its own goroutine, one per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
