package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const broadcastStream = "devnexus:broadcast"

type relayedEvent struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`

	// Exclude carries a sender exclusion across instances.
	Exclude *uuid.UUID `json:"exclude,omitempty"`
}

// RedisBroadcaster fans events out through Redis pub/sub so every
// process instance delivers to its own local connections. With a
// single instance the plain Hub suffices; this wrapper is what makes
// multiple instances see each other's events.
type RedisBroadcaster struct {
	rdb   *redis.Client
	local *Hub
}

func NewRedisBroadcaster(rdb *redis.Client, local *Hub) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, local: local}
}

// Broadcast implements service.Broadcaster by publishing; delivery to
// local sockets happens in Run's subscribe loop, including our own.
func (b *RedisBroadcaster) Broadcast(channel, event string, payload interface{}) {
	b.publish(channel, nil, event, payload)
}

func (b *RedisBroadcaster) BroadcastExcept(channel string, exclude uuid.UUID, event string, payload interface{}) {
	b.publish(channel, &exclude, event, payload)
}

func (b *RedisBroadcaster) publish(channel string, exclude *uuid.UUID, event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: marshal relayed %s payload: %v", event, err)
		return
	}
	body, err := json.Marshal(relayedEvent{Channel: channel, Event: event, Payload: raw, Exclude: exclude})
	if err != nil {
		log.Printf("ws: marshal relayed event: %v", err)
		return
	}
	if err := b.rdb.Publish(context.Background(), broadcastStream, body).Err(); err != nil {
		log.Printf("ws: publish %s failed, delivering locally only: %v", event, err)
		b.deliverLocal(channel, exclude, event, payload)
	}
}

func (b *RedisBroadcaster) deliverLocal(channel string, exclude *uuid.UUID, event string, payload interface{}) {
	if exclude != nil {
		b.local.BroadcastExcept(channel, *exclude, event, payload)
		return
	}
	b.local.Broadcast(channel, event, payload)
}

// Run consumes the relay until ctx is cancelled. Call from its own
// goroutine at startup.
func (b *RedisBroadcaster) Run(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, broadcastStream)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev relayedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("ws: malformed relayed event: %v", err)
				continue
			}
			b.deliverLocal(ev.Channel, ev.Exclude, ev.Event, ev.Payload)
		}
	}
}
