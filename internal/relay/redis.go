// internal/relay/redis.go
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const channelPrefix = "room-events:"

// RedisBroker fans room events out through Redis pub/sub, one channel per
// room id. Any instance holding a member of the room subscribes to that
// room's channel, so relay sends reach members connected elsewhere. Redis
// delivers published messages back to the publisher's own subscription,
// which is exactly the loopback the Broker contract wants.
type RedisBroker struct {
	client *redis.Client
	log    *logrus.Logger

	mu     sync.Mutex
	subs   map[string]*roomSubscription
	nextID int
	closed bool
}

type roomSubscription struct {
	pubsub   *redis.PubSub
	handlers map[int]Handler
}

func NewRedisBroker(client *redis.Client, log *logrus.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		log:    log,
		subs:   make(map[string]*roomSubscription),
	}
}

func channelFor(roomID string) string {
	return channelPrefix + roomID
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope for room %s: %w", env.RoomID, err)
	}
	if err := b.client.Publish(ctx, channelFor(env.RoomID), data).Err(); err != nil {
		return fmt.Errorf("publish to room %s: %w", env.RoomID, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(roomID string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}, nil
	}

	sub, ok := b.subs[roomID]
	if !ok {
		pubsub := b.client.Subscribe(context.Background(), channelFor(roomID))
		sub = &roomSubscription{pubsub: pubsub, handlers: make(map[int]Handler)}
		b.subs[roomID] = sub
		go b.receive(roomID, pubsub)
	}

	id := b.nextID
	b.nextID++
	sub.handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		sub, ok := b.subs[roomID]
		if !ok {
			return
		}
		delete(sub.handlers, id)
		if len(sub.handlers) == 0 {
			delete(b.subs, roomID)
			// Close stops the receive goroutine by closing its channel.
			if err := sub.pubsub.Close(); err != nil {
				b.log.Warnf("closing subscription for room %s: %v", roomID, err)
			}
		}
	}, nil
}

// receive dispatches messages from one room channel until the subscription
// is closed.
func (b *RedisBroker) receive(roomID string, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.log.Warnf("dropping malformed envelope on %s: %v", msg.Channel, err)
			continue
		}

		b.mu.Lock()
		var handlers []Handler
		if sub, ok := b.subs[roomID]; ok {
			handlers = make([]Handler, 0, len(sub.handlers))
			for _, h := range sub.handlers {
				handlers = append(handlers, h)
			}
		}
		b.mu.Unlock()

		for _, h := range handlers {
			h(env)
		}
	}
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var firstErr error
	for roomID, sub := range b.subs {
		if err := sub.pubsub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.subs, roomID)
	}
	return firstErr
}
