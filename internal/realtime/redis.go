// Package realtime fans ticket events out over Redis pub/sub to every API
// instance, where SSE handlers relay them to connected browsers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fixly/ticket-service/internal/events"
	"github.com/redis/go-redis/v9"
)

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher is the events.Sink that PUBLISHes each event on its channel.
type Publisher struct {
	rdb publisher
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Name() string { return "redis" }

func (p *Publisher) Send(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", ev.Name, err)
	}
	if err := p.rdb.Publish(ctx, ev.Channel, body).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", ev.Channel, err)
	}
	return nil
}

// Message is one raw event received from a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription delivers messages on C until Close is called or the
// subscribing context ends.
type Subscription struct {
	C     <-chan Message
	close func() error
}

func NewSubscription(c <-chan Message, closeFn func() error) *Subscription {
	return &Subscription{C: c, close: closeFn}
}

func (s *Subscription) Close() error {
	return s.close()
}

type Hub struct {
	rdb *redis.Client
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{rdb: rdb}
}

func (h *Hub) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	ps := h.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}
	out := make(chan Message, 16)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return NewSubscription(out, ps.Close), nil
}

func (h *Hub) Ping(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}
