// Package notify delivers in-app notifications off the request path.
package notify

import (
	"context"
	"time"

	"github.com/fixly/ticket-service/internal/events"
	"github.com/fixly/ticket-service/internal/model"
	"go.uber.org/zap"
)

const storeTimeout = 5 * time.Second

type Store interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
}

type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, payload any)
}

// Queue implements service.Notifier. Enqueue never blocks; a full buffer
// drops the notification with a warning.
type Queue struct {
	store Store
	bus   Broadcaster
	log   *zap.Logger
	items chan model.Notification
}

func NewQueue(store Store, bus Broadcaster, log *zap.Logger, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 128
	}
	return &Queue{
		store: store,
		bus:   bus,
		log:   log,
		items: make(chan model.Notification, buffer),
	}
}

func (q *Queue) Enqueue(n model.Notification) {
	select {
	case q.items <- n:
	default:
		q.log.Warn("notify: queue full, dropping notification",
			zap.String("type", n.Type),
			zap.String("user_id", n.UserID.String()),
		)
	}
}

// Run persists and broadcasts queued notifications until ctx is cancelled,
// then drains what is left.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case n := <-q.items:
			q.deliver(n)
		case <-ctx.Done():
			for {
				select {
				case n := <-q.items:
					q.deliver(n)
				default:
					return nil
				}
			}
		}
	}
}

func (q *Queue) deliver(n model.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := q.store.CreateNotification(ctx, &n); err != nil {
		q.log.Error("notify: store notification",
			zap.String("type", n.Type),
			zap.String("user_id", n.UserID.String()),
			zap.Error(err),
		)
		return
	}
	q.bus.Publish(ctx, events.UserChannel(n.UserID), events.NotificationNew, n)
}
