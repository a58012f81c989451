package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const sinkTimeout = 5 * time.Second

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Dispatcher queues events in memory and hands them to every sink from a
// single worker. Publish never blocks: when the queue is full the event is
// dropped and logged.
type Dispatcher struct {
	sinks []Sink
	queue chan Event
	log   *zap.Logger
	now   func() time.Time
}

func NewDispatcher(log *zap.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, buffer),
		log:   log,
		now:   time.Now,
	}
}

// Publish implements service.Broadcaster.
func (d *Dispatcher) Publish(_ context.Context, channel, name string, payload any) {
	ev := Event{Channel: channel, Name: name, Payload: payload, OccurredAt: d.now()}
	select {
	case d.queue <- ev:
	default:
		d.log.Warn("events: queue full, dropping event",
			zap.String("channel", channel),
			zap.String("event", name),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then flushes whatever is
// still buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := s.Send(ctx, ev)
		cancel()
		if err != nil {
			d.log.Warn("events: sink delivery failed",
				zap.String("sink", s.Name()),
				zap.String("channel", ev.Channel),
				zap.String("event", ev.Name),
				zap.Error(err),
			)
		}
	}
}
