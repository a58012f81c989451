package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fixly/ticket-service/internal/events"
	"github.com/segmentio/kafka-go"
)

// messageWriter описывает часть *kafka.Writer, нужную продюсеру (для подмены в тестах).
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer пишет события тикетов в топик Kafka (events.Sink, best-effort).
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer создаёт продюсер. Если brokers или topic пустые, методы no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *Producer) Enabled() bool {
	return p.writer != nil
}

func (p *Producer) Name() string { return "kafka" }

// Send пишет событие с ключом ticket_id, чтобы события одного тикета попадали
// в одну партицию. События без тикета (уведомления) пропускаются.
func (p *Producer) Send(ctx context.Context, ev events.Event) error {
	if p.writer == nil {
		return nil
	}
	id, ok := ev.TicketID()
	if !ok {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", ev.Name, err)
	}
	msg := kafka.Message{
		Key:   []byte(id.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Name)},
		},
		Time: ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", ev.Name, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// ParseBrokers разбивает строку брокеров "host1:9092,host2:9092" на слайс.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
