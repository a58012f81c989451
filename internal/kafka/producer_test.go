package kafka

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/fixly/ticket-service/internal/events"
	"github.com/fixly/ticket-service/internal/model"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestParseBrokers(t *testing.T) {
	got := ParseBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseBrokers = %v, want %v", got, want)
	}
	if ParseBrokers("") != nil {
		t.Errorf("empty input should yield nil")
	}
}

func TestProducerDisabledIsNoop(t *testing.T) {
	p := NewProducer(nil, "ticket.events")
	if p.Enabled() {
		t.Fatal("producer without brokers should be disabled")
	}
	if err := p.Send(context.Background(), events.Event{Name: events.TicketCreated}); err != nil {
		t.Errorf("Send: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestProducerKeysByTicket(t *testing.T) {
	w := &captureWriter{}
	p := &Producer{writer: w, topic: "ticket.events"}
	ticket := &model.Ticket{ID: uuid.New(), Code: "FX-2025-00001", Status: model.StatusInRepair}
	at := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	ev := events.Event{
		Channel:    events.OrgChannel(uuid.New()),
		Name:       events.TicketStatusChanged,
		Payload:    events.StatusChanged{Ticket: ticket, FromStatus: model.StatusNew, ToStatus: model.StatusInRepair},
		OccurredAt: at,
	}
	if err := p.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != ticket.ID.String() {
		t.Errorf("key = %s, want %s", msg.Key, ticket.ID)
	}
	var body struct {
		Event string `json:"event"`
		Data  struct {
			FromStatus string `json:"from_status"`
			ToStatus   string `json:"to_status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Event != events.TicketStatusChanged || body.Data.FromStatus != "new" || body.Data.ToStatus != "in_repair" {
		t.Errorf("body = %+v", body)
	}
}

func TestProducerSkipsEventsWithoutTicket(t *testing.T) {
	w := &captureWriter{}
	p := &Producer{writer: w, topic: "ticket.events"}
	ev := events.Event{Name: events.NotificationNew, Payload: model.Notification{Title: "hi"}}
	if err := p.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(w.msgs) != 0 {
		t.Errorf("messages = %d, want 0", len(w.msgs))
	}
}
