// Package events carries ticket events from the service to real-time
// subscribers and downstream consumers without ever blocking the caller.
package events

import (
	"time"

	"github.com/fixly/ticket-service/internal/model"
	"github.com/google/uuid"
)

// Event names published on broadcast channels.
const (
	TicketCreated       = "ticket:created"
	TicketUpdated       = "ticket:updated"
	TicketStatusChanged = "ticket:status_changed"
	TicketAssigned      = "ticket:assigned"
	TicketNoteAdded     = "ticket:note_added"
	TicketSnapshot      = "ticket:snapshot"
	NotificationNew     = "notification:new"
)

func OrgChannel(orgID uuid.UUID) string { return "org:" + orgID.String() }

func TicketChannel(ticketID uuid.UUID) string { return "ticket:" + ticketID.String() }

func UserChannel(userID uuid.UUID) string { return "user:" + userID.String() }

// Event is one message on a channel. Payload is one of *model.Ticket,
// StatusChanged, NoteAdded or model.Notification.
type Event struct {
	Channel    string    `json:"channel"`
	Name       string    `json:"event"`
	Payload    any       `json:"data"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StatusChanged is the payload of ticket:status_changed.
type StatusChanged struct {
	Ticket     *model.Ticket `json:"ticket"`
	FromStatus model.Status  `json:"from_status"`
	ToStatus   model.Status  `json:"to_status"`
}

// NoteAdded is the payload of ticket:note_added.
type NoteAdded struct {
	TicketID uuid.UUID         `json:"ticket_id"`
	Note     *model.TicketNote `json:"note"`
}

// TicketID extracts the ticket an event refers to, if any. Used as the Kafka
// message key so one ticket's events stay ordered within a partition.
func (e Event) TicketID() (uuid.UUID, bool) {
	switch p := e.Payload.(type) {
	case *model.Ticket:
		if p != nil {
			return p.ID, true
		}
	case StatusChanged:
		if p.Ticket != nil {
			return p.Ticket.ID, true
		}
	case NoteAdded:
		return p.TicketID, true
	}
	return uuid.Nil, false
}
