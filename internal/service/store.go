package service

import (
	"context"
	"time"

	"github.com/fixly/ticket-service/internal/model"
	"github.com/google/uuid"
)

// TicketStore is the persistence collaborator. Every lookup is scoped to the
// organization and reports errs.ErrNotFound-wrapped errors for rows that are
// missing or belong to another tenant.
type TicketStore interface {
	FindTicket(ctx context.Context, orgID, ticketID uuid.UUID) (*model.Ticket, error)
	FindCustomer(ctx context.Context, orgID, customerID uuid.UUID) (*model.Customer, error)
	FindDevice(ctx context.Context, orgID, customerID, deviceID uuid.UUID) (*model.Device, error)
	FindUser(ctx context.Context, orgID, userID uuid.UUID) (*model.User, error)
	FindOrganization(ctx context.Context, orgID uuid.UUID) (*model.Organization, error)

	// CreateTicket allocates the next code for prefix/year, stores the ticket
	// and its first audit entry in one transaction, and fills t.Code, t.ID and
	// entry.TicketID.
	CreateTicket(ctx context.Context, t *model.Ticket, entry *model.TicketStatusLog, prefix string, year int) error

	// ChangeStatus loads the ticket inside a transaction, lets apply mutate it
	// and build the audit entry, then persists both. If apply fails nothing is
	// written.
	ChangeStatus(ctx context.Context, orgID, ticketID uuid.UUID, apply func(t *model.Ticket) (*model.TicketStatusLog, error)) (*model.Ticket, error)

	UpdateAssignee(ctx context.Context, orgID, ticketID uuid.UUID, assigneeID *uuid.UUID) (*model.Ticket, error)
	UpdateTicket(ctx context.Context, orgID, ticketID uuid.UUID, changes map[string]interface{}) (*model.Ticket, error)
	ListTickets(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]model.Ticket, int64, error)
	GetTicketDetail(ctx context.Context, orgID, ticketID uuid.UUID) (*model.Ticket, error)
	ListStatusLogs(ctx context.Context, orgID, ticketID uuid.UUID) ([]model.TicketStatusLog, error)
	CreateNote(ctx context.Context, note *model.TicketNote) error

	ListOverdueTickets(ctx context.Context, now time.Time, limit int) ([]model.Ticket, error)
	MarkOverdueNotified(ctx context.Context, ticketIDs []uuid.UUID, at time.Time) error
}

// Broadcaster is the real-time collaborator. Publish must not block on
// delivery and has no result.
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, payload any)
}

// Notifier is the notification collaborator. Enqueue is fire-and-forget.
type Notifier interface {
	Enqueue(n model.Notification)
}
