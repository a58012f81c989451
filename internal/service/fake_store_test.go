package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fixly/ticket-service/internal/errs"
	"github.com/fixly/ticket-service/internal/model"
	"github.com/fixly/ticket-service/internal/ticketcode"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// memStore is an in-memory TicketStore. It copies tickets in and out so tests
// observe only what was committed.
type memStore struct {
	mu        sync.Mutex
	now       func() time.Time
	orgs      map[uuid.UUID]*model.Organization
	customers map[uuid.UUID]*model.Customer
	devices   map[uuid.UUID]*model.Device
	users     map[uuid.UUID]*model.User
	tickets   map[uuid.UUID]*model.Ticket
	logs      []model.TicketStatusLog
	notes     []model.TicketNote

	failCreate error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:       now,
		orgs:      make(map[uuid.UUID]*model.Organization),
		customers: make(map[uuid.UUID]*model.Customer),
		devices:   make(map[uuid.UUID]*model.Device),
		users:     make(map[uuid.UUID]*model.User),
		tickets:   make(map[uuid.UUID]*model.Ticket),
	}
}

func (m *memStore) addOrg(prefix string) uuid.UUID {
	id := uuid.New()
	m.orgs[id] = &model.Organization{
		ID:       id,
		Name:     "shop",
		Settings: datatypes.NewJSONType(model.OrganizationSettings{TicketPrefix: prefix}),
	}
	return id
}

func (m *memStore) addCustomer(orgID uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.customers[id] = &model.Customer{ID: id, OrganizationID: orgID, FirstName: "Ana"}
	return id
}

func (m *memStore) addDevice(orgID, customerID uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.devices[id] = &model.Device{ID: id, OrganizationID: orgID, CustomerID: customerID, Type: "phone"}
	return id
}

func (m *memStore) addUser(orgID uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.users[id] = &model.User{ID: id, OrganizationID: orgID, FirstName: "Tech", IsActive: true}
	return id
}

func (m *memStore) logsFor(ticketID uuid.UUID) []model.TicketStatusLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TicketStatusLog
	for _, l := range m.logs {
		if l.TicketID == ticketID {
			out = append(out, l)
		}
	}
	return out
}

func (m *memStore) ticketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

func (m *memStore) stored(id uuid.UUID) model.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tickets[id]
}

func cloneTicket(t *model.Ticket) *model.Ticket {
	c := *t
	if t.Tags != nil {
		c.Tags = append(pq.StringArray{}, t.Tags...)
	}
	return &c
}

func (m *memStore) FindTicket(_ context.Context, orgID, ticketID uuid.UUID) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok || t.OrganizationID != orgID {
		return nil, errs.ErrTicketNotFound
	}
	return cloneTicket(t), nil
}

func (m *memStore) FindCustomer(_ context.Context, orgID, customerID uuid.UUID) (*model.Customer, error) {
	c, ok := m.customers[customerID]
	if !ok || c.OrganizationID != orgID {
		return nil, errs.ErrCustomerNotFound
	}
	return c, nil
}

func (m *memStore) FindDevice(_ context.Context, orgID, customerID, deviceID uuid.UUID) (*model.Device, error) {
	d, ok := m.devices[deviceID]
	if !ok || d.OrganizationID != orgID || d.CustomerID != customerID {
		return nil, errs.ErrNotFound
	}
	return d, nil
}

func (m *memStore) FindUser(_ context.Context, orgID, userID uuid.UUID) (*model.User, error) {
	u, ok := m.users[userID]
	if !ok || u.OrganizationID != orgID {
		return nil, errs.ErrNotFound
	}
	return u, nil
}

func (m *memStore) FindOrganization(_ context.Context, orgID uuid.UUID) (*model.Organization, error) {
	o, ok := m.orgs[orgID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return o, nil
}

func (m *memStore) latest(orgID uuid.UUID, prefix string, year int) string {
	best, bestSeq := "", -1
	for _, t := range m.tickets {
		if t.OrganizationID != orgID {
			continue
		}
		if n, ok := ticketcode.Sequence(t.Code, prefix, year); ok && n > bestSeq {
			best, bestSeq = t.Code, n
		}
	}
	return best
}

func (m *memStore) CreateTicket(_ context.Context, t *model.Ticket, entry *model.TicketStatusLog, prefix string, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	t.Code = ticketcode.Format(prefix, year, ticketcode.Next(m.latest(t.OrganizationID, prefix, year), prefix, year))
	for _, other := range m.tickets {
		if other.OrganizationID == t.OrganizationID && other.Code == t.Code {
			return errs.ErrDuplicateCode
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := m.now()
	t.CreatedAt, t.UpdatedAt = now, now
	m.tickets[t.ID] = cloneTicket(t)

	entry.ID = uuid.New()
	entry.TicketID = t.ID
	entry.CreatedAt = now
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memStore) ChangeStatus(_ context.Context, orgID, ticketID uuid.UUID, apply func(t *model.Ticket) (*model.TicketStatusLog, error)) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tickets[ticketID]
	if !ok || cur.OrganizationID != orgID {
		return nil, errs.ErrTicketNotFound
	}
	t := cloneTicket(cur)
	entry, err := apply(t)
	if err != nil {
		return nil, err
	}
	t.UpdatedAt = m.now()
	m.tickets[ticketID] = cloneTicket(t)
	entry.ID = uuid.New()
	entry.CreatedAt = m.now()
	m.logs = append(m.logs, *entry)
	return t, nil
}

func (m *memStore) UpdateAssignee(_ context.Context, orgID, ticketID uuid.UUID, assigneeID *uuid.UUID) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok || t.OrganizationID != orgID {
		return nil, errs.ErrTicketNotFound
	}
	t.AssignedToID = assigneeID
	t.UpdatedAt = m.now()
	return cloneTicket(t), nil
}

func (m *memStore) UpdateTicket(_ context.Context, orgID, ticketID uuid.UUID, changes map[string]interface{}) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok || t.OrganizationID != orgID {
		return nil, errs.ErrTicketNotFound
	}
	for col, v := range changes {
		switch col {
		case "priority":
			t.Priority = v.(model.Priority)
		case "issue_description":
			t.IssueDescription = v.(string)
		case "ai_diagnosis":
			t.AIDiagnosis = v.(datatypes.JSONType[*model.Diagnosis])
		case "estimated_cost":
			t.EstimatedCost = v.(decimal.NullDecimal)
		case "approved_cost":
			t.ApprovedCost = v.(decimal.NullDecimal)
		case "actual_cost":
			t.ActualCost = v.(decimal.NullDecimal)
		case "estimated_completion":
			if v == nil {
				t.EstimatedCompletion = nil
			} else {
				at := v.(time.Time)
				t.EstimatedCompletion = &at
			}
		case "overdue_notified_at":
			t.OverdueNotifiedAt = nil
		case "tags":
			t.Tags = v.(pq.StringArray)
		default:
			panic("unexpected column " + col)
		}
	}
	t.UpdatedAt = m.now()
	return cloneTicket(t), nil
}

func (m *memStore) ListTickets(_ context.Context, orgID uuid.UUID, f ListFilter) ([]model.Ticket, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Ticket
	for _, t := range m.tickets {
		if t.OrganizationID != orgID {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(t.Code+" "+t.IssueDescription), strings.ToLower(f.Search)) {
			continue
		}
		all = append(all, *cloneTicket(t))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })
	total := int64(len(all))
	start := (f.Page - 1) * f.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + f.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *memStore) GetTicketDetail(ctx context.Context, orgID, ticketID uuid.UUID) (*model.Ticket, error) {
	t, err := m.FindTicket(ctx, orgID, ticketID)
	if err != nil {
		return nil, err
	}
	t.StatusLogs = m.logsFor(ticketID)
	return t, nil
}

func (m *memStore) ListStatusLogs(ctx context.Context, orgID, ticketID uuid.UUID) ([]model.TicketStatusLog, error) {
	if _, err := m.FindTicket(ctx, orgID, ticketID); err != nil {
		return nil, err
	}
	logs := m.logsFor(ticketID)
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

func (m *memStore) CreateNote(_ context.Context, note *model.TicketNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	note.ID = uuid.New()
	note.CreatedAt = m.now()
	m.notes = append(m.notes, *note)
	return nil
}

func (m *memStore) ListOverdueTickets(_ context.Context, now time.Time, limit int) ([]model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Ticket
	for _, t := range m.tickets {
		if t.AssignedToID == nil || t.EstimatedCompletion == nil || t.OverdueNotifiedAt != nil {
			continue
		}
		if t.CompletedAt != nil || t.Status.Finished() {
			continue
		}
		if t.EstimatedCompletion.Before(now) {
			out = append(out, *cloneTicket(t))
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkOverdueNotified(_ context.Context, ids []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if t, ok := m.tickets[id]; ok {
			stamp := at
			t.OverdueNotifiedAt = &stamp
		}
	}
	return nil
}

type published struct {
	channel string
	event   string
	payload any
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []published
}

func (b *recordingBroadcaster) Publish(_ context.Context, channel, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, published{channel: channel, event: event, payload: payload})
}

func (b *recordingBroadcaster) events() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.sent...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (n *recordingNotifier) Enqueue(note model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) notifications() []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Notification(nil), n.sent...)
}
