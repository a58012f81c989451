package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fixly/ticket-service/internal/errs"
	"github.com/fixly/ticket-service/internal/events"
	"github.com/fixly/ticket-service/internal/model"
	"github.com/fixly/ticket-service/internal/ticketcode"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// TicketServicer is what the HTTP layer needs from the lifecycle manager.
type TicketServicer interface {
	Create(ctx context.Context, actor Actor, in CreateTicketInput) (*model.Ticket, error)
	ChangeStatus(ctx context.Context, actor Actor, ticketID uuid.UUID, in ChangeStatusInput) (*model.Ticket, error)
	Assign(ctx context.Context, actor Actor, ticketID uuid.UUID, assigneeID *uuid.UUID) (*model.Ticket, error)
	Update(ctx context.Context, actor Actor, ticketID uuid.UUID, in UpdateTicketInput) (*model.Ticket, error)
	AddNote(ctx context.Context, actor Actor, ticketID uuid.UUID, in AddNoteInput) (*model.TicketNote, error)
	Find(ctx context.Context, actor Actor, ticketID uuid.UUID) (*model.Ticket, error)
	Get(ctx context.Context, actor Actor, ticketID uuid.UUID) (*model.Ticket, error)
	List(ctx context.Context, actor Actor, filter ListFilter) (*ListResult, error)
	History(ctx context.Context, actor Actor, ticketID uuid.UUID) ([]model.TicketStatusLog, error)
}

// Actor is the identity every operation runs as. All lookups are confined to
// OrganizationID.
type Actor struct {
	OrganizationID uuid.UUID
	UserID         uuid.UUID
}

func (a Actor) valid() bool {
	return a.OrganizationID != uuid.Nil && a.UserID != uuid.Nil
}

type CreateTicketInput struct {
	CustomerID          uuid.UUID      `validate:"required"`
	DeviceID            uuid.UUID      `validate:"required"`
	AssignedToID        *uuid.UUID
	Priority            model.Priority `validate:"omitempty,oneof=low medium high urgent"`
	Channel             model.Channel  `validate:"omitempty,oneof=walk_in whatsapp phone email website"`
	IssueDescription    string         `validate:"min=10"`
	EstimatedCompletion *time.Time
	Tags                []string `validate:"dive,max=50"`
}

type ChangeStatusInput struct {
	Status string
	Note   string
}

// UpdateTicketInput holds the editable attributes; nil means unchanged.
// Status, code and assignee are not editable here.
type UpdateTicketInput struct {
	Priority                 *model.Priority
	IssueDescription         *string
	AIDiagnosis              *model.Diagnosis
	EstimatedCost            *decimal.Decimal
	ApprovedCost             *decimal.Decimal
	ActualCost               *decimal.Decimal
	EstimatedCompletion      *time.Time
	ClearEstimatedCompletion bool
	Tags                     *[]string
}

type AddNoteInput struct {
	Content       string
	IsAIGenerated bool
}

// ListFilter narrows and orders List. Zero values mean "any" / defaults.
type ListFilter struct {
	Status       *model.Status
	Priority     *model.Priority
	AssignedToID *uuid.UUID
	CustomerID   *uuid.UUID
	Search       string
	SortBy       string
	SortOrder    string
	Page         int
	PageSize     int
}

type ListResult struct {
	Tickets    []model.Ticket `json:"data"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
	minIssueLength  = 10
)

var sortColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"priority":   true,
	"status":     true,
}

type Options struct {
	// DefaultPrefix is used when the organization has no ticket prefix set.
	DefaultPrefix string
	Clock         clockwork.Clock
	Logger        *zap.Logger
}

type TicketService struct {
	store    TicketStore
	events   Broadcaster
	notifier Notifier
	clock    clockwork.Clock
	log      *zap.Logger
	prefix   string
	validate *validator.Validate
}

func NewTicketService(store TicketStore, broadcaster Broadcaster, notifier Notifier, opts Options) *TicketService {
	if opts.DefaultPrefix == "" {
		opts.DefaultPrefix = ticketcode.DefaultPrefix
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &TicketService{
		store:    store,
		events:   broadcaster,
		notifier: notifier,
		clock:    opts.Clock,
		log:      opts.Logger,
		prefix:   opts.DefaultPrefix,
		validate: validator.New(),
	}
}

// Create opens a ticket in status new together with its first audit entry.
func (s *TicketService) Create(ctx context.Context, actor Actor, in CreateTicketInput) (*model.Ticket, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}
	org := actor.OrganizationID

	if _, err := s.store.FindCustomer(ctx, org, in.CustomerID); err != nil {
		return nil, err
	}
	if _, err := s.store.FindDevice(ctx, org, in.CustomerID, in.DeviceID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrDeviceMismatch
		}
		return nil, err
	}
	if in.AssignedToID != nil && *in.AssignedToID != uuid.Nil {
		if err := s.checkAssignee(ctx, org, *in.AssignedToID); err != nil {
			return nil, err
		}
	} else {
		in.AssignedToID = nil
	}

	prefix, err := s.prefixFor(ctx, org)
	if err != nil {
		return nil, err
	}

	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if in.Channel == "" {
		in.Channel = model.ChannelWalkIn
	}
	tags := pq.StringArray{}
	if in.Tags != nil {
		tags = append(tags, in.Tags...)
	}

	t := &model.Ticket{
		OrganizationID:      org,
		CustomerID:          in.CustomerID,
		DeviceID:            in.DeviceID,
		AssignedToID:        in.AssignedToID,
		Status:              model.StatusNew,
		Priority:            in.Priority,
		Channel:             in.Channel,
		IssueDescription:    in.IssueDescription,
		AIDiagnosis:         datatypes.NewJSONType[*model.Diagnosis](nil),
		EstimatedCompletion: in.EstimatedCompletion,
		Tags:                tags,
		Attachments:         datatypes.JSONSlice[model.Attachment]{},
	}
	entry := &model.TicketStatusLog{
		ToStatus:    model.StatusNew,
		ChangedByID: actor.UserID,
		Notes:       "Ticket created",
	}
	if err := s.store.CreateTicket(ctx, t, entry, prefix, s.clock.Now().Year()); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	s.log.Info("ticket created",
		zap.String("org_id", org.String()),
		zap.String("ticket_id", t.ID.String()),
		zap.String("code", t.Code),
	)

	s.events.Publish(ctx, events.OrgChannel(org), events.TicketCreated, t)
	return t, nil
}

// ChangeStatus moves a ticket to in.Status and appends the audit entry in the
// same unit of work. completed_at is stamped when entering closed or
// picked_up and is left as is otherwise, including when a completed ticket is
// reopened.
func (s *TicketService) ChangeStatus(ctx context.Context, actor Actor, ticketID uuid.UUID, in ChangeStatusInput) (*model.Ticket, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	target, ok := model.ParseStatus(in.Status)
	if !ok {
		return nil, errs.ErrUnknownStatus
	}

	var from model.Status
	now := s.clock.Now()
	t, err := s.store.ChangeStatus(ctx, actor.OrganizationID, ticketID, func(t *model.Ticket) (*model.TicketStatusLog, error) {
		from = t.Status
		if !model.ValidTransition(from, target) {
			return nil, errs.Validation(fmt.Sprintf("cannot move ticket from %s to %s", from, target))
		}
		t.Status = target
		if target.Completes() {
			t.CompletedAt = &now
		}
		prev := from
		return &model.TicketStatusLog{
			TicketID:    t.ID,
			FromStatus:  &prev,
			ToStatus:    target,
			ChangedByID: actor.UserID,
			Notes:       in.Note,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket status changed",
		zap.String("ticket_id", t.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)

	payload := events.StatusChanged{Ticket: t, FromStatus: from, ToStatus: target}
	s.events.Publish(ctx, events.OrgChannel(actor.OrganizationID), events.TicketStatusChanged, payload)
	s.events.Publish(ctx, events.TicketChannel(t.ID), events.TicketStatusChanged, payload)
	return t, nil
}

// Assign sets or clears the technician. Status and audit trail are untouched.
func (s *TicketService) Assign(ctx context.Context, actor Actor, ticketID uuid.UUID, assigneeID *uuid.UUID) (*model.Ticket, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	org := actor.OrganizationID
	current, err := s.store.FindTicket(ctx, org, ticketID)
	if err != nil {
		return nil, err
	}
	if assigneeID != nil && *assigneeID == uuid.Nil {
		assigneeID = nil
	}
	if assigneeID != nil {
		if err := s.checkAssignee(ctx, org, *assigneeID); err != nil {
			return nil, err
		}
	}

	t, err := s.store.UpdateAssignee(ctx, org, ticketID, assigneeID)
	if err != nil {
		return nil, err
	}

	if assigneeID != nil {
		s.notifier.Enqueue(model.Notification{
			OrganizationID: org,
			UserID:         *assigneeID,
			Type:           model.NotificationTicketAssigned,
			Title:          "Ticket assigned to you",
			Body:           fmt.Sprintf("Ticket %s has been assigned to you", current.Code),
			Link:           ticketLink(ticketID),
		})
	}
	s.events.Publish(ctx, events.OrgChannel(org), events.TicketAssigned, t)
	return t, nil
}

// Update edits descriptive attributes of a ticket.
func (s *TicketService) Update(ctx context.Context, actor Actor, ticketID uuid.UUID, in UpdateTicketInput) (*model.Ticket, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	changes, err := updateChanges(in)
	if err != nil {
		return nil, err
	}
	t, err := s.store.UpdateTicket(ctx, actor.OrganizationID, ticketID, changes)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.OrgChannel(actor.OrganizationID), events.TicketUpdated, t)
	return t, nil
}

func updateChanges(in UpdateTicketInput) (map[string]interface{}, error) {
	changes := make(map[string]interface{})
	if in.Priority != nil {
		if !in.Priority.Valid() {
			return nil, errs.Validation("priority must be one of low, medium, high, urgent")
		}
		changes["priority"] = *in.Priority
	}
	if in.IssueDescription != nil {
		if len([]rune(*in.IssueDescription)) < minIssueLength {
			return nil, errs.ErrIssueTooShort
		}
		changes["issue_description"] = *in.IssueDescription
	}
	if in.AIDiagnosis != nil {
		changes["ai_diagnosis"] = datatypes.NewJSONType(in.AIDiagnosis)
	}
	costs := []struct {
		column string
		value  *decimal.Decimal
	}{
		{"estimated_cost", in.EstimatedCost},
		{"approved_cost", in.ApprovedCost},
		{"actual_cost", in.ActualCost},
	}
	for _, c := range costs {
		if c.value == nil {
			continue
		}
		if c.value.IsNegative() {
			return nil, errs.ErrNegativeCost
		}
		changes[c.column] = decimal.NewNullDecimal(*c.value)
	}
	switch {
	case in.ClearEstimatedCompletion:
		changes["estimated_completion"] = nil
		changes["overdue_notified_at"] = nil
	case in.EstimatedCompletion != nil:
		changes["estimated_completion"] = *in.EstimatedCompletion
		changes["overdue_notified_at"] = nil
	}
	if in.Tags != nil {
		tags := pq.StringArray{}
		changes["tags"] = append(tags, (*in.Tags)...)
	}
	if len(changes) == 0 {
		return nil, errs.ErrNoChanges
	}
	return changes, nil
}

// AddNote attaches a free-text note to a ticket.
func (s *TicketService) AddNote(ctx context.Context, actor Actor, ticketID uuid.UUID, in AddNoteInput) (*model.TicketNote, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, errs.ErrEmptyNote
	}
	if _, err := s.store.FindTicket(ctx, actor.OrganizationID, ticketID); err != nil {
		return nil, err
	}
	note := &model.TicketNote{
		TicketID:      ticketID,
		UserID:        actor.UserID,
		Content:       in.Content,
		IsAIGenerated: in.IsAIGenerated,
	}
	if err := s.store.CreateNote(ctx, note); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	payload := events.NoteAdded{TicketID: ticketID, Note: note}
	s.events.Publish(ctx, events.OrgChannel(actor.OrganizationID), events.TicketNoteAdded, payload)
	s.events.Publish(ctx, events.TicketChannel(ticketID), events.TicketNoteAdded, payload)
	return note, nil
}

// Find returns the bare ticket row.
func (s *TicketService) Find(ctx context.Context, actor Actor, ticketID uuid.UUID) (*model.Ticket, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	return s.store.FindTicket(ctx, actor.OrganizationID, ticketID)
}

// Get returns the ticket with customer, device, assignee, notes and history.
func (s *TicketService) Get(ctx context.Context, actor Actor, ticketID uuid.UUID) (*model.Ticket, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	return s.store.GetTicketDetail(ctx, actor.OrganizationID, ticketID)
}

func (s *TicketService) List(ctx context.Context, actor Actor, filter ListFilter) (*ListResult, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	items, total, err := s.store.ListTickets(ctx, actor.OrganizationID, filter)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	if items == nil {
		items = []model.Ticket{}
	}
	return &ListResult{
		Tickets:    items,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.PageSize))),
	}, nil
}

func normalizeFilter(f ListFilter) (ListFilter, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = defaultPageSize
	}
	if f.Page < 1 || f.PageSize < 1 || f.PageSize > maxPageSize {
		return f, errs.ErrInvalidPagination
	}
	if f.Status != nil && !f.Status.Valid() {
		return f, errs.ErrUnknownStatus
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return f, errs.Validation("priority must be one of low, medium, high, urgent")
	}
	if f.SortBy == "" {
		f.SortBy = "created_at"
	}
	if !sortColumns[f.SortBy] {
		return f, errs.Validation("sort_by must be one of created_at, updated_at, priority, status")
	}
	switch strings.ToLower(f.SortOrder) {
	case "":
		f.SortOrder = "desc"
	case "asc", "desc":
		f.SortOrder = strings.ToLower(f.SortOrder)
	default:
		return f, errs.Validation("sort_order must be asc or desc")
	}
	f.Search = strings.TrimSpace(f.Search)
	return f, nil
}

// History returns the audit trail of a ticket, newest first.
func (s *TicketService) History(ctx context.Context, actor Actor, ticketID uuid.UUID) ([]model.TicketStatusLog, error) {
	if !actor.valid() {
		return nil, errs.ErrMissingIdentity
	}
	return s.store.ListStatusLogs(ctx, actor.OrganizationID, ticketID)
}

// NotifyOverdue reminds assignees of tickets past their estimated completion.
// Each ticket is reminded once per estimate. Returns how many were notified.
func (s *TicketService) NotifyOverdue(ctx context.Context, batch int) (int, error) {
	now := s.clock.Now()
	tickets, err := s.store.ListOverdueTickets(ctx, now, batch)
	if err != nil {
		return 0, fmt.Errorf("list overdue tickets: %w", err)
	}
	if len(tickets) == 0 {
		return 0, nil
	}
	ids := make([]uuid.UUID, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}
	if err := s.store.MarkOverdueNotified(ctx, ids, now); err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	for _, t := range tickets {
		if t.AssignedToID == nil {
			continue
		}
		s.notifier.Enqueue(model.Notification{
			OrganizationID: t.OrganizationID,
			UserID:         *t.AssignedToID,
			Type:           model.NotificationTicketOverdue,
			Title:          "Ticket overdue",
			Body:           fmt.Sprintf("Ticket %s passed its estimated completion of %s", t.Code, t.EstimatedCompletion.Format("2006-01-02 15:04")),
			Link:           ticketLink(t.ID),
		})
	}
	return len(tickets), nil
}

func (s *TicketService) validateCreate(in CreateTicketInput) error {
	if in.CustomerID == uuid.Nil {
		return errs.Validation("customer_id is required")
	}
	if in.DeviceID == uuid.Nil {
		return errs.Validation("device_id is required")
	}
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errs.Validation(err.Error())
	}
	fe := verrs[0]
	switch fe.Field() {
	case "IssueDescription":
		return errs.ErrIssueTooShort
	case "CustomerID":
		return errs.Validation("customer_id is required")
	case "DeviceID":
		return errs.Validation("device_id is required")
	case "Priority":
		return errs.Validation("priority must be one of low, medium, high, urgent")
	case "Channel":
		return errs.Validation("channel must be one of walk_in, whatsapp, phone, email, website")
	}
	return errs.Validation(fmt.Sprintf("%s is invalid", fe.Field()))
}

func (s *TicketService) checkAssignee(ctx context.Context, orgID, userID uuid.UUID) error {
	if _, err := s.store.FindUser(ctx, orgID, userID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrAssigneeNotFound
		}
		return err
	}
	return nil
}

func (s *TicketService) prefixFor(ctx context.Context, orgID uuid.UUID) (string, error) {
	org, err := s.store.FindOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return s.prefix, nil
		}
		return "", fmt.Errorf("load organization: %w", err)
	}
	if p := org.Settings.Data().TicketPrefix; p != "" {
		return p, nil
	}
	return s.prefix, nil
}

func ticketLink(id uuid.UUID) string {
	return "/tickets/" + id.String()
}
