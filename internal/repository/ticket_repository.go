// Package repository is the Postgres implementation of service.TicketStore.
// Every query that reads tenant data filters on organization_id, so rows of
// another organization are reported as not found.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fixly/ticket-service/internal/errs"
	"github.com/fixly/ticket-service/internal/model"
	"github.com/fixly/ticket-service/internal/service"
	"github.com/fixly/ticket-service/internal/ticketcode"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ensureCounterSQL = `
INSERT INTO ticket_code_counters (organization_id, prefix, year, last_value)
VALUES (?, ?, ?, 0)
ON CONFLICT (organization_id, prefix, year) DO NOTHING`

// bumpCounterSQL takes the row lock, so concurrent creates for the same
// organization/prefix/year queue here until the holder commits.
const bumpCounterSQL = `
UPDATE ticket_code_counters
SET last_value = CASE WHEN last_value + 1 > @seed THEN last_value + 1 ELSE @seed END
WHERE organization_id = @org AND prefix = @prefix AND year = @year
RETURNING last_value`

const searchSQL = `(LOWER(code) LIKE @q ESCAPE '\' OR LOWER(issue_description) LIKE @q ESCAPE '\'
 OR customer_id IN (SELECT id FROM customers WHERE LOWER(first_name) LIKE @q ESCAPE '\' OR LOWER(last_name) LIKE @q ESCAPE '\' OR phone LIKE @q ESCAPE '\')
 OR device_id IN (SELECT id FROM devices WHERE LOWER(brand) LIKE @q ESCAPE '\' OR LOWER(model) LIKE @q ESCAPE '\'))`

const prioritySortSQL = "CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END"

type TicketRepository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

var _ service.TicketStore = (*TicketRepository)(nil)

func (r *TicketRepository) FindTicket(ctx context.Context, orgID, ticketID uuid.UUID) (*model.Ticket, error) {
	return findTicket(r.db.WithContext(ctx), orgID, ticketID)
}

func findTicket(db *gorm.DB, orgID, ticketID uuid.UUID) (*model.Ticket, error) {
	var t model.Ticket
	err := db.Where("id = ? AND organization_id = ?", ticketID, orgID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TicketRepository) FindCustomer(ctx context.Context, orgID, customerID uuid.UUID) (*model.Customer, error) {
	var c model.Customer
	err := r.db.WithContext(ctx).Where("id = ? AND organization_id = ?", customerID, orgID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *TicketRepository) FindDevice(ctx context.Context, orgID, customerID, deviceID uuid.UUID) (*model.Device, error) {
	var d model.Device
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ? AND customer_id = ?", deviceID, orgID, customerID).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("device %w", errs.ErrNotFound)
		}
		return nil, err
	}
	return &d, nil
}

func (r *TicketRepository) FindUser(ctx context.Context, orgID, userID uuid.UUID) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Where("id = ? AND organization_id = ?", userID, orgID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %w", errs.ErrNotFound)
		}
		return nil, err
	}
	return &u, nil
}

func (r *TicketRepository) FindOrganization(ctx context.Context, orgID uuid.UUID) (*model.Organization, error) {
	var o model.Organization
	if err := r.db.WithContext(ctx).First(&o, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("organization %w", errs.ErrNotFound)
		}
		return nil, err
	}
	return &o, nil
}

// latestCode orders by length first so FX-2025-100000 sorts after FX-2025-99999.
func latestCode(db *gorm.DB, orgID uuid.UUID, prefix string, year int) (string, error) {
	var codes []string
	err := db.Model(&model.Ticket{}).
		Where(`organization_id = ? AND code LIKE ? ESCAPE '\'`, orgID, ticketcode.Pattern(prefix, year)).
		Order("length(code) DESC, code DESC").
		Limit(1).
		Pluck("code", &codes).Error
	if err != nil || len(codes) == 0 {
		return "", err
	}
	return codes[0], nil
}

// CreateTicket allocates the code from ticket_code_counters and inserts the
// ticket with its first audit entry in one transaction. The counter never
// drops below the greatest existing code, so rows created before the counter
// existed are never reissued.
func (r *TicketRepository) CreateTicket(ctx context.Context, t *model.Ticket, entry *model.TicketStatusLog, prefix string, year int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		latest, err := latestCode(tx, t.OrganizationID, prefix, year)
		if err != nil {
			return fmt.Errorf("latest code: %w", err)
		}
		if err := tx.Exec(ensureCounterSQL, t.OrganizationID, prefix, year).Error; err != nil {
			return fmt.Errorf("ensure code counter: %w", err)
		}
		var seq int
		err = tx.Raw(bumpCounterSQL,
			sql.Named("seed", ticketcode.Next(latest, prefix, year)),
			sql.Named("org", t.OrganizationID),
			sql.Named("prefix", prefix),
			sql.Named("year", year),
		).Scan(&seq).Error
		if err != nil {
			return fmt.Errorf("allocate code: %w", err)
		}
		t.Code = ticketcode.Format(prefix, year, seq)

		if err := tx.Omit(clause.Associations).Create(t).Error; err != nil {
			return err
		}
		entry.TicketID = t.ID
		return tx.Omit(clause.Associations).Create(entry).Error
	})
	return translate(err)
}

func (r *TicketRepository) ChangeStatus(ctx context.Context, orgID, ticketID uuid.UUID, apply func(t *model.Ticket) (*model.TicketStatusLog, error)) (*model.Ticket, error) {
	var out *model.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := findTicket(tx.Clauses(clause.Locking{Strength: "UPDATE"}), orgID, ticketID)
		if err != nil {
			return err
		}
		entry, err := apply(t)
		if err != nil {
			return err
		}
		if err := tx.Model(t).Select("status", "completed_at", "updated_at").Updates(t).Error; err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(entry).Error; err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r *TicketRepository) UpdateAssignee(ctx context.Context, orgID, ticketID uuid.UUID, assigneeID *uuid.UUID) (*model.Ticket, error) {
	var value interface{}
	if assigneeID != nil {
		value = *assigneeID
	}
	return r.UpdateTicket(ctx, orgID, ticketID, map[string]interface{}{"assigned_to_id": value})
}

func (r *TicketRepository) UpdateTicket(ctx context.Context, orgID, ticketID uuid.UUID, changes map[string]interface{}) (*model.Ticket, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&model.Ticket{}).
		Where("id = ? AND organization_id = ?", ticketID, orgID).
		Updates(changes)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errs.ErrTicketNotFound
	}
	return findTicket(db, orgID, ticketID)
}

func (r *TicketRepository) ListTickets(ctx context.Context, orgID uuid.UUID, f service.ListFilter) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := r.db.WithContext(ctx).Model(&model.Ticket{}).Where("organization_id = ?", orgID)
	if f.Status != nil {
		tx = tx.Where("status = ?", *f.Status)
	}
	if f.Priority != nil {
		tx = tx.Where("priority = ?", *f.Priority)
	}
	if f.AssignedToID != nil {
		tx = tx.Where("assigned_to_id = ?", *f.AssignedToID)
	}
	if f.CustomerID != nil {
		tx = tx.Where("customer_id = ?", *f.CustomerID)
	}
	if f.Search != "" {
		like := "%" + ticketcode.LikeEscaper.Replace(strings.ToLower(f.Search)) + "%"
		tx = tx.Where(searchSQL, sql.Named("q", like))
	}
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}
	order := f.SortBy + " " + dir
	if f.SortBy == "priority" {
		order = prioritySortSQL + " " + dir
	}
	err := tx.Preload("Customer").Preload("Device").Preload("AssignedTo").
		Order(order).Order("created_at DESC").
		Limit(f.PageSize).Offset((f.Page - 1) * f.PageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *TicketRepository) GetTicketDetail(ctx context.Context, orgID, ticketID uuid.UUID) (*model.Ticket, error) {
	db := r.db.WithContext(ctx).
		Preload("Customer").
		Preload("Device").
		Preload("AssignedTo").
		Preload("Notes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Preload("Notes.User").
		Preload("StatusLogs", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Preload("StatusLogs.ChangedBy")
	return findTicket(db, orgID, ticketID)
}

func (r *TicketRepository) ListStatusLogs(ctx context.Context, orgID, ticketID uuid.UUID) ([]model.TicketStatusLog, error) {
	db := r.db.WithContext(ctx)
	if _, err := findTicket(db, orgID, ticketID); err != nil {
		return nil, err
	}
	var logs []model.TicketStatusLog
	err := db.Preload("ChangedBy").
		Where("ticket_id = ?", ticketID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

func (r *TicketRepository) CreateNote(ctx context.Context, note *model.TicketNote) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(note).Error
}

// ListOverdueTickets spans all organizations; it feeds the background sweep.
func (r *TicketRepository) ListOverdueTickets(ctx context.Context, now time.Time, limit int) ([]model.Ticket, error) {
	var items []model.Ticket
	tx := r.db.WithContext(ctx).
		Where("assigned_to_id IS NOT NULL").
		Where("estimated_completion IS NOT NULL AND estimated_completion < ?", now).
		Where("overdue_notified_at IS NULL AND completed_at IS NULL").
		Where("status NOT IN ?", model.FinishedStatuses()).
		Order("estimated_completion ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	return items, tx.Find(&items).Error
}

func (r *TicketRepository) MarkOverdueNotified(ctx context.Context, ticketIDs []uuid.UUID, at time.Time) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("id IN ?", ticketIDs).
		UpdateColumn("overdue_notified_at", at).Error
}

// CreateNotification persists an in-app notification.
func (r *TicketRepository) CreateNotification(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// EachTicketBatch walks every ticket of every organization in primary key order.
func (r *TicketRepository) EachTicketBatch(ctx context.Context, size int, fn func([]model.Ticket) error) error {
	var batch []model.Ticket
	return r.db.WithContext(ctx).FindInBatches(&batch, size, func(_ *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.ErrDuplicateCode
	}
	return err
}
