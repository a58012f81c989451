package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrganizationSettings is the part of organizations.settings this service
// reads. The column is owned by the organizations service and never written
// here.
type OrganizationSettings struct {
	TicketPrefix string `json:"ticketPrefix,omitempty"`
}

type Organization struct {
	ID        uuid.UUID                                `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string                                   `gorm:"type:varchar(255);not null" json:"name"`
	Settings  datatypes.JSONType[OrganizationSettings] `gorm:"type:jsonb" json:"settings"`
	CreatedAt time.Time                                `json:"created_at"`
	UpdatedAt time.Time                                `json:"updated_at"`
}

type User struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	FirstName      string    `gorm:"type:varchar(100)" json:"first_name"`
	LastName       string    `gorm:"type:varchar(100)" json:"last_name"`
	Email          string    `gorm:"type:varchar(255)" json:"email,omitempty"`
	Role           string    `gorm:"type:varchar(32)" json:"role,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

type Customer struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	FirstName      string    `gorm:"type:varchar(100)" json:"first_name"`
	LastName       string    `gorm:"type:varchar(100)" json:"last_name"`
	Phone          string    `gorm:"type:varchar(32);index" json:"phone"`
	Email          string    `gorm:"type:varchar(255)" json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Device struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	CustomerID     uuid.UUID `gorm:"type:uuid;index;not null" json:"customer_id"`
	Type           string    `gorm:"type:varchar(32)" json:"type"`
	Brand          string    `gorm:"type:varchar(100)" json:"brand"`
	Model          string    `gorm:"type:varchar(100)" json:"model"`
	SerialNumber   string    `gorm:"type:varchar(100)" json:"serial_number,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Diagnosis is the stored result of an AI-assisted diagnosis.
type Diagnosis struct {
	Summary        string   `json:"summary"`
	LikelyCauses   []string `json:"likely_causes,omitempty"`
	SuggestedParts []string `json:"suggested_parts,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	Model          string   `json:"model,omitempty"`
}

// Attachment references an uploaded file; the bytes live elsewhere.
type Attachment struct {
	URL         string    `json:"url"`
	Name        string    `json:"name,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type Ticket struct {
	ID                  uuid.UUID                        `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID      uuid.UUID                        `gorm:"type:uuid;not null" json:"organization_id"`
	Code                string                           `gorm:"type:varchar(32);not null" json:"code"`
	CustomerID          uuid.UUID                        `gorm:"type:uuid;index;not null" json:"customer_id"`
	DeviceID            uuid.UUID                        `gorm:"type:uuid;index;not null" json:"device_id"`
	AssignedToID        *uuid.UUID                       `gorm:"type:uuid;index" json:"assigned_to_id,omitempty"`
	Status              Status                           `gorm:"type:varchar(32);index;not null" json:"status"`
	Priority            Priority                         `gorm:"type:varchar(16);not null" json:"priority"`
	Channel             Channel                          `gorm:"type:varchar(16);not null" json:"channel"`
	IssueDescription    string                           `gorm:"type:text;not null" json:"issue_description"`
	AIDiagnosis         datatypes.JSONType[*Diagnosis]   `gorm:"column:ai_diagnosis;type:jsonb" json:"ai_diagnosis"`
	EstimatedCost       decimal.NullDecimal              `gorm:"type:numeric(12,2)" json:"estimated_cost"`
	ApprovedCost        decimal.NullDecimal              `gorm:"type:numeric(12,2)" json:"approved_cost"`
	ActualCost          decimal.NullDecimal              `gorm:"type:numeric(12,2)" json:"actual_cost"`
	EstimatedCompletion *time.Time                       `json:"estimated_completion,omitempty"`
	CompletedAt         *time.Time                       `json:"completed_at"`
	OverdueNotifiedAt   *time.Time                       `json:"-"`
	Tags                pq.StringArray                   `gorm:"type:text[]" json:"tags"`
	Attachments         datatypes.JSONSlice[Attachment]  `gorm:"type:jsonb" json:"attachments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Customer   *Customer         `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Device     *Device           `gorm:"foreignKey:DeviceID" json:"device,omitempty"`
	AssignedTo *User             `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
	Notes      []TicketNote      `gorm:"foreignKey:TicketID" json:"notes,omitempty"`
	StatusLogs []TicketStatusLog `gorm:"foreignKey:TicketID" json:"status_logs,omitempty"`
}

func (t *Ticket) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TicketStatusLog is one append-only audit entry. FromStatus is nil only for
// the creation entry. ChangedByID is a lookup-only reference.
type TicketStatusLog struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TicketID    uuid.UUID `gorm:"type:uuid;index;not null" json:"ticket_id"`
	FromStatus  *Status   `gorm:"type:varchar(32)" json:"from_status"`
	ToStatus    Status    `gorm:"type:varchar(32);not null" json:"to_status"`
	ChangedByID uuid.UUID `gorm:"type:uuid;not null" json:"changed_by_id"`
	Notes       string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	ChangedBy *User `gorm:"foreignKey:ChangedByID" json:"changed_by,omitempty"`
}

func (l *TicketStatusLog) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

type TicketNote struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TicketID      uuid.UUID `gorm:"type:uuid;index;not null" json:"ticket_id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	IsAIGenerated bool      `gorm:"column:is_ai_generated" json:"is_ai_generated"`
	CreatedAt     time.Time `json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (n *TicketNote) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

type Notification struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;index;not null" json:"organization_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	Type           string     `gorm:"type:varchar(64);not null" json:"type"`
	Title          string     `gorm:"type:varchar(255);not null" json:"title"`
	Body           string     `gorm:"type:text" json:"body"`
	Link           string     `gorm:"type:varchar(255)" json:"link,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// TicketCodeCounter holds the last issued code sequence per organization,
// prefix and year.
type TicketCodeCounter struct {
	OrganizationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Prefix         string    `gorm:"type:varchar(16);primaryKey"`
	Year           int       `gorm:"primaryKey"`
	LastValue      int       `gorm:"not null"`
}
