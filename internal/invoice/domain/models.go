// Package domain contains persistence models and contracts for fiscal
// invoices and their submission lifecycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice submission lifecycle states.
type InvoiceStatus string

const (
	// InvoiceStatusPending is the initial state of a created invoice.
	InvoiceStatusPending InvoiceStatus = "PENDING"
	// InvoiceStatusSubmitting marks an invoice claimed by the worker. An
	// invoice awaiting a retry remains SUBMITTING with next_attempt_at in
	// the future.
	InvoiceStatusSubmitting InvoiceStatus = "SUBMITTING"
	// InvoiceStatusProcessed is terminal: the authority accepted the
	// document and issued a reference.
	InvoiceStatusProcessed InvoiceStatus = "PROCESSED"
	// InvoiceStatusFailed is terminal: definitive rejection, malformed
	// totals, or retry ceiling. Kept for audit; never auto-requeued.
	InvoiceStatusFailed InvoiceStatus = "FAILED"
)

// Terminal reports whether no further automatic transition is allowed.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusProcessed || s == InvoiceStatusFailed
}

// Invoice is one fiscal document. The fiscal summary columns are derived by
// the calculator on every mutation and never hand-edited.
type Invoice struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	InvoiceNumber      string            `gorm:"type:text;not null;uniqueIndex"`
	TerminalID         snowflake.ID      `gorm:"not null;index"`
	SellerTIN          string            `gorm:"type:text;not null"`
	BuyerTIN           *string           `gorm:"type:text"`
	BuyerName          string            `gorm:"type:text;not null"`
	PaymentMethod      string            `gorm:"type:text;not null"`
	BaseAmount         decimal.Decimal   `gorm:"type:numeric(18,2);not null"`
	VATAmount          decimal.Decimal   `gorm:"type:numeric(18,2);not null"`
	InvoiceTotal       decimal.Decimal   `gorm:"type:numeric(18,2);not null"`
	Status             InvoiceStatus     `gorm:"type:text;not null;default:'PENDING';index"`
	AttemptCount       int               `gorm:"not null;default:0"`
	LastError          *string           `gorm:"type:text"`
	AuthorityReference *string           `gorm:"type:text"`
	LockToken          *string           `gorm:"type:text"`
	LockedUntil        *time.Time        `gorm:""`
	NextAttemptAt      time.Time         `gorm:"not null;index"`
	SubmittedAt        *time.Time        `gorm:""`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt          time.Time         `gorm:"not null;index"`
	UpdatedAt          time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one commercial line, owned exclusively by its invoice.
type InvoiceLine struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	InvoiceID   snowflake.ID    `gorm:"not null;index"`
	Description string          `gorm:"type:text;not null"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Quantity    decimal.Decimal `gorm:"type:numeric(18,3);not null"`
	Discount    decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	BaseAmount  decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	VATAmount   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CreatedAt   time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// Terminal is an issuing point of sale. Invoice numbers are assigned from its
// sequence, monotonic per terminal, exactly once per invoice.
type Terminal struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Prefix       string       `gorm:"type:text;not null;uniqueIndex"`
	SellerTIN    string       `gorm:"type:text;not null"`
	Name         string       `gorm:"type:text;not null"`
	NextSequence int64        `gorm:"not null;default:1"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Terminal) TableName() string { return "terminals" }
