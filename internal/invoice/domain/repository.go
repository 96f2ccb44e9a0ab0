package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Transition describes the outcome applied to a claimed invoice. Fields left
// nil keep their current value.
type Transition struct {
	Status             InvoiceStatus
	LastError          *string
	AuthorityReference *string
	SubmittedAt        *time.Time
	// NextAttemptAt schedules the next retry for transient failures. Only
	// meaningful when Status stays SUBMITTING.
	NextAttemptAt *time.Time
}

// Repository is the durable invoice store and the single coordination point
// between workers. All cross-worker mutual exclusion goes through the
// advisory lease primitives; no other shared mutable state exists in the
// pipeline.
type Repository interface {
	Create(ctx context.Context, inv *Invoice, lines []InvoiceLine) error
	GetByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error)
	GetLines(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceLine, error)

	// FetchActionable returns invoices the worker may claim: PENDING rows
	// and SUBMITTING rows whose retry is due, excluding live leases, oldest
	// first, bounded by limit.
	FetchActionable(ctx context.Context, now time.Time, limit int) ([]Invoice, error)

	// TryAcquire takes the advisory lease and moves the invoice to
	// SUBMITTING, incrementing attempt_count. The caller's clock supplies
	// now so the expiry guard agrees with FetchActionable. Returns
	// ErrAlreadyLocked when a live lease is held, ErrInvalidTransition when
	// the invoice is already terminal.
	TryAcquire(ctx context.Context, invoiceID snowflake.ID, token string, now, until time.Time) error

	// ApplyOutcome atomically applies the transition and releases the
	// lease. Returns ErrStaleLock when the token no longer matches.
	ApplyOutcome(ctx context.Context, invoiceID snowflake.ID, token string, now time.Time, tr Transition) error

	// ReleaseExpiredLeases clears leases whose expiry passed, making the
	// rows claimable again. Returns the number of rows recovered.
	ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error)

	// NextInvoiceNumber allocates the terminal's next number. Assigned
	// exactly once per invoice, before the first submission attempt.
	NextInvoiceNumber(ctx context.Context, terminalID snowflake.ID) (string, error)

	GetTerminal(ctx context.Context, terminalID snowflake.ID) (*Terminal, error)
}
