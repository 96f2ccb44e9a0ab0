package domain

import "errors"

var (
	// ErrInvoiceNotFound is returned for lookups by unknown id or number.
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	// ErrTerminalNotFound is returned when an issuing terminal is unknown.
	ErrTerminalNotFound = errors.New("terminal_not_found")
	// ErrAlreadyLocked is returned when another worker holds the invoice
	// lease. The caller skips the invoice for this tick.
	ErrAlreadyLocked = errors.New("invoice_already_locked")
	// ErrStaleLock is returned when an outcome arrives with a lock token
	// that no longer matches. The transition is a no-op, not a failure.
	ErrStaleLock = errors.New("invoice_lock_stale")
	// ErrInvalidTransition is returned for transitions that would regress a
	// terminal status.
	ErrInvalidTransition = errors.New("invalid_status_transition")
	// ErrEmptyInvoice is returned when a creation request carries no lines.
	ErrEmptyInvoice = errors.New("invoice_has_no_lines")
	// ErrInvalidBuyer is returned when the buyer name is blank.
	ErrInvalidBuyer = errors.New("invalid_buyer")
)
