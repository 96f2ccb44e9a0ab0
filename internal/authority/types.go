// Package authority talks to the tax authority's e-invoicing endpoint. It is
// a thin adapter: one submission per call, no retries, and every failure
// classified for the worker to act on.
package authority

import (
	"context"

	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
)

// OutcomeKind classifies one submission attempt.
type OutcomeKind string

const (
	// OutcomeAccepted means the authority fiscalised the invoice and
	// issued a reference.
	OutcomeAccepted OutcomeKind = "ACCEPTED"
	// OutcomeRejected is a definitive business refusal. Retrying the same
	// document can never succeed.
	OutcomeRejected OutcomeKind = "REJECTED"
	// OutcomeTransient covers timeouts, connection failures, throttling
	// and server errors. The attempt may be retried later.
	OutcomeTransient OutcomeKind = "TRANSIENT"
)

// Result is the classified outcome of a single submission attempt.
type Result struct {
	Kind      OutcomeKind
	Reference string
	Reason    string
}

// Client submits invoices to the authority. Implementations must not retry
// internally; retry policy belongs to the worker.
type Client interface {
	Submit(ctx context.Context, inv *invoicedomain.Invoice, lines []invoicedomain.InvoiceLine) (Result, error)

	// Lookup reports the authority-side status of a previously submitted
	// invoice number. Returns nil when the authority has no record of it.
	Lookup(ctx context.Context, invoiceNumber string) (*Result, error)
}
