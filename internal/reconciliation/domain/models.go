// Package domain defines the reconciliation report contract.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
)

// StatusBreakdown aggregates invoices sharing a lifecycle status inside the
// report window.
type StatusBreakdown struct {
	Status invoicedomain.InvoiceStatus `json:"status"`
	Count  int64                       `json:"count"`
	Base   decimal.Decimal             `json:"base_amount"`
	VAT    decimal.Decimal             `json:"vat_amount"`
	Total  decimal.Decimal             `json:"total_amount"`
}

// Summary is the reconciliation report over a trailing window. Every status
// appears exactly once, zero-valued when no invoice matched. TotalAmount is
// the tax-inclusive sum across all statuses.
type Summary struct {
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Invoices    int64             `json:"invoices"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	ByStatus    []StatusBreakdown `json:"by_status"`
}

// Service builds reconciliation reports.
type Service interface {
	// Summarize reports over the trailing window ending now. A zero window
	// falls back to the configured default.
	Summarize(ctx context.Context, window time.Duration) (Summary, error)
}
