package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CreateInvoiceLine is one requested commercial line. Fiscal amounts are
// always recomputed by the service; callers cannot supply them.
type CreateInvoiceLine struct {
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Discount    decimal.Decimal `json:"discount"`
}

// CreateInvoiceRequest creates a PENDING invoice for the worker to pick up.
type CreateInvoiceRequest struct {
	TerminalID    snowflake.ID        `json:"terminal_id,string"`
	BuyerTIN      *string             `json:"buyer_tin,omitempty"`
	BuyerName     string              `json:"buyer_name"`
	PaymentMethod string              `json:"payment_method"`
	Lines         []CreateInvoiceLine `json:"lines"`
}

// Service owns invoice creation and read access.
type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	GetByNumber(ctx context.Context, invoiceNumber string) (*Invoice, []InvoiceLine, error)
}
