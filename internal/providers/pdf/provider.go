// Package pdf renders fiscal documents for download.
package pdf

import (
	"context"
	"io"

	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"go.uber.org/fx"
)

// Provider renders a stored invoice with its fiscal amounts and, once
// processed, the authority reference.
type Provider interface {
	RenderInvoice(ctx context.Context, inv *invoicedomain.Invoice, lines []invoicedomain.InvoiceLine) (io.Reader, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)
