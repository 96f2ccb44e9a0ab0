// Package fiscal implements VAT arithmetic for invoice lines and totals.
// All functions are pure and deterministic; amounts are fixed-point with
// two decimal places, rounded half-up exactly once per line.
package fiscal

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLineItem marks malformed commercial input: negative unit
	// price, quantity or discount, or a discount exceeding the gross
	// amount. Non-retryable.
	ErrInvalidLineItem = errors.New("invalid_line_item")

	// ErrInvalidRate marks a VAT rate outside [0, 1).
	ErrInvalidRate = errors.New("invalid_vat_rate")
)

// LineAmounts is the fiscal decomposition of a single amount. The invariant
// Base + VAT == Total holds exactly for every value this package produces.
type LineAmounts struct {
	Base  decimal.Decimal
	VAT   decimal.Decimal
	Total decimal.Decimal
}

// Calculator derives base and VAT components from tax-inclusive amounts at a
// fixed rate.
type Calculator struct {
	rate decimal.Decimal
}

func NewCalculator(rate decimal.Decimal) (*Calculator, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidRate
	}
	return &Calculator{rate: rate}, nil
}

// ComputeLine decomposes one line. The unit price is tax-inclusive:
// net = unitPrice*quantity - discount, base = round2(net / (1+rate)),
// VAT = net - base. Rounding happens once here; downstream summation never
// re-rounds, so per-line amounts always add up to the invoice totals.
func (c *Calculator) ComputeLine(unitPrice, quantity, discount decimal.Decimal) (LineAmounts, error) {
	if unitPrice.IsNegative() || quantity.IsNegative() || discount.IsNegative() {
		return LineAmounts{}, ErrInvalidLineItem
	}
	gross := unitPrice.Mul(quantity)
	if discount.GreaterThan(gross) {
		return LineAmounts{}, ErrInvalidLineItem
	}
	net := gross.Sub(discount).Round(2)
	return c.split(net), nil
}

// ComputeInvoiceTotals sums already-rounded line components. It deliberately
// does not re-derive VAT from the summed total, which would drift from the
// per-line figures on large invoices.
func (c *Calculator) ComputeInvoiceTotals(lines []LineAmounts) LineAmounts {
	totals := LineAmounts{
		Base:  decimal.Zero,
		VAT:   decimal.Zero,
		Total: decimal.Zero,
	}
	for _, l := range lines {
		totals.Base = totals.Base.Add(l.Base)
		totals.VAT = totals.VAT.Add(l.VAT)
		totals.Total = totals.Total.Add(l.Total)
	}
	return totals
}

// DeriveFromTotal reverses a tax-inclusive total captured without line
// detail. This is an approximation: when line data exists, summing
// ComputeLine results is authoritative and the two derivations must not be
// mixed for the same invoice.
func (c *Calculator) DeriveFromTotal(total decimal.Decimal) (LineAmounts, error) {
	if total.IsNegative() {
		return LineAmounts{}, ErrInvalidLineItem
	}
	return c.split(total.Round(2)), nil
}

// split decomposes a tax-inclusive amount. VAT is the exact remainder after
// the base is rounded, so Base + VAT == Total with no residue.
func (c *Calculator) split(total decimal.Decimal) LineAmounts {
	base := total.Div(decimal.NewFromInt(1).Add(c.rate)).Round(2)
	return LineAmounts{
		Base:  base,
		VAT:   total.Sub(base),
		Total: total,
	}
}
