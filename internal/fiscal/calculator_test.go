package fiscal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCalc(t *testing.T, rate string) *Calculator {
	t.Helper()
	c, err := NewCalculator(decimal.RequireFromString(rate))
	require.NoError(t, err)
	return c
}

func TestNewCalculatorRejectsBadRate(t *testing.T) {
	_, err := NewCalculator(decimal.RequireFromString("-0.01"))
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewCalculator(decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestComputeLineStandardRate(t *testing.T) {
	c := mustCalc(t, "0.175")

	got, err := c.ComputeLine(
		decimal.RequireFromString("1000"),
		decimal.NewFromInt(1),
		decimal.Zero,
	)
	require.NoError(t, err)

	assert.Equal(t, "851.06", got.Base.StringFixed(2))
	assert.Equal(t, "148.94", got.VAT.StringFixed(2))
	assert.Equal(t, "1000.00", got.Total.StringFixed(2))
	assert.True(t, got.Base.Add(got.VAT).Equal(got.Total))
}

func TestComputeLineAppliesQuantityAndDiscount(t *testing.T) {
	c := mustCalc(t, "0.175")

	got, err := c.ComputeLine(
		decimal.RequireFromString("117.50"),
		decimal.NewFromInt(4),
		decimal.RequireFromString("70.00"),
	)
	require.NoError(t, err)

	// 117.50*4 - 70.00 = 400.00 gross
	assert.Equal(t, "400.00", got.Total.StringFixed(2))
	assert.True(t, got.Base.Add(got.VAT).Equal(got.Total))
}

func TestComputeLineRejectsMalformedInput(t *testing.T) {
	c := mustCalc(t, "0.175")

	cases := []struct {
		name                          string
		unitPrice, quantity, discount string
	}{
		{"negative unit price", "-1", "1", "0"},
		{"negative quantity", "10", "-2", "0"},
		{"negative discount", "10", "1", "-5"},
		{"discount exceeds gross", "10", "1", "10.01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.ComputeLine(
				decimal.RequireFromString(tc.unitPrice),
				decimal.RequireFromString(tc.quantity),
				decimal.RequireFromString(tc.discount),
			)
			assert.ErrorIs(t, err, ErrInvalidLineItem)
		})
	}
}

func TestComputeInvoiceTotalsSumsRoundedLines(t *testing.T) {
	c := mustCalc(t, "0.175")

	a, err := c.ComputeLine(decimal.RequireFromString("250000"), decimal.NewFromInt(1), decimal.Zero)
	require.NoError(t, err)
	b, err := c.ComputeLine(decimal.RequireFromString("150000"), decimal.NewFromInt(1), decimal.Zero)
	require.NoError(t, err)

	totals := c.ComputeInvoiceTotals([]LineAmounts{a, b})
	assert.Equal(t, "400000.00", totals.Total.StringFixed(2))
	assert.True(t, totals.Base.Equal(a.Base.Add(b.Base)))
	assert.True(t, totals.VAT.Equal(a.VAT.Add(b.VAT)))
	assert.True(t, totals.Base.Add(totals.VAT).Equal(totals.Total))
}

func TestComputeInvoiceTotalsEmpty(t *testing.T) {
	c := mustCalc(t, "0.175")
	totals := c.ComputeInvoiceTotals(nil)
	assert.True(t, totals.Total.IsZero())
}

func TestDeriveFromTotalAgreesWithSingleLine(t *testing.T) {
	c := mustCalc(t, "0.175")
	tolerance := decimal.RequireFromString("0.01")

	for _, raw := range []string{"1000", "999.99", "0.01", "123456.78", "3.57"} {
		total := decimal.RequireFromString(raw)

		derived, err := c.DeriveFromTotal(total)
		require.NoError(t, err)
		line, err := c.ComputeLine(total, decimal.NewFromInt(1), decimal.Zero)
		require.NoError(t, err)

		diff := derived.VAT.Sub(line.VAT).Abs()
		assert.True(t, diff.LessThanOrEqual(tolerance),
			"total %s: derived vat %s vs line vat %s", raw, derived.VAT, line.VAT)
		assert.True(t, derived.Base.Add(derived.VAT).Equal(derived.Total))
	}
}

func TestDeriveFromTotalRejectsNegative(t *testing.T) {
	c := mustCalc(t, "0.175")
	_, err := c.DeriveFromTotal(decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, ErrInvalidLineItem)
}

func TestZeroRatePassesAmountsThrough(t *testing.T) {
	c := mustCalc(t, "0")

	got, err := c.ComputeLine(decimal.RequireFromString("50.00"), decimal.NewFromInt(2), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.Base.StringFixed(2))
	assert.True(t, got.VAT.IsZero())
}
