package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxbridge/internal/clock"
	"github.com/smallbiznis/taxbridge/internal/config"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}))

	fc := clock.NewFakeClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := &Service{
		db:     db,
		log:    zap.NewNop(),
		clock:  fc,
		policy: config.NewStaticPolicyHolder(config.DefaultPolicy()),
	}
	return svc, db, fc, node
}

func insertInvoice(t *testing.T, db *gorm.DB, node *snowflake.Node, status invoicedomain.InvoiceStatus, total string, createdAt time.Time) {
	t.Helper()
	totalDec := decimal.RequireFromString(total)
	vat := totalDec.Mul(decimal.RequireFromString("0.175")).
		Div(decimal.RequireFromString("1.175")).Round(2)
	inv := invoicedomain.Invoice{
		ID:            node.Generate(),
		InvoiceNumber: fmt.Sprintf("POS1-%d", node.Generate()),
		TerminalID:    1,
		SellerTIN:     "20405123",
		BuyerName:     "Cash Customer",
		PaymentMethod: "CASH",
		BaseAmount:    totalDec.Sub(vat),
		VATAmount:     vat,
		InvoiceTotal:  totalDec,
		Status:        status,
		NextAttemptAt: createdAt,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	require.NoError(t, db.Create(&inv).Error)
}

func TestSummarizeCountsAndTotalsByStatus(t *testing.T) {
	svc, db, fc, node := setupService(t)
	now := fc.Now()

	insertInvoice(t, db, node, invoicedomain.InvoiceStatusProcessed, "1000.00", now.Add(-time.Hour))
	insertInvoice(t, db, node, invoicedomain.InvoiceStatusProcessed, "500.00", now.Add(-2*time.Hour))
	insertInvoice(t, db, node, invoicedomain.InvoiceStatusFailed, "250.00", now.Add(-3*time.Hour))
	insertInvoice(t, db, node, invoicedomain.InvoiceStatusPending, "100.00", now.Add(-time.Minute))

	summary, err := svc.Summarize(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(4), summary.Invoices)
	assert.True(t, summary.TotalAmount.Equal(decimal.RequireFromString("1850.00")),
		"total amount = %s", summary.TotalAmount)
	require.Len(t, summary.ByStatus, 4)

	byStatus := map[invoicedomain.InvoiceStatus]int{}
	for i, row := range summary.ByStatus {
		byStatus[row.Status] = i
	}

	processed := summary.ByStatus[byStatus[invoicedomain.InvoiceStatusProcessed]]
	assert.Equal(t, int64(2), processed.Count)
	assert.True(t, processed.Total.Equal(decimal.RequireFromString("1500.00")),
		"processed total = %s", processed.Total)

	failed := summary.ByStatus[byStatus[invoicedomain.InvoiceStatusFailed]]
	assert.Equal(t, int64(1), failed.Count)
	assert.True(t, failed.Total.Equal(decimal.RequireFromString("250.00")))

	submitting := summary.ByStatus[byStatus[invoicedomain.InvoiceStatusSubmitting]]
	assert.Equal(t, int64(0), submitting.Count)
	assert.True(t, submitting.Total.IsZero())
}

func TestSummarizeExcludesInvoicesOutsideWindow(t *testing.T) {
	svc, db, fc, node := setupService(t)
	now := fc.Now()

	insertInvoice(t, db, node, invoicedomain.InvoiceStatusProcessed, "1000.00", now.Add(-time.Hour))
	insertInvoice(t, db, node, invoicedomain.InvoiceStatusProcessed, "999.00", now.Add(-25*time.Hour))

	summary, err := svc.Summarize(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Invoices)
	assert.Equal(t, now.Add(-24*time.Hour), summary.WindowStart)
	assert.Equal(t, now, summary.WindowEnd)
}

func TestSummarizeZeroWindowUsesPolicyDefault(t *testing.T) {
	svc, db, fc, node := setupService(t)
	now := fc.Now()

	insertInvoice(t, db, node, invoicedomain.InvoiceStatusPending, "10.00", now.Add(-time.Hour))

	summary, err := svc.Summarize(context.Background(), 0)
	require.NoError(t, err)

	wantStart := now.Add(-config.DefaultPolicy().ReportWindow)
	assert.Equal(t, wantStart, summary.WindowStart)
	assert.Equal(t, int64(1), summary.Invoices)
}
