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
	"github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"github.com/smallbiznis/taxbridge/internal/invoice/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (domain.Service, domain.Repository, *domain.Terminal) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Invoice{},
		&domain.InvoiceLine{},
		&domain.Terminal{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	terminal := &domain.Terminal{
		ID:           node.Generate(),
		Prefix:       "POS7",
		SellerTIN:    "20405123",
		Name:         "Till 7",
		NextSequence: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, db.Create(terminal).Error)

	repo := repository.Provide(db)
	svc := New(Params{
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(now),
		Policy: config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Repo:   repo,
	})
	return svc, repo, terminal
}

func TestCreateComputesFiscalAmountsAndAssignsNumber(t *testing.T) {
	svc, repo, terminal := setupService(t)

	inv, err := svc.Create(context.Background(), domain.CreateInvoiceRequest{
		TerminalID:    terminal.ID,
		BuyerName:     "Cash Customer",
		PaymentMethod: "CASH",
		Lines: []domain.CreateInvoiceLine{{
			Description: "General goods",
			UnitPrice:   decimal.RequireFromString("1000.00"),
			Quantity:    decimal.NewFromInt(1),
			Discount:    decimal.Zero,
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "POS7-00000001", inv.InvoiceNumber)
	assert.Equal(t, domain.InvoiceStatusPending, inv.Status)
	assert.Equal(t, terminal.SellerTIN, inv.SellerTIN)
	assert.True(t, inv.BaseAmount.Equal(decimal.RequireFromString("851.06")), "base = %s", inv.BaseAmount)
	assert.True(t, inv.VATAmount.Equal(decimal.RequireFromString("148.94")), "vat = %s", inv.VATAmount)
	assert.True(t, inv.InvoiceTotal.Equal(decimal.RequireFromString("1000.00")))

	lines, err := repo.GetLines(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].LineTotal.Equal(decimal.RequireFromString("1000.00")))
}

func TestCreateAssignsMonotonicNumbersPerTerminal(t *testing.T) {
	svc, _, terminal := setupService(t)

	for i := 1; i <= 3; i++ {
		inv, err := svc.Create(context.Background(), domain.CreateInvoiceRequest{
			TerminalID:    terminal.ID,
			BuyerName:     "Cash Customer",
			PaymentMethod: "CARD",
			Lines: []domain.CreateInvoiceLine{{
				Description: "Item",
				UnitPrice:   decimal.RequireFromString("117.50"),
				Quantity:    decimal.NewFromInt(1),
				Discount:    decimal.Zero,
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("POS7-%08d", i), inv.InvoiceNumber)
	}
}

func TestCreateRejectsEmptyInvoice(t *testing.T) {
	svc, _, terminal := setupService(t)

	_, err := svc.Create(context.Background(), domain.CreateInvoiceRequest{
		TerminalID:    terminal.ID,
		BuyerName:     "Cash Customer",
		PaymentMethod: "CASH",
	})
	assert.ErrorIs(t, err, domain.ErrEmptyInvoice)
}

func TestCreateRejectsUnknownTerminal(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Create(context.Background(), domain.CreateInvoiceRequest{
		TerminalID:    snowflake.ID(424242),
		BuyerName:     "Cash Customer",
		PaymentMethod: "CASH",
		Lines: []domain.CreateInvoiceLine{{
			Description: "Item",
			UnitPrice:   decimal.RequireFromString("10.00"),
			Quantity:    decimal.NewFromInt(1),
			Discount:    decimal.Zero,
		}},
	})
	assert.ErrorIs(t, err, domain.ErrTerminalNotFound)
}

func TestCreateRejectsBlankBuyer(t *testing.T) {
	svc, _, terminal := setupService(t)

	_, err := svc.Create(context.Background(), domain.CreateInvoiceRequest{
		TerminalID:    terminal.ID,
		BuyerName:     "   ",
		PaymentMethod: "CASH",
		Lines: []domain.CreateInvoiceLine{{
			Description: "Item",
			UnitPrice:   decimal.RequireFromString("10.00"),
			Quantity:    decimal.NewFromInt(1),
			Discount:    decimal.Zero,
		}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBuyer)
}

func TestCreateSumsMultipleLines(t *testing.T) {
	svc, _, terminal := setupService(t)

	inv, err := svc.Create(context.Background(), domain.CreateInvoiceRequest{
		TerminalID:    terminal.ID,
		BuyerName:     "Registered Buyer",
		PaymentMethod: "TRANSFER",
		Lines: []domain.CreateInvoiceLine{
			{
				Description: "Item A",
				UnitPrice:   decimal.RequireFromString("250000.00"),
				Quantity:    decimal.NewFromInt(1),
				Discount:    decimal.Zero,
			},
			{
				Description: "Item B",
				UnitPrice:   decimal.RequireFromString("150000.00"),
				Quantity:    decimal.NewFromInt(1),
				Discount:    decimal.Zero,
			},
		},
	})
	require.NoError(t, err)

	assert.True(t, inv.InvoiceTotal.Equal(decimal.RequireFromString("400000.00")),
		"total = %s", inv.InvoiceTotal)
	assert.True(t, inv.BaseAmount.Add(inv.VATAmount).Equal(inv.InvoiceTotal))
}
