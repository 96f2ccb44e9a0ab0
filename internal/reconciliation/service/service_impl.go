package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxbridge/internal/clock"
	"github.com/smallbiznis/taxbridge/internal/config"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"github.com/smallbiznis/taxbridge/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Policy *config.PolicyHolder
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	policy *config.PolicyHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("reconciliation.service"),
		clock:  p.Clock,
		policy: p.Policy,
	}
}

type statusRow struct {
	Status invoicedomain.InvoiceStatus
	Count  int64
	Base   decimal.Decimal
	VAT    decimal.Decimal
	Total  decimal.Decimal
}

func (s *Service) Summarize(ctx context.Context, window time.Duration) (domain.Summary, error) {
	if window <= 0 {
		window = s.policy.Current().ReportWindow
	}
	end := s.clock.Now().UTC()
	start := end.Add(-window)

	var rows []statusRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT status,
		        COUNT(1) AS count,
		        COALESCE(SUM(base_amount), 0) AS base,
		        COALESCE(SUM(vat_amount), 0) AS vat,
		        COALESCE(SUM(invoice_total), 0) AS total
		 FROM invoices
		 WHERE created_at >= ? AND created_at < ?
		 GROUP BY status`,
		start,
		end,
	).Scan(&rows).Error
	if err != nil {
		return domain.Summary{}, err
	}

	byStatus := map[invoicedomain.InvoiceStatus]statusRow{}
	for _, row := range rows {
		byStatus[row.Status] = row
	}

	summary := domain.Summary{
		WindowStart: start,
		WindowEnd:   end,
		TotalAmount: decimal.Zero,
	}
	for _, status := range []invoicedomain.InvoiceStatus{
		invoicedomain.InvoiceStatusPending,
		invoicedomain.InvoiceStatusSubmitting,
		invoicedomain.InvoiceStatusProcessed,
		invoicedomain.InvoiceStatusFailed,
	} {
		row := byStatus[status]
		summary.Invoices += row.Count
		summary.TotalAmount = summary.TotalAmount.Add(row.Total)
		summary.ByStatus = append(summary.ByStatus, domain.StatusBreakdown{
			Status: status,
			Count:  row.Count,
			Base:   row.Base,
			VAT:    row.VAT,
			Total:  row.Total,
		})
	}
	return summary, nil
}
