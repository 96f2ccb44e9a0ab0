package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/taxbridge/internal/clock"
	"github.com/smallbiznis/taxbridge/internal/config"
	"github.com/smallbiznis/taxbridge/internal/fiscal"
	"github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Policy *config.PolicyHolder
	Repo   domain.Repository
}

type Service struct {
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	policy *config.PolicyHolder
	repo   domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		log:    p.Log.Named("invoice.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		policy: p.Policy,
		repo:   p.Repo,
	}
}

// Create validates the request, recomputes every fiscal amount from the raw
// line inputs, allocates the terminal's next invoice number and stores the
// invoice as PENDING. Totals supplied by callers are ignored.
func (s *Service) Create(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.Invoice, error) {
	if len(req.Lines) == 0 {
		return nil, domain.ErrEmptyInvoice
	}
	buyerName := strings.TrimSpace(req.BuyerName)
	if buyerName == "" {
		return nil, domain.ErrInvalidBuyer
	}

	terminal, err := s.repo.GetTerminal(ctx, req.TerminalID)
	if err != nil {
		return nil, err
	}

	calc, err := fiscal.NewCalculator(s.policy.Current().VATRate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	lines := make([]domain.InvoiceLine, 0, len(req.Lines))
	perLine := make([]fiscal.LineAmounts, 0, len(req.Lines))
	for _, in := range req.Lines {
		amounts, err := calc.ComputeLine(in.UnitPrice, in.Quantity, in.Discount)
		if err != nil {
			return nil, err
		}
		perLine = append(perLine, amounts)
		lines = append(lines, domain.InvoiceLine{
			ID:          s.genID.Generate(),
			Description: strings.TrimSpace(in.Description),
			UnitPrice:   in.UnitPrice,
			Quantity:    in.Quantity,
			Discount:    in.Discount,
			BaseAmount:  amounts.Base,
			VATAmount:   amounts.VAT,
			LineTotal:   amounts.Total,
			CreatedAt:   now,
		})
	}
	totals := calc.ComputeInvoiceTotals(perLine)

	number, err := s.repo.NextInvoiceNumber(ctx, terminal.ID)
	if err != nil {
		return nil, err
	}

	inv := &domain.Invoice{
		ID:            s.genID.Generate(),
		InvoiceNumber: number,
		TerminalID:    terminal.ID,
		SellerTIN:     terminal.SellerTIN,
		BuyerTIN:      req.BuyerTIN,
		BuyerName:     buyerName,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		BaseAmount:    totals.Base,
		VATAmount:     totals.VAT,
		InvoiceTotal:  totals.Total,
		Status:        domain.InvoiceStatusPending,
		NextAttemptAt: now,
		Metadata:      datatypes.JSONMap{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, inv, lines); err != nil {
		return nil, err
	}

	s.log.Info("invoice created",
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("terminal", terminal.Prefix),
		zap.String("total", inv.InvoiceTotal.StringFixed(2)),
	)
	return inv, nil
}

func (s *Service) GetByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, []domain.InvoiceLine, error) {
	inv, err := s.repo.GetByNumber(ctx, invoiceNumber)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.repo.GetLines(ctx, inv.ID)
	if err != nil {
		return nil, nil, err
	}
	return inv, lines, nil
}
