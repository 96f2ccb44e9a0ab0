package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) Create(ctx context.Context, inv *domain.Invoice, lines []domain.InvoiceLine) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inv).Error; err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}
		for i := range lines {
			lines[i].InvoiceID = inv.ID
		}
		return tx.Create(&lines).Error
	})
}

func (r *repo) GetByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := r.db.WithContext(ctx).
		Where("invoice_number = ?", invoiceNumber).
		Take(&inv).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repo) GetLines(ctx context.Context, invoiceID snowflake.ID) ([]domain.InvoiceLine, error) {
	var lines []domain.InvoiceLine
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) FetchActionable(ctx context.Context, now time.Time, limit int) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := r.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM invoices
		 WHERE status IN (?, ?)
		   AND next_attempt_at <= ?
		   AND (locked_until IS NULL OR locked_until <= ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		domain.InvoiceStatusPending,
		domain.InvoiceStatusSubmitting,
		now,
		now,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) TryAcquire(ctx context.Context, invoiceID snowflake.ID, token string, now, until time.Time) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET lock_token = ?,
		     locked_until = ?,
		     status = ?,
		     attempt_count = attempt_count + 1,
		     updated_at = ?
		 WHERE id = ?
		   AND status IN (?, ?)
		   AND (lock_token IS NULL OR locked_until IS NULL OR locked_until <= ?)`,
		token,
		until,
		domain.InvoiceStatusSubmitting,
		now,
		invoiceID,
		domain.InvoiceStatusPending,
		domain.InvoiceStatusSubmitting,
		now,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var status domain.InvoiceStatus
	if err := r.db.WithContext(ctx).Raw(
		`SELECT status FROM invoices WHERE id = ?`,
		invoiceID,
	).Scan(&status).Error; err != nil {
		return err
	}
	switch {
	case status == "":
		return domain.ErrInvoiceNotFound
	case status.Terminal():
		return domain.ErrInvalidTransition
	default:
		return domain.ErrAlreadyLocked
	}
}

func (r *repo) ApplyOutcome(ctx context.Context, invoiceID snowflake.ID, token string, now time.Time, tr domain.Transition) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?,
		     last_error = ?,
		     authority_reference = COALESCE(?, authority_reference),
		     submitted_at = COALESCE(?, submitted_at),
		     next_attempt_at = COALESCE(?, next_attempt_at),
		     lock_token = NULL,
		     locked_until = NULL,
		     updated_at = ?
		 WHERE id = ? AND lock_token = ?`,
		tr.Status,
		tr.LastError,
		tr.AuthorityReference,
		tr.SubmittedAt,
		tr.NextAttemptAt,
		now,
		invoiceID,
		token,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrStaleLock
	}
	return nil
}

func (r *repo) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET lock_token = NULL,
		     locked_until = NULL,
		     updated_at = ?
		 WHERE lock_token IS NOT NULL
		   AND locked_until IS NOT NULL
		   AND locked_until <= ?
		   AND status = ?`,
		now,
		now,
		domain.InvoiceStatusSubmitting,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) NextInvoiceNumber(ctx context.Context, terminalID snowflake.ID) (string, error) {
	var number string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`UPDATE terminals
			 SET next_sequence = next_sequence + 1,
			     updated_at = ?
			 WHERE id = ?`,
			time.Now().UTC(),
			terminalID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrTerminalNotFound
		}

		var row struct {
			Prefix       string
			NextSequence int64
		}
		if err := tx.Raw(
			`SELECT prefix, next_sequence FROM terminals WHERE id = ?`,
			terminalID,
		).Scan(&row).Error; err != nil {
			return err
		}
		// next_sequence is the sequence of the NEXT invoice; the newly
		// allocated one is the value before the increment.
		number = fmt.Sprintf("%s-%08d", row.Prefix, row.NextSequence-1)
		return nil
	})
	if err != nil {
		return "", err
	}
	return number, nil
}

func (r *repo) GetTerminal(ctx context.Context, terminalID snowflake.ID) (*domain.Terminal, error) {
	var terminal domain.Terminal
	err := r.db.WithContext(ctx).
		Where("id = ?", terminalID).
		Take(&terminal).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrTerminalNotFound
		}
		return nil, err
	}
	return &terminal, nil
}
