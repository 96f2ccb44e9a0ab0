package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/taxbridge/internal/authority"
	"github.com/smallbiznis/taxbridge/internal/config"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/taxbridge/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	reasonTotalsMismatch = "totals_mismatch"
	reasonRetryCeiling   = "retry_ceiling_reached"
)

// SubmitInvoicesJob claims due invoices and submits them with bounded
// concurrency. One invoice failing never blocks the rest of the batch.
func (w *Worker) SubmitInvoicesJob(ctx context.Context, policy config.Policy) error {
	now := w.clock.Now().UTC()
	batch, err := w.repo.FetchActionable(ctx, now, policy.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	m := obsmetrics.Submission()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(policy.Concurrency)
	for i := range batch {
		inv := batch[i]
		g.Go(func() error {
			if err := w.processInvoice(gctx, &inv, policy); err != nil {
				// Lease races are expected between concurrent workers.
				if errors.Is(err, invoicedomain.ErrAlreadyLocked) || errors.Is(err, invoicedomain.ErrStaleLock) {
					m.IncLockConflict()
					return nil
				}
				w.log.Warn("invoice processing failed",
					zap.String("invoice_number", inv.InvoiceNumber),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.AddBatchProcessed("submit_invoices", len(batch))
	return gctx.Err()
}

func (w *Worker) processInvoice(ctx context.Context, inv *invoicedomain.Invoice, policy config.Policy) error {
	now := w.clock.Now().UTC()
	token := uuid.NewString()
	if err := w.repo.TryAcquire(ctx, inv.ID, token, now, now.Add(policy.LockTTL)); err != nil {
		if errors.Is(err, invoicedomain.ErrInvalidTransition) {
			// Already terminal; a competing worker finished it.
			return nil
		}
		return err
	}
	attempt := inv.AttemptCount + 1
	m := obsmetrics.Submission()

	// Malformed fiscal state never reaches the authority.
	if !inv.BaseAmount.Add(inv.VATAmount).Equal(inv.InvoiceTotal) {
		reason := reasonTotalsMismatch
		failedAt := w.clock.Now().UTC()
		return w.applyOutcome(ctx, inv, token, invoicedomain.Transition{
			Status:      invoicedomain.InvoiceStatusFailed,
			LastError:   &reason,
			SubmittedAt: &failedAt,
		})
	}

	// A retried invoice may already be fiscalised if the previous attempt's
	// response was lost. Ask before submitting again.
	if attempt > 1 {
		if settled, err := w.settleFromAuthority(ctx, inv, token, policy); err == nil && settled {
			return nil
		}
	}

	lines, err := w.repo.GetLines(ctx, inv.ID)
	if err != nil {
		return err
	}

	// Shutdown drains: cancelling the batch stops new claims, but a call
	// already in flight runs out its own request timeout.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.RequestTimeout)
	result, err := w.authority.Submit(submitCtx, inv, lines)
	cancel()
	if err != nil {
		result = authority.Result{Kind: authority.OutcomeTransient, Reason: err.Error()}
	}
	m.IncSubmission(string(result.Kind))

	switch result.Kind {
	case authority.OutcomeAccepted:
		submittedAt := w.clock.Now().UTC()
		m.IncInvoiceTransition(invoicedomain.InvoiceStatusSubmitting, invoicedomain.InvoiceStatusProcessed)
		w.log.Info("invoice processed",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.String("reference", result.Reference),
			zap.Int("attempt", attempt),
		)
		return w.applyOutcome(ctx, inv, token, invoicedomain.Transition{
			Status:             invoicedomain.InvoiceStatusProcessed,
			AuthorityReference: &result.Reference,
			SubmittedAt:        &submittedAt,
		})

	case authority.OutcomeRejected:
		failedAt := w.clock.Now().UTC()
		m.IncInvoiceTransition(invoicedomain.InvoiceStatusSubmitting, invoicedomain.InvoiceStatusFailed)
		w.log.Warn("invoice rejected",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.String("reason", result.Reason),
			zap.Int("attempt", attempt),
		)
		return w.applyOutcome(ctx, inv, token, invoicedomain.Transition{
			Status:      invoicedomain.InvoiceStatusFailed,
			LastError:   &result.Reason,
			SubmittedAt: &failedAt,
		})

	default:
		if attempt >= policy.MaxAttempts {
			reason := reasonRetryCeiling
			failedAt := w.clock.Now().UTC()
			m.IncInvoiceTransition(invoicedomain.InvoiceStatusSubmitting, invoicedomain.InvoiceStatusFailed)
			w.log.Warn("invoice exhausted retries",
				zap.String("invoice_number", inv.InvoiceNumber),
				zap.String("last_reason", result.Reason),
				zap.Int("attempt", attempt),
			)
			return w.applyOutcome(ctx, inv, token, invoicedomain.Transition{
				Status:      invoicedomain.InvoiceStatusFailed,
				LastError:   &reason,
				SubmittedAt: &failedAt,
			})
		}
		nextAttempt := w.clock.Now().UTC().Add(w.nextDelay(policy, attempt))
		w.log.Info("invoice submission deferred",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.String("reason", result.Reason),
			zap.Int("attempt", attempt),
			zap.Time("next_attempt_at", nextAttempt),
		)
		return w.applyOutcome(ctx, inv, token, invoicedomain.Transition{
			Status:        invoicedomain.InvoiceStatusSubmitting,
			LastError:     &result.Reason,
			NextAttemptAt: &nextAttempt,
		})
	}
}

// settleFromAuthority resolves an invoice the authority already knows about
// without a duplicate submission. Lookup failures are ignored; the regular
// submission path with its idempotency key remains the safety net.
func (w *Worker) settleFromAuthority(ctx context.Context, inv *invoicedomain.Invoice, token string, policy config.Policy) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.RequestTimeout)
	defer cancel()

	known, err := w.authority.Lookup(lookupCtx, inv.InvoiceNumber)
	if err != nil || known == nil || known.Kind != authority.OutcomeAccepted {
		return false, err
	}

	submittedAt := w.clock.Now().UTC()
	obsmetrics.Submission().IncInvoiceTransition(invoicedomain.InvoiceStatusSubmitting, invoicedomain.InvoiceStatusProcessed)
	w.log.Info("invoice settled from authority lookup",
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("reference", known.Reference),
	)
	if err := w.applyOutcome(ctx, inv, token, invoicedomain.Transition{
		Status:             invoicedomain.InvoiceStatusProcessed,
		AuthorityReference: &known.Reference,
		SubmittedAt:        &submittedAt,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// applyOutcome persists the transition. The write survives shutdown
// cancellation; dropping an accepted reference after the authority call
// finished would force a redundant lookup on restart.
func (w *Worker) applyOutcome(ctx context.Context, inv *invoicedomain.Invoice, token string, tr invoicedomain.Transition) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return w.repo.ApplyOutcome(writeCtx, inv.ID, token, w.clock.Now().UTC(), tr)
}
