// Package worker drives periodic invoice submission. Each tick claims a
// bounded batch of actionable invoices, submits them with bounded
// concurrency and applies the classified outcome under the advisory lease.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/smallbiznis/taxbridge/internal/authority"
	"github.com/smallbiznis/taxbridge/internal/clock"
	"github.com/smallbiznis/taxbridge/internal/config"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/taxbridge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned when a required dependency is missing.
var ErrInvalidConfig = errors.New("worker: invalid configuration")

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Policy    *config.PolicyHolder
	Repo      invoicedomain.Repository
	Authority authority.Client
}

type Worker struct {
	log       *zap.Logger
	clock     clock.Clock
	policy    *config.PolicyHolder
	repo      invoicedomain.Repository
	authority authority.Client

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(p Params) (*Worker, error) {
	if p.Log == nil || p.Clock == nil || p.Policy == nil || p.Repo == nil || p.Authority == nil {
		return nil, ErrInvalidConfig
	}
	return &Worker{
		log:       p.Log.Named("worker").With(zap.String("component", "worker")),
		clock:     p.Clock,
		policy:    p.Policy,
		repo:      p.Repo,
		authority: p.Authority,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (w *Worker) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := w.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := w.log.With(zap.String("job", name))
	m := obsmetrics.Submission()
	m.IncJobRun(name)

	err := fn(ctx)
	m.ObserveJobDuration(name, w.clock.Now().Sub(start))
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the next tick picks up where this one
	// stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		m.IncJobTimeout(name)
	}
	m.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (w *Worker) RunOnce(parent context.Context) error {
	policy := w.policy.Current()
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"recovery_sweep", 30 * time.Second, w.RecoverySweepJob},
		{"submit_invoices", policy.TickInterval, func(ctx context.Context) error {
			return w.SubmitInvoicesJob(ctx, policy)
		}},
	}

	for _, job := range jobs {
		err = errors.Join(err, w.runJob(parent, job.Name, job.Timeout, job.Run))
	}

	return err
}

func (w *Worker) RunForever(ctx context.Context) {
	interval := w.policy.Current().TickInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := w.clock.Now().Add(interval)
	m := obsmetrics.Submission()

	for {
		runLag := w.clock.Now().Sub(nextRun)
		if runLag > 0 {
			m.ObserveRunLoopLag(runLag)
		}
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("worker run failed", zap.Error(err))
		}
		if current := w.policy.Current().TickInterval; current != interval {
			interval = current
			ticker.Reset(interval)
		}
		nextRun = nextRun.Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RecoverySweepJob clears leases abandoned by crashed workers so their
// invoices become claimable again on this tick.
func (w *Worker) RecoverySweepJob(ctx context.Context) error {
	recovered, err := w.repo.ReleaseExpiredLeases(ctx, w.clock.Now().UTC())
	if err != nil {
		return err
	}
	if recovered > 0 {
		obsmetrics.Submission().AddLeasesRecovered(recovered)
		w.log.Info("recovered expired leases", zap.Int64("count", recovered))
	}
	return nil
}
