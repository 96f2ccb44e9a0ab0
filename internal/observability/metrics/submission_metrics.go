// Package metrics exposes prometheus instruments for the submission
// pipeline. Instruments are registered once on the default registerer and
// shared through a singleton.
package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonDBLockTimeout    = "db_lock_timeout"
	JobReasonUniqueViolation  = "unique_violation"
	JobReasonLockContention   = "lock_contention"
	JobReasonDB               = "db"
	JobReasonUnknown          = "unknown"
)

// Config carries the constant labels stamped on every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// SubmissionMetrics captures submission pipeline health signals.
type SubmissionMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	lockConflicts  prometheus.Counter
	leasesRecovered prometheus.Counter
	runLoopLag     prometheus.Histogram
}

var (
	submissionMetricsOnce sync.Once
	submissionMetrics     *SubmissionMetrics
)

// Submission returns the singleton submission metrics registry.
func Submission() *SubmissionMetrics {
	return SubmissionWithConfig(Config{})
}

// SubmissionWithConfig returns the singleton using config labels.
func SubmissionWithConfig(cfg Config) *SubmissionMetrics {
	submissionMetricsOnce.Do(func() {
		submissionMetrics = newSubmissionMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return submissionMetrics
}

// ResetSubmissionMetricsForTest resets the singleton for tests. The default
// registerer is swapped for a fresh registry; restoring the previous one
// would make the next Submission call re-register collectors it already
// holds and panic.
func ResetSubmissionMetricsForTest() {
	registry := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	submissionMetricsOnce = sync.Once{}
	submissionMetrics = nil
}

func newSubmissionMetrics(registerer prometheus.Registerer, cfg Config) *SubmissionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "taxbridge"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "taxbridge_worker_job_runs_total",
		Help:        "Worker job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "taxbridge_worker_job_duration_seconds",
		Help:        "Worker job latency to keep submission batches inside the tick window.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "taxbridge_worker_job_timeouts_total",
		Help:        "Worker jobs cut off by their per-run deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "taxbridge_worker_job_errors_total",
		Help:        "Worker job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "taxbridge_worker_batch_processed_total",
		Help:        "Invoices processed per worker job to gauge throughput.",
		ConstLabels: constLabels,
	}, []string{"job"})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "taxbridge_submissions_total",
		Help:        "Submission attempts by classified authority outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "taxbridge_invoice_transition_total",
		Help:        "Invoice lifecycle transitions.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	lockConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "taxbridge_invoice_lock_conflicts_total",
		Help:        "Lease acquisitions lost to a concurrent worker.",
		ConstLabels: constLabels,
	})
	leasesRecovered := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "taxbridge_invoice_leases_recovered_total",
		Help:        "Expired leases cleared by the recovery sweep.",
		ConstLabels: constLabels,
	})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "taxbridge_worker_runloop_lag_seconds",
		Help:        "Worker run loop lag beyond the configured tick interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchProcessed,
		submissions,
		transitions,
		lockConflicts,
		leasesRecovered,
		runLoopLag,
	)

	return &SubmissionMetrics{
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobTimeouts:     jobTimeouts,
		jobErrors:       jobErrors,
		batchProcessed:  batchProcessed,
		submissions:     submissions,
		transitions:     transitions,
		lockConflicts:   lockConflicts,
		leasesRecovered: leasesRecovered,
		runLoopLag:      runLoopLag,
	}
}

// IncJobRun increments the run counter for a worker job.
func (m *SubmissionMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records worker job latency in seconds.
func (m *SubmissionMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the worker job.
func (m *SubmissionMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the worker job error counter with classification.
func (m *SubmissionMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// AddBatchProcessed increments the batch processed counter for a job by count.
func (m *SubmissionMetrics) AddBatchProcessed(job string, count int) {
	if m == nil || count <= 0 || m.batchProcessed == nil {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(count))
}

// IncSubmission counts one classified submission attempt.
func (m *SubmissionMetrics) IncSubmission(outcome string) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// IncInvoiceTransition increments an invoice lifecycle transition.
func (m *SubmissionMetrics) IncInvoiceTransition(from, to invoicedomain.InvoiceStatus) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// IncLockConflict counts a lease acquisition lost to another worker.
func (m *SubmissionMetrics) IncLockConflict() {
	if m == nil || m.lockConflicts == nil {
		return
	}
	m.lockConflicts.Inc()
}

// AddLeasesRecovered counts expired leases cleared by the sweep.
func (m *SubmissionMetrics) AddLeasesRecovered(count int64) {
	if m == nil || count <= 0 || m.leasesRecovered == nil {
		return
	}
	m.leasesRecovered.Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SubmissionMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifyJobReason maps worker job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case errors.Is(err, invoicedomain.ErrAlreadyLocked), errors.Is(err, invoicedomain.ErrStaleLock):
		return JobReasonLockContention
	case isDBLockTimeout(err):
		return JobReasonDBLockTimeout
	case isUniqueViolation(err):
		return JobReasonUniqueViolation
	case isDBError(err):
		return JobReasonDB
	default:
		return JobReasonUnknown
	}
}

func isDBLockTimeout(err error) bool {
	return hasPGCode(err, "55P03")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasPGCode(err, "23505")
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
