package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	ierr "github.com/smallbiznis/installments/internal/errors"
	"gorm.io/gorm"
)

// Error reasons reported by the scheduler. Typed domain errors report their
// ierr code instead (invalid_state, version_conflict, ...).
const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonUnknown              = "unknown"
)

// Item outcomes counted per job.
const (
	OutcomeGenerated   = "generated"
	OutcomeCollected   = "collected"
	OutcomeRescheduled = "rescheduled"
	OutcomeWrittenOff  = "written_off"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// SchedulerMetrics tracks the dunning scheduler jobs.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobTimeouts *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	items       *prometheus.CounterVec
	tickLag     prometheus.Histogram
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the process wide scheduler metrics.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig registers the process wide scheduler metrics on first use.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = NewSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

func constLabels(cfg Config) prometheus.Labels {
	service, env := strings.TrimSpace(cfg.ServiceName), strings.TrimSpace(cfg.Environment)
	if service == "" {
		service = "installments"
	}
	if env == "" {
		env = "unknown"
	}
	return prometheus.Labels{"service": service, "env": env}
}

// NewSchedulerMetrics registers a fresh set of collectors on registerer.
func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)
	counter := func(name, help string, labelNames ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "installments",
			Subsystem:   "scheduler",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
	}

	m := &SchedulerMetrics{
		jobRuns:     counter("job_runs_total", "Scheduler job runs.", "job"),
		jobTimeouts: counter("job_timeouts_total", "Scheduler jobs that overran their timeout.", "job"),
		jobErrors:   counter("job_errors_total", "Scheduler job errors by reason.", "job", "reason"),
		items:       counter("items_total", "Installments handled by scheduler jobs, by outcome.", "job", "outcome"),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "installments",
			Subsystem:   "scheduler",
			Name:        "job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     durationBuckets,
			ConstLabels: labels,
		}, []string{"job"}),
		tickLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "installments",
			Subsystem:   "scheduler",
			Name:        "tick_lag_seconds",
			Help:        "Delay between the planned tick and the start of the run.",
			Buckets:     durationBuckets,
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors, m.items, m.tickLag)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError counts err under its classified reason.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddItems counts n installments handled by job with the given outcome.
func (m *SchedulerMetrics) AddItems(job, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.items.WithLabelValues(job, outcome).Add(float64(n))
}

func (m *SchedulerMetrics) ObserveTickLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.tickLag.Observe(max(lag, 0).Seconds())
}

// ClassifySchedulerJobReason maps err to a low-cardinality reason label.
func ClassifySchedulerJobReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return ReasonDBLockTimeout
		case "40001":
			return ReasonSerializationFailure
		case "23505":
			return ReasonUniqueViolation
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ReasonUniqueViolation
	}

	if code := ierr.Code(err); code != ierr.ErrCodeSystemError {
		return code
	}
	return ReasonUnknown
}
