package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RetryOutcomeSucceeded = "succeeded"
	RetryOutcomeFailed    = "failed"
)

// DunningMetrics counts installment state transitions and retry outcomes.
type DunningMetrics struct {
	transitions   *prometheus.CounterVec
	retryAttempts *prometheus.CounterVec
	lockWait      prometheus.Observer
}

var (
	dunningMetricsOnce sync.Once
	dunningMetrics     *DunningMetrics
)

func Dunning() *DunningMetrics {
	return DunningWithConfig(Config{})
}

func DunningWithConfig(cfg Config) *DunningMetrics {
	dunningMetricsOnce.Do(func() {
		dunningMetrics = NewDunningMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return dunningMetrics
}

// NewDunningMetrics registers a fresh set of collectors on registerer.
func NewDunningMetrics(registerer prometheus.Registerer, cfg Config) *DunningMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "installments_dunning_transitions_total",
		Help:        "Installment state transitions by operation.",
		ConstLabels: labels,
	}, []string{"operation", "from", "to"})
	retryAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "installments_dunning_retry_attempts_total",
		Help:        "Payment retry attempts by outcome.",
		ConstLabels: labels,
	}, []string{"outcome"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "installments_dunning_lock_wait_seconds",
		Help:        "Time spent waiting for the per-installment lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: labels,
	})

	registerer.MustRegister(transitions, retryAttempts, lockWait)

	return &DunningMetrics{
		transitions:   transitions,
		retryAttempts: retryAttempts,
		lockWait:      lockWait,
	}
}

func (m *DunningMetrics) IncTransition(operation, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, from, to).Inc()
}

func (m *DunningMetrics) IncRetryAttempt(succeeded bool) {
	if m == nil {
		return
	}
	outcome := RetryOutcomeFailed
	if succeeded {
		outcome = RetryOutcomeSucceeded
	}
	m.retryAttempts.WithLabelValues(outcome).Inc()
}

func (m *DunningMetrics) ObserveLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.Observe(seconds)
}
