package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Transaction metrics
	TransactionsInitiated *prometheus.CounterVec
	TransactionsDecided   *prometheus.CounterVec
	Transitions           *prometheus.CounterVec
	TransitionErrors      *prometheus.CounterVec
	IdempotentReplays     prometheus.Counter
	ParcelLockConflicts   prometheus.Counter

	// Ledger metrics
	LedgerSubmits       *prometheus.CounterVec
	LedgerSubmitRetries prometheus.Counter
	ConfirmationWait    prometheus.Histogram

	// Reconciliation metrics
	ReconciliationRuns    prometheus.Counter
	ReconciliationRepairs *prometheus.CounterVec
	StalledRecords        prometheus.Gauge

	// Event metrics
	EventsDispatched *prometheus.CounterVec

	// Valuation metrics
	ValuationDeviations prometheus.Counter
}

// NewMetrics creates metrics registered on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates metrics registered on the given registerer. Tests
// pass a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TransactionsInitiated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_transactions_initiated_total",
				Help: "Total number of transactions initiated",
			},
			[]string{"type", "outcome"},
		),

		TransactionsDecided: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_transactions_decided_total",
				Help: "Total number of admin decisions processed",
			},
			[]string{"decision", "outcome"},
		),

		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_status_transitions_total",
				Help: "Total number of workflow status transitions",
			},
			[]string{"from", "to"},
		),

		TransitionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_transition_errors_total",
				Help: "Total number of failed workflow transitions",
			},
			[]string{"from", "error_type"},
		),

		IdempotentReplays: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_idempotent_replays_total",
				Help: "Total number of initiate calls answered from an existing record",
			},
		),

		ParcelLockConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_parcel_lock_conflicts_total",
				Help: "Total number of initiate calls that lost the parcel lock race",
			},
		),

		LedgerSubmits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_ledger_submits_total",
				Help: "Total number of ledger submissions",
			},
			[]string{"kind", "outcome"},
		),

		LedgerSubmitRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_ledger_submit_retries_total",
				Help: "Total number of ledger submission retries",
			},
		),

		ConfirmationWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engine_confirmation_wait_seconds",
				Help:    "Time spent waiting for ledger confirmation",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		ReconciliationRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_reconciliation_runs_total",
				Help: "Total number of reconciliation scans",
			},
		),

		ReconciliationRepairs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_reconciliation_repairs_total",
				Help: "Total number of reconciliation outcomes",
			},
			[]string{"outcome"},
		),

		StalledRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_stalled_records",
				Help: "Records past the grace period in the last reconciliation scan",
			},
		),

		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_events_dispatched_total",
				Help: "Total number of domain event deliveries",
			},
			[]string{"status"},
		),

		ValuationDeviations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_valuation_deviations_total",
				Help: "Sale amounts flagged as outside the predicted price band",
			},
		),
	}
}
