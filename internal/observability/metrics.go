package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement engine.
type Metrics struct {
	// --- Engine operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Settlement pipeline ---
	SettlementsApplied   prometheus.Counter
	SettlementDuplicates prometheus.Counter
	SnapshotsOpened      *prometheus.CounterVec
	SnapshotsClosed      *prometheus.CounterVec
	ProfitWithdrawn      prometheus.Counter
	InvariantViolations  *prometheus.CounterVec

	// --- Ingestion ---
	ObservationsIngested prometheus.Counter
	ObservationsRejected *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_ops_applied_total",
			Help: "Mutating operations committed",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_ops_rejected_total",
			Help: "Mutating operations rejected (validation, invariant, not_found)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_op_duration_seconds",
			Help:    "Duration of one mutating operation including commit",
			Buckets: opBuckets,
		}, []string{"op"}),

		SettlementsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settle_settlements_applied_total",
			Help: "Settlement payments accepted and committed",
		}),

		SettlementDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settle_settlement_duplicates_total",
			Help: "Settlement requests answered from a prior committed result",
		}),

		SnapshotsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_exposure_snapshots_opened_total",
			Help: "Exposure snapshots frozen",
		}, []string{"kind"}),

		SnapshotsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_exposure_snapshots_closed_total",
			Help: "Exposure snapshots closed",
		}, []string{"kind", "reason"}),

		ProfitWithdrawn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settle_profit_withdrawals_total",
			Help: "Immediate profit withdrawals committed",
		}),

		InvariantViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_invariant_violations_total",
			Help: "Auditor checks that aborted a transaction",
		}, []string{"check"}),

		ObservationsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settle_balance_observations_total",
			Help: "Balance observations applied",
		}),

		ObservationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_balance_observations_rejected_total",
			Help: "Balance observations rejected",
		}, []string{"reason"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
