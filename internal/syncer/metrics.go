package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for sync runs.
type Metrics struct {
	UnitsTotal        *prometheus.CounterVec
	RetriesTotal      prometheus.Counter
	BatchDuration     prometheus.Histogram
	BatchTimeouts     prometheus.Counter
	PersistenceErrors *prometheus.CounterVec

	LastRunPositions prometheus.Gauge
	LastRunValue     prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics creates and registers the sync metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		UnitsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lpscope",
			Name:      "sync_units_total",
			Help:      "Candidate pairs seen by sync runs, labeled by outcome.",
		}, []string{"state"}),

		RetriesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "lpscope",
			Name:      "sync_retries_total",
			Help:      "Re-attempts after transient chain failures.",
		}),

		BatchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "lpscope",
			Name:      "sync_batch_duration_seconds",
			Help:      "Wall time of one sync batch.",
			Buckets:   prometheus.DefBuckets,
		}),

		BatchTimeouts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "lpscope",
			Name:      "sync_batch_timeouts_total",
			Help:      "Batches abandoned after hitting the batch timeout.",
		}),

		PersistenceErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lpscope",
			Name:      "sync_persistence_errors_total",
			Help:      "Store writes that failed, labeled by operation.",
		}, []string{"op"}),

		LastRunPositions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "lpscope",
			Name:      "sync_last_run_positions",
			Help:      "Positions committed by the last full run.",
		}),

		LastRunValue: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "lpscope",
			Name:      "sync_last_run_value",
			Help:      "Total value in the target token committed by the last full run.",
		}),

		LastRunTimestamp: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "lpscope",
			Name:      "sync_last_run_timestamp_seconds",
			Help:      "Unix time the last full run finished.",
		}),
	}
}

func (m *Metrics) unit(state UnitState) {
	if m != nil {
		m.UnitsTotal.WithLabelValues(string(state)).Inc()
	}
}

func (m *Metrics) retry() {
	if m != nil {
		m.RetriesTotal.Inc()
	}
}

func (m *Metrics) batch(seconds float64, timedOut bool) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(seconds)
	if timedOut {
		m.BatchTimeouts.Inc()
	}
}

func (m *Metrics) persistError(op string) {
	if m != nil {
		m.PersistenceErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) run(report Report) {
	if m == nil {
		return
	}
	m.LastRunPositions.Set(float64(report.Positions))
	m.LastRunValue.Set(report.TotalValueFloat())
	m.LastRunTimestamp.Set(float64(report.FinishedAt.Unix()))
}
