package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pledge outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeNotFound     = "not_found"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRejected     = "rejected"
	OutcomeError        = "error"
)

// Metrics provides observability for the blood bank module.
// Tracks record creation, pledge outcomes and pledge latency.
type Metrics struct {
	RecordsCreated  *prometheus.CounterVec
	Pledges         *prometheus.CounterVec
	PintsPledged    *prometheus.CounterVec
	PledgeRollbacks prometheus.Counter
	PledgeDuration  *prometheus.HistogramVec
}

// New registers every blood bank metric with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_records_created_total",
			Help: "Total number of records created, by kind",
		}, []string{"kind"}),
		Pledges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_pledges_total",
			Help: "Total number of pledge attempts, by recipient kind and outcome",
		}, []string{"kind", "outcome"}),
		PintsPledged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_pints_pledged_total",
			Help: "Total pints pledged in successful pledges, by recipient kind",
		}, []string{"kind"}),
		PledgeRollbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "bloodlink_pledge_rollbacks_total",
			Help: "Pledges whose partial writes were undone after a storage failure",
		}),
		PledgeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodlink_pledge_duration_seconds",
			Help:    "Duration of pledge operations including both writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncrementRecordCreated(kind string) {
	m.RecordsCreated.WithLabelValues(kind).Inc()
}

// ObservePledge records the outcome and, on success, the pints moved.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObservePledge(kind, outcome string, pints uint32, start time.Time) {
	m.Pledges.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeSuccess {
		m.PintsPledged.WithLabelValues(kind).Add(float64(pints))
	}
	m.PledgeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRollback() {
	m.PledgeRollbacks.Inc()
}
