package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the issuance pipeline.
type Metrics struct {
	Submissions         *prometheus.CounterVec
	Outcomes            *prometheus.CounterVec
	ConfirmationSeconds prometheus.Histogram
	InFlight            prometheus.Gauge
}

// New creates and registers all issuance metrics.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_submissions_total",
			Help: "Verification submissions by result",
		}, []string{"result"}),
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_issuance_outcomes_total",
			Help: "Terminal issuance outcomes",
		}, []string{"outcome"}),
		ConfirmationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestor_ledger_confirmation_seconds",
			Help:    "Time from ledger submission to terminal confirmation status",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "attestor_issuance_in_flight",
			Help: "Issuance tasks currently processing",
		}),
	}
}

// IncSubmission records a submission result (accepted, conflict, invalid).
func (m *Metrics) IncSubmission(result string) {
	m.Submissions.WithLabelValues(result).Inc()
}

// IncOutcome records a terminal outcome (verified, failed).
func (m *Metrics) IncOutcome(outcome string) {
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// ObserveConfirmation records the ledger round-trip duration.
func (m *Metrics) ObserveConfirmation(d time.Duration) {
	m.ConfirmationSeconds.Observe(d.Seconds())
}
