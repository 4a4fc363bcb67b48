package matching

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRankingRequests     = "ranking_requests_total"
	MetricRankingDuration     = "ranking_duration_seconds"
	MetricRankingCandidates   = "ranking_candidates"
	MetricSignalUnavailable   = "ranking_signal_unavailable_total"
	MetricFeedbackEvents      = "ranking_feedback_events_total"
	MetricLedgerWriteFailures = "ranking_ledger_write_failures_total"
)

// Request statuses.
const (
	statusOK        = "ok"
	statusEmpty     = "empty"
	statusNotFound  = "not_found"
	statusCancelled = "cancelled"
	statusError     = "error"
)

// Metrics holds the ranking collectors.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       prometheus.Histogram
	candidates     prometheus.Histogram
	unavailable    *prometheus.CounterVec
	feedback       *prometheus.CounterVec
	ledgerFailures prometheus.Counter
}

// NewMetrics creates unregistered ranking collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingRequests,
				Help: "Ranking calls by outcome",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricRankingDuration,
				Help:    "End-to-end ranking latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		candidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricRankingCandidates,
				Help:    "Candidates scored per ranking call",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		unavailable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSignalUnavailable,
				Help: "Signal scores that degraded to unavailable, by signal and reason",
			},
			[]string{"signal", "reason"},
		),
		feedback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFeedbackEvents,
				Help: "Recorded feedback verdicts",
			},
			[]string{"verdict", "experiment"},
		),
		ledgerFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricLedgerWriteFailures,
				Help: "Ranking calls whose matches could not be written to the ledger",
			},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.duration,
		m.candidates,
		m.unavailable,
		m.feedback,
		m.ledgerFailures,
	}
}

func (m *Metrics) observeRequest(status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) observeCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(n))
}

func (m *Metrics) incUnavailable(name, reason string) {
	if m == nil {
		return
	}
	m.unavailable.WithLabelValues(name, reason).Inc()
}

func (m *Metrics) incFeedback(accepted, experiment bool) {
	if m == nil {
		return
	}
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	m.feedback.WithLabelValues(verdict, boolLabel(experiment)).Inc()
}

func (m *Metrics) incLedgerFailure() {
	if m == nil {
		return
	}
	m.ledgerFailures.Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
