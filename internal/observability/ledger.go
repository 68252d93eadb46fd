package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
)

// LedgerMetrics implements receivables.Recorder.
type LedgerMetrics struct {
	resolutions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	failures    *prometheus.CounterVec
}

var _ receivables.Recorder = (*LedgerMetrics)(nil)

// NewLedgerMetrics registers the balance resolution collectors.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_balance_resolutions_total",
		Help: "Balance resolutions partitioned by the origin of the figures.",
	}, []string{"origin"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_balance_resolution_duration_seconds",
		Help:    "Time taken to resolve balances, including any fallback.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"origin"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_source_failures_total",
		Help: "Source failures observed by the ledger engine.",
	}, []string{"op", "kind"})
	registerer.MustRegister(resolutions, duration, failures)
	return &LedgerMetrics{resolutions: resolutions, duration: duration, failures: failures}
}

// ObserveResolution counts a resolved balance view.
func (m *LedgerMetrics) ObserveResolution(origin receivables.Origin, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(origin)).Inc()
	m.duration.WithLabelValues(string(origin)).Observe(elapsed.Seconds())
}

// SourceFailure counts a failed source call.
func (m *LedgerMetrics) SourceFailure(op string, kind receivables.ErrorKind) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op, string(kind)).Inc()
}
