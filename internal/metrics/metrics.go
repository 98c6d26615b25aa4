package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "marketplace"

// Metrics contains metrics exposed by the marketplace controller.
type Metrics struct {
	// Calls counts entry point calls by operation and outcome.
	Calls *prometheus.CounterVec
	// GasUsed records the gas charged per call by operation.
	GasUsed *prometheus.HistogramVec
	// ClearedQuantity accumulates matched quantity over all clearings.
	ClearedQuantity prometheus.Counter
	// PublishFailures counts events that could not be delivered.
	PublishFailures prometheus.Counter
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "calls_total",
			Help:      "Entry point calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		GasUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "gas_used",
			Help:      "Gas charged per call.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 14),
		}, []string{"op"}),
		ClearedQuantity: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "cleared_quantity_total",
			Help:      "Quantity matched across all cleared intervals.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "publish_failures_total",
			Help:      "Events that failed to reach a publisher.",
		}),
	}
}

// PrometheusMetrics returns Metrics registered with reg.
func PrometheusMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := newMetrics(namespace)
	for _, c := range []prometheus.Collector{m.Calls, m.GasUsed, m.ClearedQuantity, m.PublishFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NopMetrics returns metrics that are never registered anywhere.
func NopMetrics() *Metrics {
	return newMetrics("nop")
}

// ObserveCall records the outcome and gas of one call.
func (m *Metrics) ObserveCall(op, outcome string, gasUsed uint64) {
	m.Calls.WithLabelValues(op, outcome).Inc()
	m.GasUsed.WithLabelValues(op).Observe(float64(gasUsed))
}
