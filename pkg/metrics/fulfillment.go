package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ticketdesk"

// FulfillmentMetrics records pipeline runs and per-recipient deliveries.
type FulfillmentMetrics struct {
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	deliveries *prometheus.CounterVec
	allocated  prometheus.Counter
}

// NewFulfillmentMetrics registers the pipeline metrics on reg. A nil
// registerer yields a no-op recorder.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfillment_runs_total",
		Help:      "Pipeline runs by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fulfillment_duration_seconds",
		Help:      "Duration of pipeline runs in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfillment_deliveries_total",
		Help:      "Per-recipient deliveries by result.",
	}, []string{"result"})
	allocated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tickets_allocated_total",
		Help:      "Tickets flipped to sold by allocation.",
	})
	reg.MustRegister(runs, duration, deliveries, allocated)
	return &FulfillmentMetrics{
		runs:       runs,
		duration:   duration,
		deliveries: deliveries,
		allocated:  allocated,
	}
}

// ObserveRun counts one run and its duration under outcome.
func (m *FulfillmentMetrics) ObserveRun(outcome string, took time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *FulfillmentMetrics) IncDelivery(result string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *FulfillmentMetrics) AddAllocated(n int) {
	if m == nil || m.allocated == nil || n <= 0 {
		return
	}
	m.allocated.Add(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
