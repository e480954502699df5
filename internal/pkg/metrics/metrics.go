package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the webhook pipeline collectors.
type Metrics struct {
	Deliveries      *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	Suspensions     prometheus.Counter
	Refunds         *prometheus.CounterVec
	RetriesEnqueued prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mealpay",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by event kind and outcome.",
		}, []string{"kind", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mealpay",
			Subsystem: "webhook",
			Name:      "processing_seconds",
			Help:      "Time spent handling a webhook delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mealpay",
			Subsystem: "dunning",
			Name:      "suspensions_total",
			Help:      "Subscriptions suspended after reaching the dunning limit.",
		}),
		Refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mealpay",
			Subsystem: "refund",
			Name:      "events_total",
			Help:      "Refund events by result.",
		}, []string{"result"}),
		RetriesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mealpay",
			Subsystem: "webhook",
			Name:      "retries_enqueued_total",
			Help:      "Failed deliveries scheduled for reprocessing.",
		}),
	}
	reg.MustRegister(m.Deliveries, m.Duration, m.Suspensions, m.Refunds, m.RetriesEnqueued)
	return m
}

// ObserveDelivery counts a delivery and records its duration.
func (m *Metrics) ObserveDelivery(kind, outcome string, d time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	m.Deliveries.WithLabelValues(kind, outcome).Inc()
	m.Duration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) DunningSuspended() { m.Suspensions.Inc() }

func (m *Metrics) RefundRecorded(duplicate bool) {
	if duplicate {
		m.Refunds.WithLabelValues("duplicate").Inc()
		return
	}
	m.Refunds.WithLabelValues("recorded").Inc()
}

func (m *Metrics) RetryEnqueued() { m.RetriesEnqueued.Inc() }
