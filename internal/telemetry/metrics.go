package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors fed by the aggregator and the
// message pipeline.
type Metrics struct {
	messages      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	uniqueSenders prometheus.Gauge
	dropped       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teadesk_messages_total",
				Help: "Processed messages by intent and outcome.",
			},
			[]string{"intent", "success"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teadesk_message_duration_seconds",
				Help:    "Histogram of message handling durations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"intent"},
		),
		uniqueSenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teadesk_unique_senders",
			Help: "Number of distinct senders seen.",
		}),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teadesk_dropped_messages_total",
				Help: "Inbound messages dropped before classification, by reason.",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(m.messages, m.duration, m.uniqueSenders, m.dropped)
	return m
}

// Dropped counts a message rejected upstream of classification.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
