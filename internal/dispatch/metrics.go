package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/studiodesk/notifier/internal/storage"
)

// Delivery outcomes used as the "outcome" label.
const (
	OutcomeSent    = "sent"
	OutcomeRetried = "retried"
	OutcomeFailed  = "failed"
)

// Metrics are the dispatcher's Prometheus collectors.
type Metrics struct {
	Dispatched  *prometheus.CounterVec
	SendLatency *prometheus.HistogramVec
	QueueDepth  *prometheus.GaugeVec
	Deferred    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notifier",
			Name:      "dispatched_total",
			Help:      "Delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		SendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notifier",
			Name:      "send_duration_seconds",
			Help:      "Time spent in channel Send calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"channel"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "notifier",
			Name:      "queue_depth",
			Help:      "Work items per status.",
		}, []string{"status"}),
		Deferred: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notifier",
			Name:      "rate_limit_deferrals_total",
			Help:      "Due items left pending because the channel was at its rate limit.",
		}, []string{"channel"}),
	}
}

func (m *Metrics) observeDepth(counts map[storage.Status]int) {
	for st, n := range counts {
		m.QueueDepth.WithLabelValues(string(st)).Set(float64(n))
	}
}
