package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Research session Prometheus metrics.
var (
	SessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sales_research",
			Name:      "sessions_started_total",
			Help:      "Total number of research sessions started",
		},
	)

	SessionsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sales_research",
			Name:      "sessions_finished_total",
			Help:      "Research sessions that reached a terminal state",
		},
		[]string{"status"}, // "completed" / "error"
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sales_research",
			Name:      "sessions_active",
			Help:      "Research runs currently executing",
		},
	)

	IterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sales_research",
			Name:      "research_iterations_total",
			Help:      "Total search/extract iterations executed",
		},
	)

	CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sales_research",
			Name:      "collaborator_call_duration_seconds",
			Help:      "Duration of search, extract and save calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"call", "status"},
	)

	ObserversActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sales_research",
			Name:      "observers_active",
			Help:      "Open progress subscriptions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsStartedTotal,
		SessionsFinishedTotal,
		SessionsActive,
		IterationsTotal,
		CallDuration,
		ObserversActive,
	)
}

// ObserveCall records the duration of a collaborator call that started at start.
func ObserveCall(call string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CallDuration.WithLabelValues(call, status).Observe(time.Since(start).Seconds())
}
