package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeAnswered = "answered"
	OutcomeHandoff  = "handoff"
	OutcomeKeyword  = "keyword"
	OutcomeMerged   = "merged"
	OutcomeFailed   = "failed"
)

// Metrics holds the chat pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	turns          *prometheus.CounterVec
	modelLatency   *prometheus.HistogramVec
	creditsDebited prometheus.Counter
	jobsRejected   *prometheus.CounterVec
	jobsInFlight   prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "chat_turns_total",
			Help:      "Chat turns processed, by outcome.",
		}, []string{"outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shopassist",
			Name:      "model_latency_seconds",
			Help:      "Latency of successful model generations.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"model"}),
		creditsDebited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "credits_debited_total",
			Help:      "Credits debited from merchant accounts.",
		}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "dispatcher_rejected_total",
			Help:      "Turn jobs rejected before running, by reason.",
		}, []string{"reason"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shopassist",
			Name:      "dispatcher_jobs_in_flight",
			Help:      "Turn jobs currently running.",
		}),
	}

	registerer.MustRegister(m.turns, m.modelLatency, m.creditsDebited, m.jobsRejected, m.jobsInFlight)
	return m
}

func (m *Metrics) TurnProcessed(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ModelLatency(model string, d time.Duration) {
	if m == nil {
		return
	}
	if model == "" {
		model = "unknown"
	}
	m.modelLatency.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) CreditsDebited(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.creditsDebited.Add(float64(n))
}

func (m *Metrics) JobRejected(reason string) {
	if m == nil {
		return
	}
	m.jobsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}
