package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for chat activity.
type Metrics struct {
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	rateLimited  prometheus.Counter
}

// MustNewMetrics registers the chat collectors with reg. A nil reg uses the
// default registerer. Registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jami",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jami",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a chat turn.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jami",
			Subsystem: "chat",
			Name:      "tool_calls_total",
			Help:      "Gateway tool calls by tool and status.",
		}, []string{"tool", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jami",
			Subsystem: "chat",
			Name:      "rate_limited_total",
			Help:      "Chat requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(m.turns, m.turnDuration, m.toolCalls, m.rateLimited)
	return m
}

func (m *Metrics) observeTurn(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeTool(name string, isError bool) {
	if m == nil {
		return
	}
	status := "ok"
	if isError {
		status = "error"
	}
	m.toolCalls.WithLabelValues(name, status).Inc()
}

func (m *Metrics) observeRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
