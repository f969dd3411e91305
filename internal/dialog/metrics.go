package dialog

import "github.com/prometheus/client_golang/prometheus"

// TurnMetrics holds Prometheus metrics for the turn pipeline. All metrics
// use the convo_ namespace.
type TurnMetrics struct {
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	ActiveTurns        prometheus.Gauge
	ConversationsEnded prometheus.Counter
}

// NewTurnMetrics creates and registers turn metrics on the given registry.
// Returns nil if reg is nil.
func NewTurnMetrics(reg *prometheus.Registry) *TurnMetrics {
	if reg == nil {
		return nil
	}

	m := &TurnMetrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convo",
			Subsystem: "turn",
			Name:      "total",
			Help:      "Total turns by outcome.",
		}, []string{"status"}),

		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "convo",
			Subsystem: "turn",
			Name:      "duration_seconds",
			Help:      "Turn duration in seconds by provider.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),

		ActiveTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "convo",
			Subsystem: "turn",
			Name:      "active",
			Help:      "Number of turns currently inside the pipeline.",
		}),

		ConversationsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convo",
			Subsystem: "conversation",
			Name:      "ended_total",
			Help:      "Total conversations explicitly ended.",
		}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.ActiveTurns,
		m.ConversationsEnded,
	)

	return m
}
