package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions        prometheus.Gauge
	SessionEvents         *prometheus.CounterVec
	TurnsProduced         *prometheus.CounterVec
	GenerationFailures    prometheus.Counter
	SynthesisFailures     prometheus.Counter
	BroadcastDrops        *prometheus.CounterVec
	TurnProductionLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active panel sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		TurnsProduced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_produced_total",
			Help:      "Transcript turns by kind.",
		}, []string{"kind"}),
		GenerationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Abandoned turn production attempts due to generator errors.",
		}),
		SynthesisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_failures_total",
			Help:      "Speech synthesis failures recovered as text-only turns.",
		}),
		BroadcastDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Events dropped because a subscriber queue was full.",
		}, []string{"type"}),
		TurnProductionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_production_latency_ms",
			Help:      "Latency of one full turn production in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		}),
	}
}

func (m *Metrics) ObserveTurnProduction(d time.Duration) {
	m.TurnProductionLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
