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
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	TurnOutcomes     *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	TurnStageLatency *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice build sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		TurnOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_outcomes_total",
			Help:      "How orchestrated turns resolved.",
		}, []string{"outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Remote backend errors by provider and code.",
		}, []string{"provider", "code"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Per-stage turn latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1200, 2000, 4000, 8000},
		}, []string{"stage"}),
	}
}

// ObserveTurnOutcome records how one turn resolved.
func (m *Metrics) ObserveTurnOutcome(outcome string) {
	m.TurnOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveTurnStage records the wall time of one pipeline stage.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	m.TurnStageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
