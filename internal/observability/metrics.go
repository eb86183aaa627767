package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments of the assistant. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Turns           *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	ModelRoundTrips prometheus.Counter
	ToolCalls       *prometheus.CounterVec
	CaptureSessions *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a conversation turn including tool rounds.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}),
		ModelRoundTrips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_round_trips_total",
			Help:      "Streaming completion requests issued.",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		CaptureSessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_sessions_total",
			Help:      "Audio capture sessions by terminal state.",
		}, []string{"outcome"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbound_queue_depth",
			Help:      "Messages waiting for the message pump.",
		}),
	}
}

func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) RoundTrip() {
	if m == nil {
		return
	}
	m.ModelRoundTrips.Inc()
}

func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) CaptureSession(outcome string) {
	if m == nil {
		return
	}
	m.CaptureSessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
