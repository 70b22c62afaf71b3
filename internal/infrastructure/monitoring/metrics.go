package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter

	// Connection metrics
	Reconnects   prometheus.Counter
	AuthFailures prometheus.Counter
	Disconnects  prometheus.Counter

	// Resize metrics
	ResizeEmitted    prometheus.Counter
	ResizeSuppressed prometheus.Counter

	// Transport metrics
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	FramesDropped  prometheus.Counter

	Uptime prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shellmux_sessions_active",
			Help: "Number of open terminal sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "shellmux_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "shellmux_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),

		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "shellmux_reconnects_total",
			Help: "Total number of transport reconnects",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "shellmux_auth_failures_total",
			Help: "Total number of rejected authentication attempts",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "shellmux_disconnects_total",
			Help: "Total number of transport disconnects",
		}),

		ResizeEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "shellmux_resize_emitted_total",
			Help: "Resize negotiations sent to the server",
		}),
		ResizeSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "shellmux_resize_suppressed_total",
			Help: "Resize negotiations skipped as redundant or rate-capped",
		}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shellmux_frames_sent_total",
			Help: "Outbound frames by event type",
		}, []string{"event"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shellmux_frames_received_total",
			Help: "Inbound frames by event type",
		}, []string{"event"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "shellmux_frames_dropped_total",
			Help: "Inbound frames dropped for unknown sessions or bad payloads",
		}),

		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shellmux_uptime_seconds",
			Help: "Client uptime in seconds",
		}),
	}

	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
