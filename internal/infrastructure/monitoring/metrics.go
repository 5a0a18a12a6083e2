package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// All Record/Set methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
	ProvisionDuration  *prometheus.HistogramVec

	// Screencast metrics
	FramesSent              prometheus.Counter
	FrameAckFailures        prometheus.Counter
	ScreencastStartFailures prometheus.Counter

	// Capture metrics
	CaptureChunks    prometheus.Counter
	CaptureBytes     prometheus.Counter
	CaptureUnrouted  prometheus.Counter
	CaptureFailures  *prometheus.CounterVec
	InputEvents      *prometheus.CounterVec
	InputEventErrors *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry, so
// several instances (one per test, one per server) never collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdelegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webdelegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webdelegate_sessions_active",
				Help: "Number of sessions that have not reached CLOSED",
			},
		),
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdelegate_session_transitions_total",
				Help: "Session state transitions by target state",
			},
			[]string{"state"},
		),
		ProvisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webdelegate_provision_duration_seconds",
				Help:    "Time to launch a browser and navigate to the target",
				Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"outcome"},
		),

		FramesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webdelegate_screencast_frames_total",
				Help: "Screencast frames forwarded to clients",
			},
		),
		FrameAckFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webdelegate_screencast_ack_failures_total",
				Help: "Screencast frame acknowledgements that failed and were dropped",
			},
		),
		ScreencastStartFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webdelegate_screencast_start_failures_total",
				Help: "Screencast subscriptions that could not be started",
			},
		),

		CaptureChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webdelegate_capture_chunks_total",
				Help: "Capture chunks forwarded to clients",
			},
		),
		CaptureBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webdelegate_capture_bytes_total",
				Help: "Capture bytes forwarded to clients",
			},
		),
		CaptureUnrouted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webdelegate_capture_unrouted_chunks_total",
				Help: "Capture chunks pushed for a session with no registered sink",
			},
		),
		CaptureFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdelegate_capture_failures_total",
				Help: "Capture bridge start/stop failures and chunks dropped on overflow",
			},
			[]string{"op"},
		),
		InputEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdelegate_input_events_total",
				Help: "Client input events applied to browsers",
			},
			[]string{"type"},
		),
		InputEventErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdelegate_input_event_errors_total",
				Help: "Client input events rejected or failed",
			},
			[]string{"type"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webdelegate_ws_connections",
				Help: "Number of open WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdelegate_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "webdelegate_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTransition counts a session entering state.
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}

// RecordProvision observes how long provisioning took.
func (m *Metrics) RecordProvision(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProvisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// IncFramesSent counts a forwarded screencast frame
func (m *Metrics) IncFramesSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

// IncFrameAckFailures counts a dropped acknowledgement
func (m *Metrics) IncFrameAckFailures() {
	if m == nil {
		return
	}
	m.FrameAckFailures.Inc()
}

// IncScreencastStartFailures counts a failed screencast subscription
func (m *Metrics) IncScreencastStartFailures() {
	if m == nil {
		return
	}
	m.ScreencastStartFailures.Inc()
}

// RecordCaptureChunk counts a forwarded capture chunk
func (m *Metrics) RecordCaptureChunk(size int) {
	if m == nil {
		return
	}
	m.CaptureChunks.Inc()
	m.CaptureBytes.Add(float64(size))
}

// IncCaptureUnrouted counts a chunk with no registered sink
func (m *Metrics) IncCaptureUnrouted() {
	if m == nil {
		return
	}
	m.CaptureUnrouted.Inc()
}

// RecordCaptureFailure counts a failed bridge start or stop, or a chunk dropped on overflow
func (m *Metrics) RecordCaptureFailure(op string) {
	if m == nil {
		return
	}
	m.CaptureFailures.WithLabelValues(op).Inc()
}

// RecordInputEvent counts an applied or failed input event
func (m *Metrics) RecordInputEvent(eventType string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.InputEventErrors.WithLabelValues(eventType).Inc()
		return
	}
	m.InputEvents.WithLabelValues(eventType).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
