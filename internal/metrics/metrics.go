package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "studio_mcp"
)

// Metrics holds all Prometheus metrics for the studio-mcp service
type Metrics struct {
	// Tool execution metrics
	ToolExecutionDuration *prometheus.HistogramVec
	ToolExecutionTotal    *prometheus.CounterVec
	ToolExecutionErrors   *prometheus.CounterVec

	// Connection metrics
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    prometheus.Counter
	CachePutsTotal      *prometheus.CounterVec
	CachePutBytesTotal  prometheus.Counter
	CacheEvictionsTotal *prometheus.CounterVec
	CacheMemoryBytes    prometheus.Gauge
	CacheEntries        *prometheus.GaugeVec
	CacheHitRatio       prometheus.Gauge

	// Studio API metrics
	StudioRequestsTotal   *prometheus.CounterVec
	StudioRequestDuration *prometheus.HistogramVec

	// Request metrics
	RequestsInFlight prometheus.Gauge

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Message metrics
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
}

// New creates a new Metrics instance with all collectors registered on
// the default registerer. Call once per process.
func New() *Metrics {
	m := &Metrics{
		// Buckets: 10ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s, 30s
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_execution_duration_seconds",
				Help:      "Duration of tool execution in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_execution_total",
				Help:      "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_execution_errors_total",
				Help:      "Total number of tool execution errors",
			},
			[]string{"tool_name", "error_type"},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of active WebSocket connections",
			},
		),

		ConnectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of WebSocket connections established",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by type",
			},
			[]string{"error_type", "error_code"},
		),

		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits by tier",
			},
			[]string{"tier"},
		),

		CacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
		),

		CachePutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_puts_total",
				Help:      "Total number of cache admissions by tier",
			},
			[]string{"tier"},
		),

		CachePutBytesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_put_bytes_total",
				Help:      "Total bytes admitted into the cache",
			},
		),

		CacheEvictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Total number of cache evictions by tier and reason",
			},
			[]string{"tier", "reason"},
		),

		CacheMemoryBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_memory_bytes",
				Help:      "Current cache memory usage in bytes",
			},
		),

		CacheEntries: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Current number of cache entries by tier",
			},
			[]string{"tier"},
		),

		CacheHitRatio: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_hit_ratio",
				Help:      "Cache hit ratio (0-1)",
			},
		),

		StudioRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "studio_requests_total",
				Help:      "Total number of Studio API requests",
			},
			[]string{"operation", "status"},
		),

		StudioRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "studio_request_duration_seconds",
				Help:      "Duration of Studio API requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of active MCP sessions",
			},
		),

		SessionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of MCP sessions created",
			},
		),

		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Duration of MCP sessions in seconds",
				Buckets:   []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800}, // 1m to 8h
			},
		),

		MessagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages sent",
			},
			[]string{"message_type"},
		),

		MessagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of messages received",
			},
			[]string{"message_type"},
		),
	}

	return m
}

// RecordToolExecution records a tool execution with duration and status
func (m *Metrics) RecordToolExecution(toolName string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.ToolExecutionDuration.WithLabelValues(toolName, status).Observe(duration.Seconds())
	m.ToolExecutionTotal.WithLabelValues(toolName, status).Inc()
}

// RecordToolExecutionError records a tool execution error with error type
func (m *Metrics) RecordToolExecutionError(toolName, errorType string) {
	m.ToolExecutionErrors.WithLabelValues(toolName, errorType).Inc()
}

// RecordConnectionStart records when a new connection is established
func (m *Metrics) RecordConnectionStart() {
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

// RecordConnectionEnd records when a connection is closed
func (m *Metrics) RecordConnectionEnd() {
	m.ActiveConnections.Dec()
}

// RecordError records an error by type and code
func (m *Metrics) RecordError(errorType, errorCode string) {
	m.ErrorsTotal.WithLabelValues(errorType, errorCode).Inc()
}

// RecordStudioRequest records a Studio API request outcome
func (m *Metrics) RecordStudioRequest(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StudioRequestsTotal.WithLabelValues(operation, status).Inc()
	m.StudioRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight requests
func (m *Metrics) RecordRequestStart() {
	m.RequestsInFlight.Inc()
}

// RecordRequestEnd decrements in-flight requests
func (m *Metrics) RecordRequestEnd() {
	m.RequestsInFlight.Dec()
}

// RecordSessionStart records when a new session is created
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnd records when a session ends with its duration
func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordMessageSent records a sent message by type
func (m *Metrics) RecordMessageSent(messageType string) {
	m.MessagesSent.WithLabelValues(messageType).Inc()
}

// RecordMessageReceived records a received message by type
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// StartToolExecutionTimer returns a function that when called, records the tool execution duration
// Usage: defer m.StartToolExecutionTimer(toolName)(err)
func (m *Metrics) StartToolExecutionTimer(toolName string) func(error) {
	start := time.Now()
	return func(err error) {
		m.RecordToolExecution(toolName, time.Since(start), err)
	}
}

// Cache event recording. These methods satisfy the cache package's
// Recorder interface.

// RecordHit records a cache hit for a tier
func (m *Metrics) RecordHit(tier string) {
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordMiss records a cache miss
func (m *Metrics) RecordMiss() {
	m.CacheMissesTotal.Inc()
}

// RecordPut records an admission and its payload size
func (m *Metrics) RecordPut(tier string, bytes int64) {
	m.CachePutsTotal.WithLabelValues(tier).Inc()
	m.CachePutBytesTotal.Add(float64(bytes))
}

// RecordEviction records evictions for a tier with a reason
func (m *Metrics) RecordEviction(tier string, reason string, count int) {
	m.CacheEvictionsTotal.WithLabelValues(tier, reason).Add(float64(count))
}

// SetMemoryUsage updates the cache memory gauge
func (m *Metrics) SetMemoryUsage(bytes int64) {
	m.CacheMemoryBytes.Set(float64(bytes))
}

// SetEntryCount updates the per-tier entry gauge
func (m *Metrics) SetEntryCount(tier string, count int) {
	m.CacheEntries.WithLabelValues(tier).Set(float64(count))
}

// UpdateCacheHitRatio updates the cache hit ratio gauge.
// hits and total are cumulative counts since service start.
func (m *Metrics) UpdateCacheHitRatio(hits, total int64) {
	if total > 0 {
		m.CacheHitRatio.Set(float64(hits) / float64(total))
	} else {
		m.CacheHitRatio.Set(0)
	}
}
