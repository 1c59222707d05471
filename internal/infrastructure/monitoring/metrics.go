package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons
const (
	DropQueueFull      = "queue_full"
	DropDeliveryFailed = "delivery_failed"
)

// Metrics holds the sensor's self-monitoring Prometheus metrics
type Metrics struct {
	// Span metrics
	SpansStarted  *prometheus.CounterVec
	SpansFinished *prometheus.CounterVec

	// Queue metrics
	TracesEnqueued prometheus.Counter
	TracesDropped  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge

	// Delivery metrics
	BatchesDelivered prometheus.Counter
	SpansDelivered   prometheus.Counter
	DeliveryFailures prometheus.Counter
	DeliveryDuration prometheus.Histogram

	// Agent metrics
	AgentReady     prometheus.Gauge
	Announcements  *prometheus.CounterVec
	EntityReports  *prometheus.CounterVec
	StatusRequests *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for the status API
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current values for the status API
type Snapshot struct {
	TracesEnqueued   int64 `json:"traces_enqueued"`
	TracesDropped    int64 `json:"traces_dropped"`
	BatchesDelivered int64 `json:"batches_delivered"`
	DeliveryFailures int64 `json:"delivery_failures"`
	QueueDepth       int64 `json:"queue_depth"`
	AgentReady       bool  `json:"agent_ready"`
}

// NewMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// Span metrics
		SpansStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_spans_started_total",
				Help: "Total number of spans started",
			},
			[]string{"kind"},
		),
		SpansFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_spans_finished_total",
				Help: "Total number of spans finished",
			},
			[]string{"kind"},
		),

		// Queue metrics
		TracesEnqueued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sensor_traces_enqueued_total",
				Help: "Total number of completed traces accepted by the queue",
			},
		),
		TracesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_traces_dropped_total",
				Help: "Total number of traces dropped before reaching the agent",
			},
			[]string{"reason"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sensor_queue_depth",
				Help: "Number of traces waiting for delivery",
			},
		),

		// Delivery metrics
		BatchesDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sensor_batches_delivered_total",
				Help: "Total number of span batches accepted by the agent",
			},
		),
		SpansDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sensor_spans_delivered_total",
				Help: "Total number of spans accepted by the agent",
			},
		),
		DeliveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sensor_delivery_failures_total",
				Help: "Total number of failed batch deliveries",
			},
		),
		DeliveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sensor_delivery_duration_seconds",
				Help:    "Batch delivery duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		// Agent metrics
		AgentReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sensor_agent_ready",
				Help: "1 when the host agent has been discovered and announced",
			},
		),
		Announcements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_announcements_total",
				Help: "Total number of announce attempts",
			},
			[]string{"status"},
		),
		EntityReports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_entity_reports_total",
				Help: "Total number of entity reports sent to the agent",
			},
			[]string{"status"},
		),
		StatusRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_status_requests_total",
				Help: "Total number of status server requests",
			},
			[]string{"method", "path", "status"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sensor_uptime_seconds",
			Help: "Sensor uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordSpanStarted counts a started span
func (m *Metrics) RecordSpanStarted(kind string) {
	m.SpansStarted.WithLabelValues(kind).Inc()
}

// RecordSpanFinished counts a finished span
func (m *Metrics) RecordSpanFinished(kind string) {
	m.SpansFinished.WithLabelValues(kind).Inc()
}

// RecordEnqueued counts an accepted trace and updates the queue depth
func (m *Metrics) RecordEnqueued(depth int) {
	m.TracesEnqueued.Inc()
	m.SetQueueDepth(depth)

	m.mu.Lock()
	m.snapshot.TracesEnqueued++
	m.mu.Unlock()
}

// RecordDropped counts traces lost for the given reason
func (m *Metrics) RecordDropped(reason string, count int) {
	m.TracesDropped.WithLabelValues(reason).Add(float64(count))

	m.mu.Lock()
	m.snapshot.TracesDropped += int64(count)
	m.mu.Unlock()
}

// SetQueueDepth sets the number of queued traces
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))

	m.mu.Lock()
	m.snapshot.QueueDepth = int64(depth)
	m.mu.Unlock()
}

// RecordDelivery records one batch delivery attempt
func (m *Metrics) RecordDelivery(spans int, duration time.Duration, err error) {
	m.DeliveryDuration.Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.DeliveryFailures.Inc()
		m.snapshot.DeliveryFailures++
		return
	}
	m.BatchesDelivered.Inc()
	m.SpansDelivered.Add(float64(spans))
	m.snapshot.BatchesDelivered++
}

// SetAgentReady records whether the agent is ready
func (m *Metrics) SetAgentReady(ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	m.AgentReady.Set(v)

	m.mu.Lock()
	m.snapshot.AgentReady = ready
	m.mu.Unlock()
}

// RecordAnnouncement counts an announce attempt
func (m *Metrics) RecordAnnouncement(status string) {
	m.Announcements.WithLabelValues(status).Inc()
}

// RecordEntityReport counts an entity report
func (m *Metrics) RecordEntityReport(status string) {
	m.EntityReports.WithLabelValues(status).Inc()
}

// RecordStatusRequest counts a status server request
func (m *Metrics) RecordStatusRequest(method, path, status string) {
	m.StatusRequests.WithLabelValues(method, path, status).Inc()
}

// Snapshot returns the current values for the status API
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
