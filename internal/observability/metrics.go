package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles Prometheus metrics used across the collector.
type Metrics struct {
	namespace string

	messagesReceived prometheus.Counter
	decodeFailures   prometheus.Counter
	rawArchived      prometheus.Counter
	textsStored      prometheus.Counter
	positionsStored  prometheus.Counter
	deviceUpserts    prometheus.Counter
	gatewayUpserts   prometheus.Counter
	storeErrors      prometheus.Counter
	storeRetries     prometheus.Counter
	pipelineErrors   prometheus.Counter
	droppedMessages  prometheus.Counter

	healthy atomic.Bool
}

// MetricsOption customises metrics creation.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
	registry  prometheus.Registerer
}

// WithNamespace overrides the metric namespace (default: meshcollect).
func WithNamespace(ns string) MetricsOption {
	return func(cfg *metricsConfig) {
		if ns != "" {
			cfg.namespace = ns
		}
	}
}

// WithRegistry overrides the Prometheus registerer (useful for tests).
func WithRegistry(reg prometheus.Registerer) MetricsOption {
	return func(cfg *metricsConfig) {
		if reg != nil {
			cfg.registry = reg
		}
	}
}

// NewMetrics initialises and registers collector metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		namespace: "meshcollect",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		namespace: cfg.namespace,
		messagesReceived: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "messages_received_total",
			Help:      "Total number of MQTT messages received from the broker.",
		}),
		decodeFailures: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "decode_failures_total",
			Help:      "Total number of payloads every decode attempt rejected.",
		}),
		rawArchived: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "raw_archived_total",
			Help:      "Total number of payloads archived verbatim.",
		}),
		textsStored: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "texts_stored_total",
			Help:      "Total number of text messages stored.",
		}),
		positionsStored: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "positions_stored_total",
			Help:      "Total number of position fixes stored.",
		}),
		deviceUpserts: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "device_upserts_total",
			Help:      "Total number of device rows merge-upserted.",
		}),
		gatewayUpserts: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "gateway_upserts_total",
			Help:      "Total number of gateway rows upserted.",
		}),
		storeErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_errors_total",
			Help:      "Total number of storage statements that failed after retry.",
		}),
		storeRetries: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_retries_total",
			Help:      "Total number of storage statements retried after a reconnect.",
		}),
		pipelineErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "pipeline_errors_total",
			Help:      "Total number of pipeline errors forwarded to the supervisor.",
		}),
		droppedMessages: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of MQTT messages dropped before decode.",
		}),
	}

	m.healthy.Store(true)
	return m
}

// IncMessagesReceived increments the raw message counter.
func (m *Metrics) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

// IncDecodeFailures notes a payload no decode attempt could handle.
func (m *Metrics) IncDecodeFailures() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

// IncRawArchived notes a payload archived verbatim.
func (m *Metrics) IncRawArchived() {
	if m == nil {
		return
	}
	m.rawArchived.Inc()
}

// IncTextStored notes a persisted text message.
func (m *Metrics) IncTextStored() {
	if m == nil {
		return
	}
	m.textsStored.Inc()
}

// IncPositionStored notes a persisted position fix.
func (m *Metrics) IncPositionStored() {
	if m == nil {
		return
	}
	m.positionsStored.Inc()
}

// IncDeviceUpsert notes a device merge-upsert.
func (m *Metrics) IncDeviceUpsert() {
	if m == nil {
		return
	}
	m.deviceUpserts.Inc()
}

// IncGatewayUpsert notes a gateway upsert.
func (m *Metrics) IncGatewayUpsert() {
	if m == nil {
		return
	}
	m.gatewayUpserts.Inc()
}

// IncStoreErrors increments store error counter and marks service unhealthy.
func (m *Metrics) IncStoreErrors() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
	m.healthy.Store(false)
}

// IncStoreRetries notes a statement retried after reconnect.
func (m *Metrics) IncStoreRetries() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

// IncPipelineErrors increments general pipeline error counter.
func (m *Metrics) IncPipelineErrors() {
	if m == nil {
		return
	}
	m.pipelineErrors.Inc()
	m.healthy.Store(false)
}

func (m *Metrics) IncDroppedMessages() {
	if m == nil {
		return
	}
	m.droppedMessages.Inc()
}

// Healthy reports whether recent operations have seen errors.
func (m *Metrics) Healthy() bool {
	if m == nil {
		return true
	}
	return m.healthy.Load()
}

// MarkHealthy resets the healthy flag.
func (m *Metrics) MarkHealthy() {
	if m == nil {
		return
	}
	m.healthy.Store(true)
}
