package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"barpos/pkg/monitoring"
)

// Metrics holds all Prometheus metrics for the Expeditor service
type Metrics struct {
	// Streaming hub metrics
	Connections     *prometheus.GaugeVec
	ConnectionsOpen *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	EventsQueued    *prometheus.CounterVec

	// Kafka metrics
	KafkaMessages *prometheus.CounterVec
	KafkaDuration *prometheus.HistogramVec
	KafkaLag      *prometheus.GaugeVec
}

// New registers the service metric set on the given collector.
func New(collector *monitoring.MetricsCollector) *Metrics {
	m := &Metrics{
		Connections:     collector.NewGauge("stream_connections_active", "Active streaming connections", []string{"transport", "station"}),
		ConnectionsOpen: collector.NewCounter("stream_connections_total", "Streaming connections opened", []string{"transport", "outcome"}),
		EventsPublished: collector.NewCounter("realtime_events_published_total", "Real-time events published", []string{"event_type", "channel"}),
		EventsDropped:   collector.NewCounter("realtime_events_dropped_total", "Real-time events dropped", []string{"event_type", "reason"}),
		EventsQueued:    collector.NewCounter("realtime_events_queued_total", "Real-time events held for offline recipients", []string{"event_type"}),
		KafkaMessages:   collector.NewCounter("kafka_messages_total", "Kafka records consumed", []string{"topic", "status"}),
		KafkaDuration:   collector.NewHistogram("kafka_handle_duration_seconds", "Kafka record handling duration", []string{"topic"}, nil),
		KafkaLag:        collector.NewGauge("kafka_consumer_lag", "Kafka consumer lag per partition", []string{"topic", "partition"}),
	}
	return m
}

// EventPublished records a delivered event.
func (m *Metrics) EventPublished(name, channel string) {
	m.EventsPublished.WithLabelValues(name, channel).Inc()
}

// EventDropped records an event with no recipients and no queue slot.
func (m *Metrics) EventDropped(name, reason string) {
	m.EventsDropped.WithLabelValues(name, reason).Inc()
}

// EventQueued records an event parked in the offline queue.
func (m *Metrics) EventQueued(name string) {
	m.EventsQueued.WithLabelValues(name).Inc()
}

// ConnectionOpened tracks a new streaming session.
func (m *Metrics) ConnectionOpened(transport, station string) {
	m.Connections.WithLabelValues(transport, station).Inc()
	m.ConnectionsOpen.WithLabelValues(transport, "accepted").Inc()
}

// ConnectionRejected tracks a refused streaming session.
func (m *Metrics) ConnectionRejected(transport, reason string) {
	m.ConnectionsOpen.WithLabelValues(transport, reason).Inc()
}

// ConnectionClosed tracks a finished streaming session.
func (m *Metrics) ConnectionClosed(transport, station string) {
	m.Connections.WithLabelValues(transport, station).Dec()
}

// MessageProcessed records one consumed Kafka record and its handling time.
func (m *Metrics) MessageProcessed(topic, status string, duration time.Duration) {
	m.KafkaMessages.WithLabelValues(topic, status).Inc()
	m.KafkaDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// ConsumerLag records the offset gap behind the partition high watermark.
func (m *Metrics) ConsumerLag(topic string, partition int32, lag int64) {
	m.KafkaLag.WithLabelValues(topic, strconv.Itoa(int(partition))).Set(float64(lag))
}
