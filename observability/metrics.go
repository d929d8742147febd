package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the transport stack.
type Metrics struct {
	// Scheduler metrics
	FramesSentTotal      *prometheus.CounterVec
	BytesSentTotal       *prometheus.CounterVec
	ThrottleRejectsTotal *prometheus.CounterVec
	SendFailuresTotal    *prometheus.CounterVec
	QueuedFrames         prometheus.Gauge
	ExternalBytesTotal   prometheus.Counter

	// Fragmentation/reassembly metrics
	MessagesSentTotal      prometheus.Counter
	MessagesDeliveredTotal prometheus.Counter
	FragmentsTotal         prometheus.Counter
	StreamsActive          prometheus.Gauge
	StreamsEvictedTotal    prometheus.Counter
	OrphanFramesTotal      prometheus.Counter
	HandlerPanicsTotal     prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all Prometheus metrics. A nil registerer
// uses the default registry; passing a fresh *prometheus.Registry keeps
// independent instances from colliding.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	m := &Metrics{
		FramesSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairwire_frames_sent_total",
				Help: "Frames accepted by the carrier, per priority lane",
			},
			[]string{"lane"},
		),

		BytesSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairwire_bytes_sent_total",
				Help: "Accounted bytes sent, per priority lane (includes per-frame overhead)",
			},
			[]string{"lane"},
		),

		ThrottleRejectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairwire_throttle_rejects_total",
				Help: "Frames rejected by the carrier throttle, per priority lane",
			},
			[]string{"lane"},
		),

		SendFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairwire_send_failures_total",
				Help: "Frames dropped on hard carrier failure, per priority lane",
			},
			[]string{"lane"},
		),

		QueuedFrames: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fairwire_queued_frames",
				Help: "Frames currently waiting in scheduler queues",
			},
		),

		ExternalBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fairwire_external_bytes_total",
				Help: "Bytes reported as sent outside the scheduler",
			},
		),

		MessagesSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fairwire_messages_sent_total",
				Help: "Logical messages submitted for sending",
			},
		),

		MessagesDeliveredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fairwire_messages_delivered_total",
				Help: "Logically-complete messages delivered to subscribers",
			},
		),

		FragmentsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fairwire_fragments_total",
				Help: "Wire frames produced by fragmentation",
			},
		),

		StreamsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fairwire_reassembly_streams_active",
				Help: "Reassembly streams currently in flight",
			},
		),

		StreamsEvictedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fairwire_reassembly_streams_evicted_total",
				Help: "Reassembly streams evicted before completion",
			},
		),

		OrphanFramesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fairwire_orphan_frames_total",
				Help: "Continuation or last frames dropped with no matching stream",
			},
		),

		HandlerPanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fairwire_handler_panics_total",
				Help: "Panics recovered from producer callbacks and subscriber handlers",
			},
		),

		gatherer: gatherer,
	}

	return m
}

// RecordFrameSent increments frame and byte counters for a lane.
func (m *Metrics) RecordFrameSent(lane string, accountedBytes float64) {
	m.FramesSentTotal.WithLabelValues(lane).Inc()
	m.BytesSentTotal.WithLabelValues(lane).Add(accountedBytes)
}

// RecordThrottleReject increments the throttle rejection counter for a lane.
func (m *Metrics) RecordThrottleReject(lane string) {
	m.ThrottleRejectsTotal.WithLabelValues(lane).Inc()
}

// RecordSendFailure increments the hard-failure counter for a lane.
func (m *Metrics) RecordSendFailure(lane string) {
	m.SendFailuresTotal.WithLabelValues(lane).Inc()
}

// AddQueuedFrames adjusts the queued-frame gauge.
func (m *Metrics) AddQueuedFrames(delta int) {
	m.QueuedFrames.Add(float64(delta))
}

// RecordExternalBytes accounts traffic that bypassed the scheduler.
func (m *Metrics) RecordExternalBytes(n int) {
	m.ExternalBytesTotal.Add(float64(n))
}

// RecordMessageSent records one logical message and its frame count.
func (m *Metrics) RecordMessageSent(frames int) {
	m.MessagesSentTotal.Inc()
	m.FragmentsTotal.Add(float64(frames))
}

// RecordDelivery records one complete message handed to subscribers.
func (m *Metrics) RecordDelivery() {
	m.MessagesDeliveredTotal.Inc()
}

// SetStreamsActive updates the in-flight reassembly stream gauge.
func (m *Metrics) SetStreamsActive(n int) {
	m.StreamsActive.Set(float64(n))
}

// RecordStreamEvicted counts an incomplete stream eviction.
func (m *Metrics) RecordStreamEvicted() {
	m.StreamsEvictedTotal.Inc()
}

// RecordOrphanFrame counts a continuation/last frame with no stream.
func (m *Metrics) RecordOrphanFrame() {
	m.OrphanFramesTotal.Inc()
}

// RecordHandlerPanic counts a recovered callback panic.
func (m *Metrics) RecordHandlerPanic() {
	m.HandlerPanicsTotal.Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
