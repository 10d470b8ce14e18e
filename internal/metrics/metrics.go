// Package metrics exposes Prometheus collectors for the sync server.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "collabtext"

// Metrics holds the collectors.
type Metrics struct {
	connections     prometheus.Gauge
	inbound         *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	documentVersion prometheus.Gauge
	streams         *prometheus.CounterVec
	streamDuration  *prometheus.HistogramVec
	fragments       *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connections",
			Help:      "Number of live connections",
		}),
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound envelopes by kind; malformed and unknown are counted separately",
		}, []string{"kind"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames that could not be delivered",
		}, []string{"reason"}),
		documentVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "document_version",
			Help:      "Current version of the shared document",
		}),
		streams: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ai_streams_total",
			Help:      "AI generations by relay and outcome",
		}, []string{"relay", "outcome"}),
		streamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ai_stream_duration_seconds",
			Help:      "Wall time of AI generations",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"relay"}),
		fragments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ai_stream_fragments_total",
			Help:      "Text fragments relayed from the AI backend",
		}, []string{"relay"}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) InboundMessage(kind string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetDocumentVersion(v uint64) {
	if m == nil {
		return
	}
	m.documentVersion.Set(float64(v))
}

func (m *Metrics) Fragment(relay string) {
	if m == nil {
		return
	}
	m.fragments.WithLabelValues(relay).Inc()
}

// StreamFinished records one generation. outcome is "ok" or "error".
func (m *Metrics) StreamFinished(relay, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(relay, outcome).Inc()
	m.streamDuration.WithLabelValues(relay).Observe(elapsed.Seconds())
}
