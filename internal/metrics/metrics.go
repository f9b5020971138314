package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-wide counters. Fields are updated with atomics on the
// hot path and exported to Prometheus through gauge funcs.
type Metrics struct {
	// Capture
	FramesRead   atomic.Uint64
	ReadErrors   atomic.Uint64
	Reconnects   atomic.Uint64
	FramesStored atomic.Uint64

	// Annotation
	AnnotateErrors atomic.Uint64

	// Transcoding
	TranscodeQueued  atomic.Uint64
	TranscodeDropped atomic.Uint64
	TranscodeWritten atomic.Uint64
	TranscodeFailed  atomic.Uint64

	// Analytics
	Detections          atomic.Uint64
	Alerts              atomic.Uint64
	PersistenceErrors   atomic.Uint64
	ActiveTracks        atomic.Int64
	PushClients         atomic.Int64
	PushMessagesDropped atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, v *atomic.Int64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("bisonguard_frames_read_total", "Total frames read from upstream streams", &m.FramesRead)
	m.counter("bisonguard_read_errors_total", "Total failed frame reads", &m.ReadErrors)
	m.counter("bisonguard_reconnects_total", "Total capture reconnect attempts", &m.Reconnects)
	m.counter("bisonguard_frames_stored_total", "Total frames stored as latest frame", &m.FramesStored)

	m.counter("bisonguard_annotate_errors_total", "Total annotator failures", &m.AnnotateErrors)

	m.counter("bisonguard_transcode_frames_queued_total", "Frames accepted by the transcode queue", &m.TranscodeQueued)
	m.counter("bisonguard_transcode_frames_dropped_total", "Frames dropped because the transcode queue was full", &m.TranscodeDropped)
	m.counter("bisonguard_transcode_frames_written_total", "Frames written to the transcoder", &m.TranscodeWritten)
	m.counter("bisonguard_transcode_failures_total", "Transcoder start or write failures", &m.TranscodeFailed)

	m.counter("bisonguard_detections_total", "Total detections aggregated", &m.Detections)
	m.counter("bisonguard_alerts_total", "Total alerts raised", &m.Alerts)
	m.counter("bisonguard_persistence_errors_total", "Failed history writes", &m.PersistenceErrors)
	m.gauge("bisonguard_active_tracks", "Tracks currently held in memory", &m.ActiveTracks)
	m.gauge("bisonguard_push_clients", "Connected push channel clients", &m.PushClients)
	m.counter("bisonguard_push_messages_dropped_total", "Push messages dropped for slow clients", &m.PushMessagesDropped)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
