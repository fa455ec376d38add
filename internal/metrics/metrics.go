// Package metrics exposes Prometheus instrumentation for the streaming
// core: buffer pool occupancy, audio queue lifecycle transitions, and
// per-stream bitrate/error counters. Grounded on the teacher's
// MetricsCollector (internal/audiocore/metrics.go): a package-level
// singleton wrapping an enabled flag so every RecordX call is a no-op
// when metrics were never initialized, rather than requiring every
// caller to nil-check.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics holds the Prometheus collectors registered for the
// streaming core. Construct with New and register once per process.
type StreamMetrics struct {
	buffersInUse     *prometheus.GaugeVec
	bufferAllocated  *prometheus.CounterVec
	queueTransitions *prometheus.CounterVec
	streamState      *prometheus.GaugeVec
	bitrateEstimate  *prometheus.GaugeVec
	streamErrors     *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	packetsSubmitted *prometheus.CounterVec
}

// New creates and registers the streaming core's collectors against reg.
// Pass prometheus.DefaultRegisterer for process-wide metrics, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions across cases.
func New(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		buffersInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamcore",
			Subsystem: "buffer_pool",
			Name:      "buffers_in_use",
			Help:      "Number of output buffers currently rented out, per stream.",
		}, []string{"stream_id"}),
		bufferAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Subsystem: "buffer_pool",
			Name:      "enqueue_total",
			Help:      "Total enqueue_buffer calls, per stream.",
		}, []string{"stream_id"}),
		queueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Subsystem: "streamer",
			Name:      "state_transitions_total",
			Help:      "Streamer state transitions, by resulting state and reason.",
		}, []string{"stream_id", "state", "reason"}),
		streamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamcore",
			Subsystem: "streamer",
			Name:      "state",
			Help:      "1 for the Streamer's current state, 0 for all others, per stream.",
		}, []string{"stream_id", "state"}),
		bitrateEstimate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamcore",
			Subsystem: "streamer",
			Name:      "bitrate_bps",
			Help:      "Most recent calculated_bit_rate estimate, per stream.",
		}, []string{"stream_id"}),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Subsystem: "streamer",
			Name:      "errors_total",
			Help:      "fail_with calls, by error kind.",
		}, []string{"stream_id", "kind"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Subsystem: "bytesource",
			Name:      "bytes_received_total",
			Help:      "Bytes received from the HTTP byte source, per stream.",
		}, []string{"stream_id"}),
		packetsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Subsystem: "audioqueue",
			Name:      "packets_submitted_total",
			Help:      "Packets submitted to the audio queue, per stream.",
		}, []string{"stream_id"}),
	}

	reg.MustRegister(
		m.buffersInUse,
		m.bufferAllocated,
		m.queueTransitions,
		m.streamState,
		m.bitrateEstimate,
		m.streamErrors,
		m.bytesReceived,
		m.packetsSubmitted,
	)
	return m
}

// Collector wraps a *StreamMetrics with the enabled/disabled switch the
// Streamer's call sites use: RecordX is always safe to call, even before
// Init, and becomes a no-op rather than a nil dereference.
type Collector struct {
	metrics *StreamMetrics
	enabled bool
}

var (
	global     atomic.Pointer[Collector]
	globalOnce sync.Once
)

// Init installs the process-wide Collector. Safe to call once; later
// calls are ignored, matching InitMetrics's idempotency in the teacher.
func Init(m *StreamMetrics) {
	globalOnce.Do(func() {
		global.Store(&Collector{metrics: m, enabled: m != nil})
	})
}

// Get returns the process-wide Collector, or a disabled no-op one if
// Init was never called.
func Get() *Collector {
	if c := global.Load(); c != nil {
		return c
	}
	return &Collector{}
}

func (c *Collector) UpdateBuffersInUse(streamID string, n int) {
	if !c.enabled {
		return
	}
	c.metrics.buffersInUse.WithLabelValues(streamID).Set(float64(n))
}

func (c *Collector) RecordBufferEnqueue(streamID string) {
	if !c.enabled {
		return
	}
	c.metrics.bufferAllocated.WithLabelValues(streamID).Inc()
}

// RecordStateTransition implements the state-machine instrumentation:
// bumps the transition counter and sets the new state's gauge to 1 while
// every label value this stream has ever been in is implicitly left at
// its last-set value (Prometheus gauges don't auto-zero siblings, so
// dashboards should alert on the transitions_total counter, not treat
// the state gauge as exclusive).
func (c *Collector) RecordStateTransition(streamID, state, reason string) {
	if !c.enabled {
		return
	}
	c.metrics.queueTransitions.WithLabelValues(streamID, state, reason).Inc()
	c.metrics.streamState.WithLabelValues(streamID, state).Set(1)
}

func (c *Collector) RecordBitrate(streamID string, bps float64) {
	if !c.enabled {
		return
	}
	c.metrics.bitrateEstimate.WithLabelValues(streamID).Set(bps)
}

func (c *Collector) RecordError(streamID, kind string) {
	if !c.enabled {
		return
	}
	c.metrics.streamErrors.WithLabelValues(streamID, kind).Inc()
}

func (c *Collector) RecordBytesReceived(streamID string, n int) {
	if !c.enabled || n <= 0 {
		return
	}
	c.metrics.bytesReceived.WithLabelValues(streamID).Add(float64(n))
}

func (c *Collector) RecordPacketSubmitted(streamID string) {
	if !c.enabled {
		return
	}
	c.metrics.packetsSubmitted.WithLabelValues(streamID).Inc()
}
