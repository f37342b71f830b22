// Package metrics exposes the §6 telemetry surface (total_bytes,
// dropped_frames, congestion) plus internal queue-depth and send-latency
// observability, as Prometheus collectors registered against the default
// registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	totalBytesSent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zixi_session_total_bytes_sent",
			Help: "Cumulative payload bytes handed to the feeder for a session.",
		},
		[]string{"session_id"},
	)

	droppedFrames = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zixi_session_dropped_frames_total",
			Help: "Cumulative packets removed by the queue drop policy for a session.",
		},
		[]string{"session_id"},
	)

	congestion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zixi_session_congestion_ratio",
			Help: "Current congestion estimate in [0,1] for a session.",
		},
		[]string{"session_id"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zixi_session_queue_depth",
			Help: "Current packet queue depth for a session.",
		},
		[]string{"session_id"},
	)

	sendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zixi_session_send_latency_seconds",
			Help:    "Observed latency of individual send_elementary_frame calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"session_id", "kind"},
	)

	connectOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zixi_connect_outcome_total",
			Help: "Connect Worker outcomes by result.",
		},
		[]string{"result"},
	)
)

// Reporter binds a single session's telemetry to its label set, so call
// sites never repeat the session_id across calls.
type Reporter struct {
	sessionID string
}

// NewReporter returns a Reporter for the given session.
func NewReporter(sessionID string) *Reporter {
	return &Reporter{sessionID: sessionID}
}

// SetTotalBytes records the cumulative bytes sent so far.
func (r *Reporter) SetTotalBytes(n uint64) {
	totalBytesSent.WithLabelValues(r.sessionID).Set(float64(n))
}

// SetDroppedFrames records the cumulative dropped-frame count.
func (r *Reporter) SetDroppedFrames(n uint32) {
	droppedFrames.WithLabelValues(r.sessionID).Set(float64(n))
}

// SetCongestion records the current congestion ratio.
func (r *Reporter) SetCongestion(v float64) {
	congestion.WithLabelValues(r.sessionID).Set(v)
}

// SetQueueDepth records the current packet queue depth.
func (r *Reporter) SetQueueDepth(n int) {
	queueDepth.WithLabelValues(r.sessionID).Set(float64(n))
}

// ObserveSendLatency records how long a single send_elementary_frame call
// took, labeled by packet kind ("video"/"audio").
func (r *Reporter) ObserveSendLatency(kind string, d time.Duration) {
	sendLatency.WithLabelValues(r.sessionID, kind).Observe(d.Seconds())
}

// RecordConnectOutcome increments the process-wide connect-outcome counter
// ("ok", "connect_error", "feeder_unavailable", "config_error").
func RecordConnectOutcome(result string) {
	connectOutcomeTotal.WithLabelValues(result).Inc()
}

// Unregister removes this session's label combinations from every vector,
// preventing unbounded cardinality growth across the lifetime of a
// long-running host process that creates many short sessions.
func (r *Reporter) Unregister() {
	totalBytesSent.DeleteLabelValues(r.sessionID)
	droppedFrames.DeleteLabelValues(r.sessionID)
	congestion.DeleteLabelValues(r.sessionID)
	queueDepth.DeleteLabelValues(r.sessionID)
	sendLatency.DeletePartialMatch(prometheus.Labels{"session_id": r.sessionID})
}
