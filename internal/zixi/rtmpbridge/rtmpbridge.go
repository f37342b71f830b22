// Package rtmpbridge shapes the configuration for the feeder's simultaneous
// RTMP destination (open_stream_with_rtmp). It holds no TCP dialer of its
// own — the feeder performs the RTMP handshake and delivery — but it
// tracks connection status and metrics using the same shape the teacher's
// relay package exposes for its own (TCP-owning) destinations, so the two
// surfaces present identically to an observability consumer.
package rtmpbridge

import (
	"sync"
	"time"

	"zixicore/internal/zixi"
	"zixicore/internal/zixi/feeder"
)

// maxVADiff is fixed per §4.5 step 5.
const maxVADiff = 10_000

// Status mirrors the teacher's DestinationStatus enum, minus the states that
// only make sense for an owned TCP connection (there is no local "dialing"
// phase; the feeder owns that).
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "disconnected"
	}
}

// Config is the Go-side shape of zixi_rtmp_out_config before it is marshaled
// into the feeder's native struct.
type Config struct {
	URL       string
	Channel   string
	Username  string
	Password  string
	MaxVADiff uint32
	Bitrate   uint64
}

// BuildConfig assembles the RTMP co-config from the session's Configuration,
// per §4.5 step 5 (max_va_diff=10000, bitrate=video_bps+audio_bps).
func BuildConfig(rtmp zixi.RTMPConfig, combinedBps uint64) Config {
	return Config{
		URL:       rtmp.URL,
		Channel:   rtmp.Channel,
		Username:  rtmp.Username,
		Password:  rtmp.Password,
		MaxVADiff: maxVADiff,
		Bitrate:   combinedBps,
	}
}

// ToNative marshals Config into the feeder's fixed-size native struct.
func ToNative(c Config) *feeder.RTMPOutConfig {
	n := &feeder.RTMPOutConfig{
		MaxVADiff: c.MaxVADiff,
		Bitrate:   uint32(c.Bitrate),
	}
	copy(n.URL[:], c.URL)
	copy(n.Channel[:], c.Channel)
	copy(n.Username[:], c.Username)
	copy(n.Password[:], c.Password)
	return n
}

// Metrics tracks bridge-observable counters, the RTMP-bridge analogue of the
// teacher's DestinationMetrics (it omits ReconnectCount/ConnectTime-style
// TCP-lifecycle fields the feeder itself owns).
type Metrics struct {
	FramesBridged uint64
	LastSentTime  time.Time
}

// Bridge tracks the observable state of the simultaneous RTMP destination
// for telemetry; it is updated by the Sender Worker alongside the primary
// send path, never dialed independently.
type Bridge struct {
	mu        sync.RWMutex
	status    Status
	lastError error
	metrics   Metrics
}

// NewBridge returns a Bridge in the Disconnected state.
func NewBridge() *Bridge {
	return &Bridge{status: StatusDisconnected}
}

// MarkConnected records a successful open_stream_with_rtmp call.
func (b *Bridge) MarkConnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = StatusConnected
	b.lastError = nil
}

// MarkError records a failed bridge call without tearing down the primary
// session; RTMP bridging failures are reported but not terminal per se,
// since the feeder owns the bridge's own retry policy internally.
func (b *Bridge) MarkError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = StatusError
	b.lastError = err
}

// RecordFrame updates bridge throughput metrics alongside the primary send.
func (b *Bridge) RecordFrame(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.FramesBridged++
	b.metrics.LastSentTime = now
}

// Status returns the current bridge status.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// LastError returns the last bridge error, if any.
func (b *Bridge) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

// GetMetrics returns a copy of the current bridge metrics.
func (b *Bridge) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}
