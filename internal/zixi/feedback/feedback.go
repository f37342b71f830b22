// Package feedback implements the Encoder Feedback Controller (§4.7): it
// translates the feeder's asynchronous bandwidth hints into bitrate pushes
// toward the encoder, and derives the decimation factor the raw-frame
// source uses to pre-drop proportionally to transport demand.
//
// The feeder invokes this controller from its own thread; per §5 the
// callback path must only ever acquire this controller's mutex and read
// atomics, never the queue mutex, so a feeder thread can never invert lock
// order against the Sender Worker.
package feedback

import (
	"sync"
	"sync/atomic"
)

// PushFunc delivers a bitrate change to the encoder, in kbps.
type PushFunc func(kbps uint32)

// Controller holds the feedback state for a single session.
type Controller struct {
	videoBitrate uint64 // bps, fixed for the session
	push         PushFunc

	active                 atomic.Bool
	connecting             atomic.Bool
	disconnected           atomic.Bool
	safeToEvent            atomic.Bool
	canSendEncoderFeedback atomic.Bool

	mu                  sync.Mutex
	lastSent            uint64
	decimationFactor    float64
	totalRawFrames      uint64
	sentToEncoderFrames uint64
}

// New constructs a Controller for a session with the given nominal video
// bitrate (bps). The controller starts disabled; SetActive/SetCanSendEncoderFeedback must
// be called once the session reaches the relevant lifecycle states.
func New(videoBitrate uint64, push PushFunc) *Controller {
	c := &Controller{videoBitrate: videoBitrate, push: push, decimationFactor: 1.0}
	c.safeToEvent.Store(true)
	return c
}

// SetActive marks whether the session is in the Active state.
func (c *Controller) SetActive(v bool) { c.active.Store(v) }

// SetConnecting marks whether the session is in the Connecting state.
func (c *Controller) SetConnecting(v bool) { c.connecting.Store(v) }

// SetDisconnected marks the session Disconnected; once set, the controller
// becomes permanently a no-op for that session (late feeder callbacks after
// stop are harmless per §5's cancellation rules).
func (c *Controller) SetDisconnected(v bool) { c.disconnected.Store(v) }

// SetSafeToEvent toggles whether it is still safe to act on a callback; a
// hard SendError clears this alongside Disconnected.
func (c *Controller) SetSafeToEvent(v bool) { c.safeToEvent.Store(v) }

// SetCanSendEncoderFeedback reflects whether the video encoder advertises
// dynamic-bitrate capability (§3's encoder_feedback_enabled, gated on
// encoder support).
func (c *Controller) SetCanSendEncoderFeedback(v bool) { c.canSendEncoderFeedback.Store(v) }

// OnBandwidthHint is the feeder callback entry point: (total_bps,
// force_iframe). force_iframe is passed through to the raw-frame source via
// onForceIframe, since requesting a keyframe is the source's concern, not
// this controller's.
func (c *Controller) OnBandwidthHint(totalBps uint64, forceIframe bool, onForceIframe func()) {
	if !c.active.Load() || c.connecting.Load() || c.disconnected.Load() ||
		!c.safeToEvent.Load() || !c.canSendEncoderFeedback.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// An unchanged hint is a full no-op: no push, no decimation-factor
	// recompute, no counter reset.
	if totalBps == c.lastSent {
		return
	}

	floor := c.videoBitrate / 2
	requested := totalBps
	if requested <= floor {
		requested = floor
	}

	if requested != c.lastSent {
		c.lastSent = requested
		if c.push != nil {
			c.push(uint32(requested / 1000))
		}
	}

	f := 1.0
	if floor > 0 {
		f = float64(totalBps) / float64(floor)
		if f > 1.0 {
			f = 1.0
		}
	}
	if f != c.decimationFactor {
		c.decimationFactor = f
		c.totalRawFrames = 0
		c.sentToEncoderFrames = 0
	}

	if forceIframe && onForceIframe != nil {
		onForceIframe()
	}
}

// DecimationFactor returns the current pre-drop ratio in [0,1] that the
// raw-frame source should apply at ingest.
func (c *Controller) DecimationFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decimationFactor
}

// LastSent returns the last bitrate (bps) pushed to the encoder, for
// congestion-ratio computation (§4.8).
func (c *Controller) LastSent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSent
}

// RecordRawFrame and RecordSentFrame let the raw-frame source report its own
// decimation bookkeeping back through the same counters the feeder resets
// on a factor change, so telemetry stays consistent with §4.7's reset rule.
func (c *Controller) RecordRawFrame() {
	c.mu.Lock()
	c.totalRawFrames++
	c.mu.Unlock()
}

// RecordSentFrame increments the sent-to-encoder counter.
func (c *Controller) RecordSentFrame() {
	c.mu.Lock()
	c.sentToEncoderFrames++
	c.mu.Unlock()
}

// FrameCounters returns (totalRawFrames, sentToEncoderFrames) since the last
// decimation-factor change.
func (c *Controller) FrameCounters() (total, sent uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRawFrames, c.sentToEncoderFrames
}
