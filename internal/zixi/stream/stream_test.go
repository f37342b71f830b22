package stream

import (
	"context"
	"testing"
	"time"

	"zixicore/internal/zixi"
	"zixicore/internal/zixi/feeder"
)

func baseConfig() zixi.Config {
	return zixi.Config{
		URL:             "zixi://host.example/channel1",
		LatencyID:       6,
		EncryptionID:    3,
		VideoBitrate:    2_000_000,
		AudioBitrate:    128_000,
		AudioChannels:   2,
		AudioSampleRate: 48000,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := New(zixi.Config{})
	if err == nil {
		t.Fatalf("expected ConfigError for a Configuration with no URL")
	}
}

func TestNewStartsInCreatedState(t *testing.T) {
	t.Parallel()
	s, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Created {
		t.Fatalf("expected Created, got %v", s.State())
	}
	if s.ID() == "" {
		t.Fatalf("expected a generated session id")
	}
}

// With no native feeder library present, Start must fail closed and move
// the session straight to Destroyed rather than leaving it stuck
// Connecting.
func TestStartFailsClosedWithoutFeeder(t *testing.T) {
	t.Parallel()
	s, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = s.Start(context.Background())
	if err == nil {
		t.Fatalf("expected a connect error with the feeder unavailable")
	}
	if s.State() != Destroyed {
		t.Fatalf("expected Destroyed after a failed connect, got %v", s.State())
	}
}

func TestStartIsRejectedAfterAlreadyStarted(t *testing.T) {
	t.Parallel()
	s, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = s.Start(context.Background()) // moves state away from Created
	err = s.Start(context.Background())
	if err == nil {
		t.Fatalf("expected the second Start call to be rejected")
	}
}

func TestSubmitPacketNoOpAfterStopRequested(t *testing.T) {
	t.Parallel()
	s, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Stop(StopUser)
	s.SubmitPacket(zixi.Packet{Kind: zixi.Video, Payload: []byte{1, 2, 3}})
	if s.queue.Len() != 0 {
		t.Fatalf("expected submit_packet to be a silent no-op once stopped")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	s, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Stop(StopUser)
	s.Stop(StopDisconnected) // must not override the first reason or panic
	s.mu.RLock()
	reason := s.stopReason
	s.mu.RUnlock()
	if reason != StopUser {
		t.Fatalf("expected the first stop reason to stick, got %v", reason)
	}
}

func TestCongestionZeroWithoutFeedbackOrDrops(t *testing.T) {
	t.Parallel()
	s, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Congestion(); got != 0.0 {
		t.Fatalf("expected congestion 0.0 with no drops and feedback disabled, got %v", got)
	}
}

func TestCongestionLatchesOnDropIncrease(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.onStatsPolled(statsWithDrops(5))
	if got := s.Congestion(); got != 1.0 {
		t.Fatalf("expected congestion latched to 1.0 right after a drop increase, got %v", got)
	}
}

func TestCongestionFeedbackRatioWhenNotLatched(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.EncoderFeedbackEnabled = true
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.feedback.SetActive(true)
	s.feedback.SetCanSendEncoderFeedback(true)
	s.feedback.OnBandwidthHint(1_000_000, false, nil) // half of VideoBitrate
	if got := s.Congestion(); got != 0.5 {
		t.Fatalf("expected congestion ratio 0.5, got %v", got)
	}
}

func TestDestroyIsSafeBeforeStart(t *testing.T) {
	t.Parallel()
	s, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := make(chan struct{})
	go func() { s.Destroy(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Destroy did not return for a never-started session")
	}
	if s.State() != Destroyed {
		t.Fatalf("expected Destroyed, got %v", s.State())
	}
}

func statsWithDrops(n uint32) feeder.ConnectionStats { return feeder.ConnectionStats{NotRecovered: n} }
