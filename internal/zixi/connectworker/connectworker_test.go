package connectworker

import (
	"testing"

	"zixicore/internal/zixi"
	"zixicore/internal/zixi/zurl"
)

func TestMachineIDStableAndPrefixed(t *testing.T) {
	t.Parallel()
	id1 := MachineID()
	id2 := MachineID()
	if id1 != id2 {
		t.Fatalf("expected cached machine id to be stable, got %q then %q", id1, id2)
	}
	if len(id1) < len("obs_") || id1[:4] != "obs_" {
		t.Fatalf("expected obs_<hostname> prefix, got %q", id1)
	}
}

// Testable scenario S1: open_stream called with max_bitrate =
// round(2.128M*1.15)+256k = 2,703,200.
func TestBuildStreamConfigMaxBitrate(t *testing.T) {
	t.Parallel()
	cfg := zixi.Config{
		URL:          "zixi://h/c",
		EncryptionID: 3,
		VideoBitrate: 2_000_000,
		AudioBitrate: 128_000,
	}
	parsed, err := zurl.Parse(cfg.URL)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	sc, encCtrl := buildStreamConfig(cfg, parsed)
	if sc.MaxBitrate != 2_703_200 {
		t.Fatalf("expected max_bitrate=2703200, got %d", sc.MaxBitrate)
	}
	if encCtrl != nil {
		t.Fatalf("expected no encoder control block when feedback disabled")
	}
	if sc.Adaptive != 0 {
		t.Fatalf("expected AdaptiveFEC (0) when feedback disabled")
	}
	if sc.FECOverhead != 30 || sc.FECBlockMs != 100 {
		t.Fatalf("unexpected FEC params: overhead=%d block_ms=%d", sc.FECOverhead, sc.FECBlockMs)
	}
}

// Testable scenario S3 setup half: feedback enabled builds the encoder
// control block with the documented aggressiveness/update_interval.
func TestBuildStreamConfigFeedbackEnabled(t *testing.T) {
	t.Parallel()
	cfg := zixi.Config{
		URL:                    "zixi://h/c",
		EncryptionID:           3,
		VideoBitrate:           4_000_000,
		AudioBitrate:           128_000,
		EncoderFeedbackEnabled: true,
	}
	parsed, err := zurl.Parse(cfg.URL)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	sc, encCtrl := buildStreamConfig(cfg, parsed)
	if encCtrl == nil {
		t.Fatalf("expected encoder control block when feedback enabled")
	}
	if encCtrl.Aggressiveness != 20 || encCtrl.UpdateInterval != 2000 {
		t.Fatalf("unexpected encoder control params: %+v", encCtrl)
	}
	if encCtrl.MaxBitrate != encCtrl.MinBitrate*4 {
		t.Fatalf("expected min_bitrate = max_bitrate/4, got min=%d max=%d", encCtrl.MinBitrate, encCtrl.MaxBitrate)
	}
	if sc.FECOverhead != 5 || !boolFromInt32(sc.ForcePadding) {
		t.Fatalf("unexpected adaptive FEC params when feedback enabled: %+v", sc)
	}
}

func boolFromInt32(v int32) bool { return v != 0 }
