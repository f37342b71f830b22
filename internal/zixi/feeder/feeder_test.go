package feeder

import "testing"

// The native zixi transport library is never present in this test
// environment, so these tests exercise the documented "library absent"
// degrade path (§4.2) rather than a live transport.

func TestIsAvailableFalseWithoutNativeLibrary(t *testing.T) {
	if IsAvailable() {
		t.Skip("native zixi feeder library present in this environment; degrade-path test not applicable")
	}
}

func TestVersionFallbackWhenUnavailable(t *testing.T) {
	if IsAvailable() {
		t.Skip("native zixi feeder library present in this environment")
	}
	if got := Version(); got != "Failed to load version" {
		t.Fatalf("Version() = %q, want fallback string", got)
	}
}

func TestOpenStreamFailsClosedWhenUnavailable(t *testing.T) {
	if IsAvailable() {
		t.Skip("native zixi feeder library present in this environment")
	}
	_, err := OpenStream(&StreamConfig{}, nil, nil)
	if err == nil {
		t.Fatalf("expected error opening stream without a loaded feeder")
	}
}

// The adaptation from the native callback ABI to EncoderFeedbackFunc is
// plain Go and exercised directly here; the purego.NewCallback registration
// itself requires a loaded native library and is not exercised by these
// tests (without one, OpenStream returns before registering, as
// TestOpenStreamFailsClosedWhenUnavailable shows).
func TestEncoderFeedbackTrampolineForwardsCall(t *testing.T) {
	t.Parallel()
	var gotBps uint64
	var gotForce bool
	trampoline := encoderFeedbackTrampoline(func(totalBps uint64, forceIframe bool) {
		gotBps = totalBps
		gotForce = forceIframe
	})
	trampoline(0, 5_000_000, 1)
	if gotBps != 5_000_000 || !gotForce {
		t.Fatalf("expected trampoline to forward call, got bps=%d force=%v", gotBps, gotForce)
	}

	trampoline(0, 3_000_000, 0)
	if gotForce {
		t.Fatalf("expected forceIframe=false to decode as false")
	}
}

func TestEncoderFeedbackTrampolineNilFuncIsNoOp(t *testing.T) {
	t.Parallel()
	trampoline := encoderFeedbackTrampoline(nil)
	if got := trampoline(0, 1, 1); got != 0 {
		t.Fatalf("expected nil-fn trampoline to return 0, got %d", got)
	}
}

func TestSendElementaryFrameFailsClosedWhenUnavailable(t *testing.T) {
	if IsAvailable() {
		t.Skip("native zixi feeder library present in this environment")
	}
	if rc := SendElementaryFrame(1, []byte{1, 2, 3}, true, 0, 0); rc != -1 {
		t.Fatalf("expected -1 return with no loaded feeder, got %d", rc)
	}
}

func TestGetStatsTransientWhenUnavailable(t *testing.T) {
	if IsAvailable() {
		t.Skip("native zixi feeder library present in this environment")
	}
	if _, err := GetStats(1); err == nil {
		t.Fatalf("expected transient error with no loaded feeder")
	}
}

func TestCloseStreamNoOpWithZeroHandle(t *testing.T) {
	if err := CloseStream(0); err != nil {
		t.Fatalf("unexpected error closing zero handle: %v", err)
	}
}
