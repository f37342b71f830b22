package tsadapt

import "testing"

// Testable property #2: ∀ packets sent to feeder, audio payloads start with
// bytes FF F1 4C 80 ?? ?? FC (48kHz stereo), with the length field correctly
// encoded as payload_size+7.
func TestBuildADTSHeaderFixedBytes(t *testing.T) {
	t.Parallel()
	h := BuildADTSHeader(100, 48000, 2)
	if h[0] != 0xFF || h[1] != 0xF1 || h[2] != 0x4C || h[3] != 0x80 || h[6] != 0xFC {
		t.Fatalf("unexpected fixed header bytes: % X", h)
	}
}

func TestBuildADTSHeaderFrameLength(t *testing.T) {
	t.Parallel()
	cases := []int{0, 1, 13, 100, 1000, 2000}
	for _, payloadSize := range cases {
		h := BuildADTSHeader(payloadSize, 48000, 2)
		wantLen := uint32(payloadSize + 7)
		gotLen := (uint32(h[3]&0x3) << 11) | (uint32(h[4]) << 3) | (uint32(h[5]) >> 5)
		if gotLen != wantLen {
			t.Fatalf("payload=%d: frame length decoded as %d, want %d", payloadSize, gotLen, wantLen)
		}
	}
}

func TestBuildADTSHeaderBufferFullnessAndRawBlocks(t *testing.T) {
	t.Parallel()
	h := BuildADTSHeader(50, 44100, 1)
	bufferFullness := (uint32(h[5]&0x1F) << 6) | uint32(h[6]>>2)
	if bufferFullness != 0x7FF {
		t.Fatalf("expected buffer fullness 0x7FF, got %#x", bufferFullness)
	}
	if h[6]&0x3 != 0 {
		t.Fatalf("expected zero raw-data-block count bits")
	}
}

func TestWrapAudioFramePrependsHeader(t *testing.T) {
	t.Parallel()
	payload := []byte{1, 2, 3, 4, 5}
	out := WrapAudioFrame(payload, 48000, 2)
	if len(out) != len(payload)+7 {
		t.Fatalf("unexpected wrapped length: %d", len(out))
	}
	if out[0] != 0xFF || out[1] != 0xF1 {
		t.Fatalf("missing ADTS sync bytes in wrapped frame")
	}
	for i, b := range payload {
		if out[7+i] != b {
			t.Fatalf("payload byte %d mismatch: got %x want %x", i, out[7+i], b)
		}
	}
}

func TestRebaseNonNegativeVideoDTSMonotone(t *testing.T) {
	t.Parallel()
	var last uint64
	var lastSet bool
	dtsUsecSteps := []int64{0, 1000, 2000, 5000, 9000}
	for _, dts := range dtsUsecSteps {
		got := RebaseVideoDTS(dts, 1, 1000)
		if lastSet && got < last {
			t.Fatalf("rebase not monotone: %d followed by %d", last, got)
		}
		last = got
		lastSet = true
	}
}

func TestRebaseNonNegativeFormula(t *testing.T) {
	t.Parallel()
	// ts=2, timebase 1/1000 -> 2 * 1 * 90000 / 1000 = 180.
	if got := RebaseVideoPTS(2, 1, 1000); got != 180 {
		t.Fatalf("unexpected rebase result: %d", got)
	}
	if got := RebaseAudioTimestamp(2, 1, 1000); got != 180 {
		t.Fatalf("unexpected audio rebase result: %d", got)
	}
}

func TestRebaseNegativeDTSWraps(t *testing.T) {
	t.Parallel()
	got := RebaseVideoDTS(-2, 1, 1000)
	want := uint64(wrapConstant + (-2*90000*1)/1000)
	if got != want {
		t.Fatalf("unexpected wrap result: got %d want %d", got, want)
	}
	// a negative DTS must wrap to something below the wrap constant itself.
	if got >= uint64(wrapConstant) {
		t.Fatalf("wrapped value %d should be less than the wrap constant", got)
	}
}
