// Package tsadapt rebases encoder timestamps into the feeder's 90kHz domain
// and fabricates the 7-byte ADTS header prepended to every AAC elementary
// frame before it reaches the queue.
package tsadapt

import (
	"zixicore/internal/bufpool"
)

const feederClockHz = 90000

// wrapConstant is the 33-bit wrap value applied to negative video DTS,
// matching the native transport's timestamp domain width.
const wrapConstant = 0x1_FFFF_FFFF

// RebaseVideoDTS converts a (possibly negative) encoder-timebase DTS into
// the feeder's 90kHz domain, wrapping negative values per §4.4.
func RebaseVideoDTS(dts, timebaseNum, timebaseDen int64) uint64 {
	if dts >= 0 {
		return rebaseNonNegative(dts, timebaseNum, timebaseDen)
	}
	return uint64(wrapConstant + (dts*feederClockHz*timebaseNum)/timebaseDen)
}

// RebaseVideoPTS always uses the non-negative formula, per §4.4.
func RebaseVideoPTS(pts, timebaseNum, timebaseDen int64) uint64 {
	return rebaseNonNegative(pts, timebaseNum, timebaseDen)
}

// RebaseAudioTimestamp applies the non-negative formula to an audio pts or
// dts; audio timestamps never wrap.
func RebaseAudioTimestamp(ts, timebaseNum, timebaseDen int64) uint64 {
	return rebaseNonNegative(ts, timebaseNum, timebaseDen)
}

func rebaseNonNegative(ts, timebaseNum, timebaseDen int64) uint64 {
	return uint64(ts * timebaseNum * feederClockHz / timebaseDen)
}

// sampleRateIndexTable is the standard AAC sampling_frequency_index table.
// The original plugin carried an equivalent table but never called it,
// always writing index 0 into the header; the mapping is applied here
// because it is required for the ADTS byte pattern this package must
// produce (see DESIGN.md's note on Open Question 1).
var sampleRateIndexTable = map[int]byte{
	96000: 0,
	88200: 1,
	64000: 2,
	48000: 3,
	44100: 4,
	32000: 5,
	24000: 6,
	22050: 7,
	16000: 8,
	12000: 9,
	11025: 10,
	8000:  11,
	7350:  12,
}

// sampleRateIndex returns the sampling_frequency_index for a known rate, or
// 4 (44100Hz, the most common AAC broadcast default) for an unrecognized one.
func sampleRateIndex(sampleRate int) byte {
	if idx, ok := sampleRateIndexTable[sampleRate]; ok {
		return idx
	}
	return 4
}

const (
	adtsHeaderLen  = 7
	adtsProfileLC  = 1     // AAC-LC, stored as (object_type - 1)
	adtsBufferFull = 0x7FF // buffer fullness: VBR, not applicable
)

// BuildADTSHeader fabricates the 7-byte ADTS fixed header for a payload of
// payloadSize bytes at the given sample rate and channel count. frameLength
// in the header is payloadSize+7 per §4.4.
func BuildADTSHeader(payloadSize, sampleRate, channels int) [adtsHeaderLen]byte {
	frameLength := uint32(payloadSize + adtsHeaderLen)
	freqIdx := sampleRateIndex(sampleRate)
	chanCfg := byte(channels) & 0x7

	var h [adtsHeaderLen]byte
	h[0] = 0xFF
	h[1] = 0xF1 // syncword low nibble + MPEG-4 + layer 00 + protection_absent=1
	h[2] = (adtsProfileLC << 6) | (freqIdx << 2) | (chanCfg >> 2)
	h[3] = byte((chanCfg&0x3)<<6) | byte((frameLength>>11)&0x3)
	h[4] = byte((frameLength >> 3) & 0xFF)
	h[5] = byte((frameLength&0x7)<<5) | byte((adtsBufferFull>>6)&0x1F)
	h[6] = byte((adtsBufferFull & 0x3F) << 2)
	return h
}

// WrapAudioFrame returns a pooled buffer containing the 7-byte ADTS header
// followed by payload. The caller must return the buffer to bufpool once the
// feeder call that consumes it returns.
func WrapAudioFrame(payload []byte, sampleRate, channels int) []byte {
	header := BuildADTSHeader(len(payload), sampleRate, channels)
	out := bufpool.Get(len(payload) + adtsHeaderLen)
	copy(out, header[:])
	copy(out[adtsHeaderLen:], payload)
	return out
}
