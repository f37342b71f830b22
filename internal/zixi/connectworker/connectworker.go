// Package connectworker runs the one-shot session bring-up step: validate
// the URL, assemble the transport configuration, open the session with the
// feeder (optionally bridging a simultaneous RTMP destination), and hand the
// resulting handle off to the Sender Worker.
package connectworker

import (
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"zixicore/internal/zixi"
	"zixicore/internal/zixi/feeder"
	"zixicore/internal/zixi/rtmpbridge"
	"zixicore/internal/zixi/zurl"
	"zixicore/internal/zixierr"
	"zixicore/internal/zixilog"
)

// maxDelayPacketsDivisor mirrors the original plugin's max_delay_packets
// derivation: (video_bps+audio_bps) / (5 * 8 * 188 * 7).
const maxDelayPacketsDivisor = 5 * 8 * 188 * 7

var (
	machineIDGroup  singleflight.Group
	machineIDMu     sync.RWMutex
	cachedMachineID string
	machineIDBuilt  bool
)

// MachineID returns "obs_<hostname>", computed once per process regardless
// of how many sessions call it concurrently (§4.5 step 2): concurrent first
// callers are deduped through singleflight rather than blocking on a mutex
// for the lifetime of the process.
func MachineID() string {
	machineIDMu.RLock()
	if machineIDBuilt {
		id := cachedMachineID
		machineIDMu.RUnlock()
		return id
	}
	machineIDMu.RUnlock()

	v, _, _ := machineIDGroup.Do("machine-id", func() (any, error) {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		id := "obs_" + host

		machineIDMu.Lock()
		cachedMachineID = id
		machineIDBuilt = true
		machineIDMu.Unlock()
		return id, nil
	})
	return v.(string)
}

// Result is handed to the Sender Worker on success.
type Result struct {
	Handle uintptr
}

// Connect runs the full §4.5 sequence. stopRequested is polled before the
// (potentially slow) open_stream[_with_rtmp] call so a stop() issued while
// still Connecting short-circuits without ever dialing out. onBandwidthHint,
// when non-nil, is wired as the feeder's asynchronous bandwidth-hint
// callback for the lifetime of the returned handle (§4.7); it is only
// actually registered when the Configuration enables encoder feedback, since
// buildStreamConfig only allocates an EncoderControlInfo in that case.
func Connect(cfg zixi.Config, stopRequested func() bool, onBandwidthHint feeder.EncoderFeedbackFunc) (Result, error) {
	if stopRequested() {
		return Result{}, zixierr.NewConfigError("connectworker.connect", fmt.Errorf("stop requested before connect"))
	}

	parsed, err := zurl.Parse(cfg.URL)
	if err != nil {
		return Result{}, err
	}

	streamCfg, encCtrl := buildStreamConfig(cfg, parsed)

	log := zixilog.WithFeeder(zixilog.Logger(), "open_stream")

	var handle uintptr
	if cfg.RTMP.Enabled {
		rtmpOut := rtmpbridge.BuildConfig(cfg.RTMP, cfg.VideoBitrate+cfg.AudioBitrate)
		nativeRTMP := rtmpbridge.ToNative(rtmpOut)
		handle, err = feeder.OpenStreamWithRTMP(streamCfg, encCtrl, nativeRTMP, onBandwidthHint)
	} else {
		handle, err = feeder.OpenStream(streamCfg, encCtrl, onBandwidthHint)
	}
	if err != nil {
		log.Error("connect failed", "error", err)
		return Result{}, err
	}

	log.Info("connect succeeded", "host", parsed.Host, "port", parsed.Port, "channel", parsed.Channel)
	return Result{Handle: handle}, nil
}

// buildStreamConfig implements §4.5 steps 2-4.
func buildStreamConfig(cfg zixi.Config, parsed zurl.Parsed) (*feeder.StreamConfig, *feeder.EncoderControlInfo) {
	maxVideoBps := cfg.MaxVideoBitrate
	if maxVideoBps == 0 {
		maxVideoBps = cfg.VideoBitrate
	}

	sc := &feeder.StreamConfig{
		Port:              parsed.Port,
		NumHosts:          1,
		LatencyMs:         zixi.LatencyFromID(cfg.LatencyID),
		MaxDelayPackets:   uint32((cfg.VideoBitrate + cfg.AudioBitrate) / maxDelayPacketsDivisor),
		MaxBitrate:        uint32(math.Round(float64(maxVideoBps+cfg.AudioBitrate)*1.15)) + 256_000,
		ElementaryStreams: 1,
		UseCompression:    1,
		EncryptionMode:    int32(zixi.EncryptionFromID(cfg.EncryptionID)),
	}
	if cfg.Bonding {
		sc.ForceBonding = 1
	}
	copy(sc.Host[:], parsed.Host)
	copy(sc.Channel[:], parsed.Channel)
	copy(sc.Password[:], cfg.Password)
	copy(sc.EncryptionKey[:], cfg.EncryptionKey)
	copy(sc.MachineID[:], MachineID())

	var encCtrl *feeder.EncoderControlInfo
	if cfg.EncoderFeedbackEnabled {
		sc.Adaptive = feeder.AdaptiveEncoder
		sc.FECOverhead = 5
		sc.FECBlockMs = 100
		sc.ForcePadding = 1

		combinedBps := cfg.VideoBitrate + cfg.AudioBitrate
		maxBitrate := uint32(float64(combinedBps) * 1.05)
		encCtrl = &feeder.EncoderControlInfo{
			MinBitrate:     maxBitrate / 4,
			MaxBitrate:     maxBitrate,
			Aggressiveness: 20,
			UpdateInterval: 2000,
		}
	} else {
		sc.Adaptive = feeder.AdaptiveFEC
		sc.FECOverhead = 30
		sc.FECBlockMs = 100
	}

	return sc, encCtrl
}
