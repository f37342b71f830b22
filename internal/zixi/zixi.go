// Package zixi holds the domain types and pure lookup tables shared by every
// worker in the live elementary-stream transmitter: the session
// Configuration, the Encoded Packet shape, the latency/encryption option
// tables a host UI would otherwise have to hardcode twice, and the encoder
// parameter derivation that used to live inline in the connect path.
package zixi

import (
	stdErrors "errors"
	"time"

	"zixicore/internal/zixi/zurl"
	"zixicore/internal/zixierr"
)

// PacketKind distinguishes a video access unit from an audio frame.
type PacketKind int

const (
	Video PacketKind = iota
	Audio
)

func (k PacketKind) String() string {
	if k == Audio {
		return "audio"
	}
	return "video"
}

// EncryptionMode mirrors the feeder's encryption id enum.
type EncryptionMode int

const (
	EncryptionAES128 EncryptionMode = 0
	EncryptionAES192 EncryptionMode = 1
	EncryptionAES256 EncryptionMode = 2
	EncryptionNone   EncryptionMode = 3
)

// EncryptionFromID maps a zixi_encryption_id value onto an EncryptionMode,
// falling back to None for anything outside {0,1,2,3}.
func EncryptionFromID(id int) EncryptionMode {
	switch id {
	case 0:
		return EncryptionAES128
	case 1:
		return EncryptionAES192
	case 2:
		return EncryptionAES256
	default:
		return EncryptionNone
	}
}

// latencyTableMs is the canonical latency_id -> milliseconds table (§3).
var latencyTableMs = [...]uint32{
	100, 200, 300, 500, 1000, 1500, 2000, 2500,
	3000, 4000, 5000, 6000, 8000, 10000, 12000, 14000, 16000,
}

const defaultLatencyID = 6 // 2000 ms, per §6 defaults

// LatencyFromID maps latency_id in [0,16] to milliseconds; anything outside
// that range maps to the 2000ms default (latency_id 6), per §3.
func LatencyFromID(id int) uint32 {
	if id < 0 || id >= len(latencyTableMs) {
		return latencyTableMs[defaultLatencyID]
	}
	return latencyTableMs[id]
}

// LatencyOption is one entry of the latency_id dropdown a host UI populates.
type LatencyOption struct {
	ID   int
	Ms   uint32
	Name string
}

// LatencyOptions exposes the full latency_id -> label table so a host UI can
// build its dropdown without re-deriving the mapping.
func LatencyOptions() []LatencyOption {
	opts := make([]LatencyOption, len(latencyTableMs))
	for i, ms := range latencyTableMs {
		opts[i] = LatencyOption{ID: i, Ms: ms, Name: msLabel(ms)}
	}
	return opts
}

func msLabel(ms uint32) string {
	// "100 ms", "2000 ms", ... matches the original ZIXI_LATENCIES_STR table.
	return itoa(ms) + " ms"
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// EncryptionOption is one entry of the encryption_id dropdown.
type EncryptionOption struct {
	ID   int
	Mode EncryptionMode
	Name string
}

// EncryptionOptions exposes the encryption_id -> label table.
func EncryptionOptions() []EncryptionOption {
	return []EncryptionOption{
		{ID: 0, Mode: EncryptionAES128, Name: "AES 128"},
		{ID: 1, Mode: EncryptionAES192, Name: "AES 192"},
		{ID: 2, Mode: EncryptionAES256, Name: "AES 256"},
		{ID: 3, Mode: EncryptionNone, Name: "None"},
	}
}

// RTMPConfig carries the optional simultaneous RTMP-destination fields.
type RTMPConfig struct {
	Enabled  bool
	URL      string
	Channel  string
	Username string
	Password string
}

// Config is the immutable, per-session configuration handed down by the host
// collaborator. The core never reads it from disk or parses it from a
// string-keyed bag itself; that translation is the ambient CLI's job.
type Config struct {
	URL                    string
	Password               string
	LatencyID              int
	EncryptionID           int
	EncryptionKey          string
	Bonding                bool
	EncoderFeedbackEnabled bool
	RTMP                   RTMPConfig

	VideoBitrate    uint64 // bps
	MaxVideoBitrate uint64 // bps; 0 means "derive from VideoBitrate"
	AudioBitrate    uint64 // bps
	AudioChannels   int
	AudioSampleRate int
}

// Validate applies the §3/§7 ConfigError checks that must be rejected
// synchronously from start(), before any feeder call is attempted.
func (c Config) Validate() error {
	if c.URL == "" {
		return zixierr.NewConfigError("config.validate", stdErrors.New("url is required"))
	}
	if _, err := zurl.Parse(c.URL); err != nil {
		return zixierr.NewConfigError("config.validate", err)
	}
	mode := EncryptionFromID(c.EncryptionID)
	if mode != EncryptionNone && c.EncryptionKey == "" {
		return zixierr.NewConfigError("config.validate", stdErrors.New("encryption_key is required when encryption is enabled"))
	}
	return nil
}

// EncoderDescriptor is the minimal shape of an encoder capability record the
// lifecycle owner reads before building a session Config.
type EncoderDescriptor struct {
	Bitrate       uint64 // bps
	HasMaxBitrate bool
	MaxBitrate    uint64 // bps, only meaningful if HasMaxBitrate
}

// DeriveEncoderParams computes (video_bitrate, max_video_bitrate) the way the
// original plugin's encoder-params step did: when the encoder does not
// advertise an explicit max, the ceiling floats at 1.5x the nominal bitrate.
func DeriveEncoderParams(desc EncoderDescriptor) (videoBps, maxVideoBps uint64) {
	videoBps = desc.Bitrate
	if desc.HasMaxBitrate && desc.MaxBitrate > 0 {
		maxVideoBps = desc.MaxBitrate
		return
	}
	maxVideoBps = desc.Bitrate + desc.Bitrate/2
	return
}

// Packet is a single compressed access unit moving through the queue.
type Packet struct {
	Kind         PacketKind
	Payload      []byte
	PTS          int64
	DTS          int64
	TimebaseNum  int64
	TimebaseDen  int64
	DTSUsec      int64
	Keyframe     bool
	Priority     int
	DropPriority int
	TrackIdx     int
}

// EnqueuedAt is an alias for time.Time. The queue does not stamp or read it;
// its drop-window arithmetic uses Packet.DTSUsec only.
type EnqueuedAt = time.Time
