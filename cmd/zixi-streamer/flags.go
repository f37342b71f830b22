package main

import (
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// zixi.Config, so main.go can validate and map.
type cliConfig struct {
	url                    string
	password               string
	latencyID              int
	encryptionID           int
	encryptionKey          string
	bonding                bool
	encoderFeedback        bool
	videoBitrate           uint
	maxVideoBitrate        uint
	audioBitrate           uint
	audioChannels          uint
	audioSampleRate        uint
	forwardRTMP            bool
	rtmpURL                string
	rtmpChannel            string
	rtmpUsername           string
	rtmpPassword           string
	logLevel               string
	metricsAddr            string
	demo                   bool
	showVersion            bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("zixi-streamer", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.url, "url", "", "Zixi ingest URL, zixi://HOST[:PORT]/CHANNEL")
	fs.StringVar(&cfg.password, "password", "", "Zixi channel password")
	fs.IntVar(&cfg.latencyID, "latency-id", 6, "Latency id in [0,16], default 2000ms")
	fs.IntVar(&cfg.encryptionID, "encryption-id", 3, "Encryption id: 0=AES128 1=AES192 2=AES256 3=None")
	fs.StringVar(&cfg.encryptionKey, "encryption-key", "", "Encryption key, required unless encryption-id=3")
	fs.BoolVar(&cfg.bonding, "bonding", false, "Aggregate all local NICs and periodically rescan")
	fs.BoolVar(&cfg.encoderFeedback, "encoder-feedback", false, "Enable bandwidth feedback to the encoder")
	fs.UintVar(&cfg.videoBitrate, "video-bitrate", 2_000_000, "Nominal video bitrate in bps")
	fs.UintVar(&cfg.maxVideoBitrate, "max-video-bitrate", 0, "Max video bitrate in bps, 0 derives from video-bitrate")
	fs.UintVar(&cfg.audioBitrate, "audio-bitrate", 128_000, "Audio bitrate in bps")
	fs.UintVar(&cfg.audioChannels, "audio-channels", 2, "Audio channel count")
	fs.UintVar(&cfg.audioSampleRate, "audio-sample-rate", 48000, "Audio sample rate in Hz")
	fs.BoolVar(&cfg.forwardRTMP, "forward-rtmp", false, "Bridge a simultaneous RTMP destination via the feeder")
	fs.StringVar(&cfg.rtmpURL, "rtmp-url", "", "RTMP destination URL when -forward-rtmp is set")
	fs.StringVar(&cfg.rtmpChannel, "rtmp-channel", "", "RTMP destination channel/stream key")
	fs.StringVar(&cfg.rtmpUsername, "rtmp-username", "", "RTMP destination username")
	fs.StringVar(&cfg.rtmpPassword, "rtmp-password", "", "RTMP destination password")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9108)")
	fs.BoolVar(&cfg.demo, "demo", false, "Feed a synthetic access-unit stream instead of reading real encoder input")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.showVersion {
		return cfg, nil
	}

	if cfg.url == "" {
		return nil, fmt.Errorf("-url is required")
	}
	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}
	if cfg.forwardRTMP && (cfg.rtmpURL == "" || cfg.rtmpChannel == "") {
		return nil, fmt.Errorf("-forward-rtmp requires -rtmp-url and -rtmp-channel")
	}

	return cfg, nil
}
