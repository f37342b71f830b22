// Command zixi-streamer is an ambient CLI harness that exercises a
// zixi/stream.Session end-to-end: it builds a Configuration from flags,
// starts a session, optionally drives it with a synthetic access-unit
// source (-demo), and serves Prometheus metrics when -metrics-addr is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zixicore/internal/zixi"
	"zixicore/internal/zixi/metrics"
	"zixicore/internal/zixi/stream"
	"zixicore/internal/zixi/tsadapt"
	"zixicore/internal/zixilog"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	zixilog.Init()
	if err := zixilog.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := zixilog.Logger().With("component", "cli")

	sessionCfg := buildSessionConfig(cfg)
	session, err := stream.New(sessionCfg)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.metricsAddr != "" {
		go serveMetrics(cfg.metricsAddr, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		log.Error("failed to start session", "error", err)
		os.Exit(1)
	}
	log.Info("session started", "session_id", session.ID(), "url", cfg.url)

	reporter := metrics.NewReporter(session.ID())
	defer reporter.Unregister()

	if cfg.demo {
		go runDemoSource(ctx, session, sessionCfg)
	}

	telemetryTicker := time.NewTicker(1 * time.Second)
	defer telemetryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			session.Stop(stream.StopUser)
			session.Destroy()
			log.Info("session stopped", "total_bytes", session.TotalBytes(), "dropped_frames", session.DroppedFrames())
			return
		case <-telemetryTicker.C:
			reporter.SetTotalBytes(session.TotalBytes())
			reporter.SetDroppedFrames(session.DroppedFrames())
			reporter.SetCongestion(session.Congestion())
			if session.State() == stream.Destroyed {
				return
			}
		}
	}
}

func buildSessionConfig(cfg *cliConfig) zixi.Config {
	return zixi.Config{
		URL:                    cfg.url,
		Password:               cfg.password,
		LatencyID:              cfg.latencyID,
		EncryptionID:           cfg.encryptionID,
		EncryptionKey:          cfg.encryptionKey,
		Bonding:                cfg.bonding,
		EncoderFeedbackEnabled: cfg.encoderFeedback,
		RTMP: zixi.RTMPConfig{
			Enabled:  cfg.forwardRTMP,
			URL:      cfg.rtmpURL,
			Channel:  cfg.rtmpChannel,
			Username: cfg.rtmpUsername,
			Password: cfg.rtmpPassword,
		},
		VideoBitrate:    uint64(cfg.videoBitrate),
		MaxVideoBitrate: uint64(cfg.maxVideoBitrate),
		AudioBitrate:    uint64(cfg.audioBitrate),
		AudioChannels:   int(cfg.audioChannels),
		AudioSampleRate: int(cfg.audioSampleRate),
	}
}

func serveMetrics(addr string, log interface{ Error(string, ...any) }) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server exited", "error", err)
	}
}

// runDemoSource fabricates a steady 30fps video / 48kHz AAC-ish audio
// elementary stream so the session can be exercised without a real encoder
// attached. It is a harness convenience, not part of the core.
func runDemoSource(ctx context.Context, session *stream.Session, cfg zixi.Config) {
	const frameIntervalMs = 33
	videoTicker := time.NewTicker(frameIntervalMs * time.Millisecond)
	defer videoTicker.Stop()

	var frameIdx int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-videoTicker.C:
			keyframe := frameIdx%30 == 0
			session.SubmitPacket(zixi.Packet{
				Kind:        zixi.Video,
				Payload:     make([]byte, 4096),
				PTS:         frameIdx * frameIntervalMs,
				DTS:         frameIdx * frameIntervalMs,
				TimebaseNum: 1,
				TimebaseDen: 1000,
				DTSUsec:     frameIdx * frameIntervalMs * 1000,
				Keyframe:    keyframe,
				Priority:    1,
			})

			audioPayload := make([]byte, 256)
			wrapped := tsadapt.WrapAudioFrame(audioPayload, cfg.AudioSampleRate, cfg.AudioChannels)
			session.SubmitPacket(zixi.Packet{
				Kind:        zixi.Audio,
				Payload:     wrapped,
				PTS:         frameIdx * frameIntervalMs,
				DTS:         frameIdx * frameIntervalMs,
				TimebaseNum: 1,
				TimebaseDen: 1000,
				DTSUsec:     frameIdx * frameIntervalMs * 1000,
			})

			frameIdx++
		}
	}
}
