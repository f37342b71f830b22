// Package stream implements the Stream Lifecycle & Telemetry orchestrator
// (§4.8): it owns the Stream State for a single session, drives the
// Created → Connecting → Active → Stopping → Destroyed state machine, and
// is the only component collaborators (the ambient CLI, a future host UI)
// talk to directly.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"zixicore/internal/zixi"
	"zixicore/internal/zixi/connectworker"
	"zixicore/internal/zixi/feeder"
	"zixicore/internal/zixi/feedback"
	"zixicore/internal/zixi/queue"
	"zixicore/internal/zixi/rtmpbridge"
	"zixicore/internal/zixi/senderworker"
	"zixicore/internal/zixierr"
	"zixicore/internal/zixilog"
)

// State is the Stream State's lifecycle phase.
type State int

const (
	Created State = iota
	Connecting
	Active
	Stopping
	Destroyed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Destroyed:
		return "destroyed"
	default:
		return "created"
	}
}

// StopReason identifies why a session transitioned to Stopping.
type StopReason int

const (
	StopUser StopReason = iota
	StopDisconnected
	StopBadPath
	StopConnectError
)

func (r StopReason) String() string {
	switch r {
	case StopDisconnected:
		return "disconnected"
	case StopBadPath:
		return "bad_path"
	case StopConnectError:
		return "connect_error"
	default:
		return "user"
	}
}

// congestionHoldWindow is the 5s hold from §4.8: congestion reads 1.0 for at
// least this long after any interval in which dropped packets increased.
const congestionHoldWindow = 5 * time.Second

// Session is a single live-output session: one Stream State, one queue, one
// Connect Worker invocation, one Sender Worker, one feedback controller, and
// (optionally) one RTMP bridge.
type Session struct {
	id  string
	cfg zixi.Config

	queue    *queue.Queue
	sender   *senderworker.Worker
	feedback *feedback.Controller
	rtmp     *rtmpbridge.Bridge

	mu         sync.RWMutex
	state      State
	stopReason StopReason

	stopRequested atomic.Bool
	disconnected  atomic.Bool

	totalBytesSent atomic.Uint64

	congestionMu       sync.Mutex
	lastDroppedPackets uint32
	nowDroppedPackets  uint32
	congestedStartTs   time.Time

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a Stream State in the Created phase. It does not touch the
// feeder or the network; Validate is run eagerly so a malformed
// Configuration is rejected before start() ever spawns a worker.
func New(cfg zixi.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		queue: queue.New(),
		state: Created,
	}
	if cfg.RTMP.Enabled {
		s.rtmp = rtmpbridge.NewBridge()
	}
	s.feedback = feedback.New(cfg.VideoBitrate, nil)
	return s, nil
}

// ID returns the session's generated identifier, used to correlate log
// lines and telemetry across the lifetime of the session.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(v State) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
}

// Start runs the Connect Worker synchronously and, on success, spawns the
// Sender Worker in the background. It returns once the session is either
// Active or has failed to connect.
func (s *Session) Start(ctx context.Context) error {
	if s.State() != Created {
		return zixierr.NewConfigError("stream.start", errAlreadyStarted)
	}
	s.setState(Connecting)
	s.feedback.SetConnecting(true)

	log := zixilog.WithSession(zixilog.Logger(), s.id, s.cfg.URL)
	log.Info("connecting")

	if s.stopRequested.Load() {
		s.setState(Destroyed)
		return zixierr.NewConfigError("stream.start", errStopBeforeConnect)
	}

	onBandwidthHint := func(totalBps uint64, forceIframe bool) {
		s.feedback.OnBandwidthHint(totalBps, forceIframe, func() {
			log.Info("feeder requested forced keyframe")
		})
	}
	result, err := connectworker.Connect(s.cfg, s.stopRequested.Load, onBandwidthHint)
	if err != nil {
		log.Error("connect failed", "error", err)
		s.setState(Destroyed)
		return err
	}

	// A Stop() can race a blocking open_stream[_with_rtmp] call; re-check
	// immediately after Connect returns successfully and before handing the
	// handle to the Sender Worker, per §5.
	if s.stopRequested.Load() {
		if closeErr := feeder.CloseStream(result.Handle); closeErr != nil {
			log.Warn("close_stream failed after a stop raced the connect", "error", closeErr)
		}
		s.setState(Destroyed)
		return zixierr.NewConfigError("stream.start", errStopBeforeConnect)
	}

	if s.rtmp != nil {
		s.rtmp.MarkConnected()
	}

	s.feedback.SetConnecting(false)
	s.feedback.SetActive(true)
	s.feedback.SetCanSendEncoderFeedback(s.cfg.EncoderFeedbackEnabled)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	s.group = group

	s.sender = senderworker.New(result.Handle, s.queue, s.cfg.Bonding, s.cfg.AudioSampleRate, s.cfg.AudioChannels, senderworker.Hooks{
		OnBytesSent: func(n uint64) {
			s.totalBytesSent.Add(n)
			if s.rtmp != nil {
				s.rtmp.RecordFrame(time.Now())
			}
		},
		OnStatsPolled: s.onStatsPolled,
		OnBondingScan: func(err error) {
			if err != nil {
				log.Warn("bonding rescan failed", "error", err)
			}
		},
		OnDisconnected: func(err error) {
			s.disconnected.Store(true)
			s.feedback.SetDisconnected(true)
			log.Error("sender worker disconnected", "error", err)
			s.beginStop(StopDisconnected)
		},
	})

	group.Go(func() error {
		return s.sender.Run(gctx)
	})

	s.setState(Active)
	log.Info("session active")
	return nil
}

// onStatsPolled implements the §4.8 congestion-latch transition edge: the
// hold window is (re)armed only when dropped packets increase since the
// last poll, never merely because they remain elevated.
func (s *Session) onStatsPolled(st feeder.ConnectionStats) {
	s.congestionMu.Lock()
	defer s.congestionMu.Unlock()
	s.nowDroppedPackets = st.NotRecovered
	if s.nowDroppedPackets > s.lastDroppedPackets {
		s.congestedStartTs = time.Now()
	}
	s.lastDroppedPackets = s.nowDroppedPackets
}

// SubmitPacket enqueues pkt for the sender worker, best-effort: a silent
// no-op once the session is disconnected or a stop has been requested, per
// §4.8's submit_packet contract.
func (s *Session) SubmitPacket(pkt zixi.Packet) {
	if s.disconnected.Load() || s.stopRequested.Load() {
		return
	}
	s.queue.Enqueue(pkt)
	if s.sender != nil {
		s.sender.Notify()
	}
	s.feedback.RecordRawFrame()
}

// Stop requests an orderly shutdown; idempotent.
func (s *Session) Stop(reason StopReason) {
	s.beginStop(reason)
}

func (s *Session) beginStop(reason StopReason) {
	if !s.stopRequested.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.stopReason = reason
	s.state = Stopping
	s.mu.Unlock()
	s.feedback.SetSafeToEvent(false)
	if s.sender != nil {
		s.sender.Stop()
		s.sender.Notify()
	}
}

// Destroy joins all workers and releases the queue, per §4.8's destroy
// contract. Safe to call once the session has reached Stopping or beyond;
// calling it from Active first requests a stop.
func (s *Session) Destroy() {
	s.beginStop(StopUser)
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	s.queue.Drain()
	s.setState(Destroyed)
}

// TotalBytes reports cumulative bytes handed to the feeder.
func (s *Session) TotalBytes() uint64 { return s.totalBytesSent.Load() }

// DroppedFrames reports cumulative packets removed by the queue's drop
// policy.
func (s *Session) DroppedFrames() uint32 { return s.queue.DroppedFrames() }

// Congestion implements §4.8's congestion formula: 1.0 for at least
// congestionHoldWindow after a drop-count increase; otherwise, when
// feedback is enabled, 1 − last_sent_feedback/video_bitrate; otherwise 0.0.
func (s *Session) Congestion() float64 {
	s.congestionMu.Lock()
	held := !s.congestedStartTs.IsZero() && time.Since(s.congestedStartTs) < congestionHoldWindow
	s.congestionMu.Unlock()
	if held {
		return 1.0
	}
	if s.cfg.EncoderFeedbackEnabled && s.cfg.VideoBitrate > 0 {
		ratio := 1.0 - float64(s.feedback.LastSent())/float64(s.cfg.VideoBitrate)
		if ratio < 0 {
			ratio = 0
		}
		return ratio
	}
	return 0.0
}

var (
	errAlreadyStarted    = stateErr("session already started")
	errStopBeforeConnect = stateErr("stop requested before connect")
)

type stateErr string

func (e stateErr) Error() string { return string(e) }
