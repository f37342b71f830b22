// Package senderworker owns the transport handle for the duration of the
// session and runs the long-lived dequeue/transmit/poll loop described in
// §4.6.
package senderworker

import (
	"context"
	"sync/atomic"
	"time"

	"zixicore/internal/bufpool"
	"zixicore/internal/zixi"
	"zixicore/internal/zixi/bonding"
	"zixicore/internal/zixi/feeder"
	"zixicore/internal/zixi/queue"
	"zixicore/internal/zixi/tsadapt"
	"zixicore/internal/zixierr"
	"zixicore/internal/zixilog"
)

// statsQueryInterval is STATS_QUERY_INTERVAL_NS from the original header.
const statsQueryInterval = 1 * time.Second

// Hooks lets the lifecycle owner observe sender-loop events without the
// worker importing the orchestrator package (avoids an import cycle and
// keeps the worker testable in isolation).
type Hooks struct {
	OnBytesSent     func(n uint64)
	OnStatsPolled   func(stats feeder.ConnectionStats)
	OnBondingScan   func(err error)
	OnDisconnected  func(err error)
}

// Worker runs the sender loop for a single session.
type Worker struct {
	handle    uintptr
	q         *queue.Queue
	ready     chan struct{} // queue-non-empty semaphore analogue
	stop      chan struct{}
	hooks     Hooks
	rescanner *bonding.Rescanner

	audioSampleRate int
	audioChannels   int

	lastStatsQuery time.Time
	safeToEvent    atomic.Bool
	disconnected   atomic.Bool
	totalBytesSent atomic.Uint64
}

// New constructs a Worker bound to an open transport handle and queue. When
// bonding is true, a bonding.Rescanner paces set_automatic_ips calls against
// the handle; it is the sole pacing mechanism for the rescan (§4.6 step 6),
// not merely a backstop alongside a separate wall-clock gate.
func New(handle uintptr, q *queue.Queue, bondingEnabled bool, audioSampleRate, audioChannels int, hooks Hooks) *Worker {
	w := &Worker{
		handle:          handle,
		q:               q,
		ready:           make(chan struct{}, 1),
		stop:            make(chan struct{}),
		hooks:           hooks,
		audioSampleRate: audioSampleRate,
		audioChannels:   audioChannels,
	}
	if bondingEnabled {
		w.rescanner = bonding.New(func() error { return feeder.SetAutomaticIPs(w.handle) })
	}
	w.safeToEvent.Store(true)
	return w
}

// Notify signals the worker that the queue is non-empty; safe to call from
// the producer thread. Coalesces multiple notifications (it's a semaphore
// standing in for "queue not empty", not a counted event).
func (w *Worker) Notify() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// Stop requests the loop to exit after its current iteration.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

// Disconnected reports whether the loop has transitioned to the terminal
// Disconnected state (a SendError was observed).
func (w *Worker) Disconnected() bool { return w.disconnected.Load() }

// TotalBytesSent reports the cumulative payload bytes handed to the feeder.
func (w *Worker) TotalBytesSent() uint64 { return w.totalBytesSent.Load() }

// Run executes the main loop until Stop is called or a SendError forces a
// disconnect. It returns the terminal error, if any (nil on a clean stop).
func (w *Worker) Run(ctx context.Context) error {
	defer w.closeHandle()

	for {
		select {
		case <-w.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-w.ready:
		}

		for {
			pkt, ok := w.q.Dequeue()
			if !ok {
				break
			}
			if err := w.sendOne(pkt); err != nil {
				w.disconnected.Store(true)
				w.safeToEvent.Store(false)
				if w.hooks.OnDisconnected != nil {
					w.hooks.OnDisconnected(err)
				}
				return err
			}
			w.maybePollStats()
			w.maybeBondingScan()
		}

		select {
		case <-w.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// sendOne applies the timestamp adapter and transmits a single packet,
// classifying the feeder's return per §4.6 step 4 / §7. Audio payloads
// arrive already ADTS-wrapped from a bufpool buffer (§4.4); sendOne is the
// single point where that buffer's lifetime ends, win or lose.
func (w *Worker) sendOne(pkt zixi.Packet) error {
	var pts, dts uint64
	payload := pkt.Payload

	if pkt.Kind == zixi.Video {
		pts = tsadapt.RebaseVideoPTS(pkt.PTS, pkt.TimebaseNum, pkt.TimebaseDen)
		dts = tsadapt.RebaseVideoDTS(pkt.DTS, pkt.TimebaseNum, pkt.TimebaseDen)
	} else {
		pts = tsadapt.RebaseAudioTimestamp(pkt.PTS, pkt.TimebaseNum, pkt.TimebaseDen)
		dts = tsadapt.RebaseAudioTimestamp(pkt.DTS, pkt.TimebaseNum, pkt.TimebaseDen)
		defer bufpool.Put(payload)
	}

	rc := feeder.SendElementaryFrame(w.handle, payload, pkt.Kind == zixi.Video, pts, dts)
	switch rc {
	case feeder.Ok:
		w.totalBytesSent.Add(uint64(len(payload)))
		if w.hooks.OnBytesSent != nil {
			w.hooks.OnBytesSent(uint64(len(payload)))
		}
		return nil
	case feeder.NotReady, feeder.OverLimit:
		// TransientCondition: the feeder owns retry/buffering; still count
		// the packet as sent.
		zixilog.Warn("feeder transient condition", "code", rc)
		w.totalBytesSent.Add(uint64(len(payload)))
		if w.hooks.OnBytesSent != nil {
			w.hooks.OnBytesSent(uint64(len(payload)))
		}
		return nil
	default:
		return zixierr.NewSendError(int(rc), nil)
	}
}

// maybePollStats implements §4.6 step 5.
func (w *Worker) maybePollStats() {
	now := time.Now()
	if !w.lastStatsQuery.IsZero() && now.Sub(w.lastStatsQuery) < statsQueryInterval {
		return
	}
	stats, err := feeder.GetStats(w.handle)
	if err != nil {
		// StatsUnavailable: leave counters untouched until the next interval.
		return
	}
	w.lastStatsQuery = now
	if w.hooks.OnStatsPolled != nil {
		w.hooks.OnStatsPolled(stats)
	}
}

// maybeBondingScan implements §4.6 step 6, delegating the pacing decision to
// the worker's bonding.Rescanner rather than a second, independent
// wall-clock gate.
func (w *Worker) maybeBondingScan() {
	if w.rescanner == nil {
		return
	}
	err := w.rescanner.ScanWithResult()
	if w.hooks.OnBondingScan != nil {
		w.hooks.OnBondingScan(err)
	}
}

func (w *Worker) closeHandle() {
	if w.rescanner != nil {
		w.rescanner.Close()
	}
	if err := feeder.CloseStream(w.handle); err != nil {
		zixilog.Warn("close_stream failed", "error", err)
	}
	w.handle = 0
}
