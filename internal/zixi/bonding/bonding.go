// Package bonding drives the periodic NIC-bonding rescan described in §3
// ("bonding: if true, transport is told to aggregate all local NICs and
// periodically rescan") and §4.6 step 6. The rescan itself is performed by
// the feeder (set_automatic_ips); this package only owns the pacing and the
// local interface inventory used for diagnostics, following the teacher's
// ticker/stopChan loop idiom.
package bonding

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"zixicore/internal/zixilog"
)

// minInterval is the floor between rescans, matching the feeder's own
// TIME_BETWEEN_AUTO_BOND_SCAN_US spacing; the limiter is the Sender Worker's
// only pacing mechanism for the rescan, called on every loop iteration.
const minInterval = 10 * time.Second

// RescanFunc performs the actual rescan against the open transport handle
// (feeder.SetAutomaticIPs, bound to a handle by the caller).
type RescanFunc func() error

// Rescanner paces calls to a RescanFunc and logs the local interface
// inventory whenever the set changes, to explain why a rescan was
// triggered.
type Rescanner struct {
	limiter *rate.Limiter
	rescan  RescanFunc
	log     *slog.Logger

	mu          sync.Mutex
	lastIfaces  []string
	scanCount   uint64
	errCount    uint64
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// New constructs a Rescanner. burst allows a single immediate rescan after a
// cold start; subsequent calls are paced at one per minInterval.
func New(rescan RescanFunc) *Rescanner {
	return &Rescanner{
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		rescan:   rescan,
		log:      zixilog.Logger().With("component", "bonding"),
		stopChan: make(chan struct{}),
	}
}

// Allow reports whether a rescan may run now without blocking; exposed
// separately from Scan/ScanWithResult so a caller can decide whether to do
// the (comparatively expensive) interface enumeration at all.
func (r *Rescanner) Allow() bool {
	return r.limiter.Allow()
}

// Scan runs one rescan if the limiter permits it, logging the current local
// interface set when it changes. It is safe to call from the Sender
// Worker's loop on every iteration; most calls will be no-ops.
func (r *Rescanner) Scan() {
	_ = r.ScanWithResult()
}

// ScanWithResult behaves like Scan but returns the rescan's outcome: nil if
// the Rescanner is closed, the limiter skipped this call or the rescan
// succeeded, the rescan's error otherwise. Callers that forward the outcome
// to their own telemetry hook (the Sender Worker's OnBondingScan) use this
// instead of Scan.
func (r *Rescanner) ScanWithResult() error {
	select {
	case <-r.stopChan:
		return nil
	default:
	}
	if !r.Allow() {
		return nil
	}
	r.logInterfaceChange()

	r.mu.Lock()
	r.scanCount++
	r.mu.Unlock()

	if err := r.rescan(); err != nil {
		r.mu.Lock()
		r.errCount++
		r.mu.Unlock()
		r.log.Warn("bonding rescan failed", "error", err)
		return err
	}
	r.log.Debug("bonding rescan ok")
	return nil
}

func (r *Rescanner) logInterfaceChange() {
	ifaces, err := net.Interfaces()
	if err != nil {
		r.log.Warn("failed to enumerate local interfaces", "error", err)
		return
	}
	names := make([]string, 0, len(ifaces))
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		names = append(names, ifc.Name)
	}

	r.mu.Lock()
	changed := !equalStrings(r.lastIfaces, names)
	r.lastIfaces = names
	r.mu.Unlock()

	if changed {
		r.log.Info("local interface set changed", "interfaces", names)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Stats returns the cumulative scan/error counts for telemetry.
func (r *Rescanner) Stats() (scans, errs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanCount, r.errCount
}

// Close stops accepting further scans; idempotent.
func (r *Rescanner) Close() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}
