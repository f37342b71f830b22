// Package feeder wraps the dynamically loaded native transport library (the
// "feeder") that performs FEC-protected, optionally encrypted, optionally
// bonded delivery to the remote Zixi ingest endpoint. It resolves every
// entry point exactly once via purego, never via cgo, on first use rather
// than at process start (see Init), and
// degrades to a process-wide "unavailable" singleton if the library or any
// symbol cannot be found.
package feeder

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"zixicore/internal/zixierr"
	"zixicore/internal/zixilog"
)

// Return codes from send_elementary_frame / open_stream* that the Sender and
// Connect Workers classify explicitly; anything else is a hard error.
const (
	Ok        = 0
	NotReady  = 1
	OverLimit = 2
)

// TimeBetweenAutoBondScan is TIME_BETWEEN_AUTO_BOND_SCAN_US from the feeder's
// own header: the minimum spacing between set_automatic_ips calls.
const TimeBetweenAutoBondScan = 10_000_000 // microseconds

// StreamConfig mirrors zixi_stream_config. Struct-by-value C ABI parameters
// above register width are passed by the caller placing the value in memory
// and handing the callee a pointer; purego.RegisterLibFunc exposes exactly
// that calling convention, so every feeder entry point below takes pointers
// to these structs rather than the values themselves.
type StreamConfig struct {
	Host               [256]byte
	Port               uint16
	NumHosts           int32
	Channel            [256]byte
	Password           [256]byte
	LatencyMs          uint32
	MaxDelayPackets    uint32
	MaxBitrate         uint32
	ElementaryStreams  int32
	UseCompression     int32
	ForceBonding       int32
	Adaptive           int32
	FECOverhead        int32
	FECBlockMs         int32
	ForcePadding       int32
	EncryptionMode     int32
	EncryptionKey      [128]byte
	MachineID          [128]byte
}

// EncoderControlInfo mirrors encoder_control_info, populated only when
// Adaptive == AdaptiveEncoder. Callback is filled in by OpenStream /
// OpenStreamWithRTMP from the caller's EncoderFeedbackFunc, immediately
// before the struct crosses into native code; callers never set it
// themselves.
type EncoderControlInfo struct {
	MinBitrate     uint32
	MaxBitrate     uint32
	Aggressiveness int32
	UpdateInterval uint32
	Callback       uintptr
}

// RTMPOutConfig mirrors zixi_rtmp_out_config.
type RTMPOutConfig struct {
	URL       [512]byte
	Channel   [256]byte
	Username  [128]byte
	Password  [128]byte
	MaxVADiff uint32
	Bitrate   uint32
}

// ConnectionStats mirrors the error-correction statistics block that
// get_stats fills through its last (ecStats) argument, trimmed to the fields
// the Sender Worker consumes.
type ConnectionStats struct {
	NotRecovered uint32
}

// Adaptive modes for StreamConfig.Adaptive.
const (
	AdaptiveFEC     int32 = 0
	AdaptiveEncoder int32 = 1
)

// EncoderFeedbackFunc is invoked on a feeder-owned thread whenever the
// transport revises its bandwidth estimate. total_bps is the feeder's
// current hint, forceIframe requests an immediate keyframe from the
// encoder-side source.
type EncoderFeedbackFunc func(totalBps uint64, forceIframe bool)

type functions struct {
	configureLogging      func(level int32, logFn uintptr, userData uintptr) int32
	openStream            func(cfg unsafe.Pointer, encCtrl unsafe.Pointer, outHandle *uintptr) int32
	openStreamWithRTMP    func(cfg unsafe.Pointer, encCtrl unsafe.Pointer, rtmpOut unsafe.Pointer, outHandle *uintptr) int32
	closeStream           func(handle uintptr) int32
	setAutomaticIPs       func(handle uintptr) int32
	getStats              func(handle uintptr, connStats unsafe.Pointer, netStats unsafe.Pointer, ecStats unsafe.Pointer) int32
	version               func(major, minor, minorMinor, build *int32) int32
	sendElementaryFrame   func(handle uintptr, buf *byte, length int32, video int32, pts uint64, dts uint64) int32
}

var (
	initOnce  sync.Once
	available bool
	initErr   error
	fns       functions
	lib       uintptr
)

// libraryName returns the platform-specific shared library file name. This
// is the one place GOOS-branching belongs: it is not a library concern, just
// a filename convention.
func libraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "zixi_feeder.dll"
	case "darwin":
		return "libzixi_feeder.dylib"
	default:
		return "libzixi_feeder.so"
	}
}

// Init loads the native library and resolves every required entry point. It
// is idempotent and safe to call from multiple goroutines; only the first
// call does any work. Collaborators never need to call it directly — it
// runs lazily behind IsAvailable, Version, OpenStream, OpenStreamWithRTMP
// and ConfigureLogging.
func Init() {
	initOnce.Do(func() {
		name := libraryName()
		handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			initErr = zixierr.NewFeederUnavailableError("dlopen", err)
			zixilog.Warn("zixi feeder library unavailable", "library", name, "error", err)
			return
		}
		lib = handle

		resolved := functions{}
		if !registerAll(handle, &resolved) {
			return
		}
		fns = resolved
		available = true
	})
}

// registerAll resolves every symbol, wrapping the first failure into initErr
// and returning false. A partially loaded library is treated identically to
// an absent one (§4.2: "any unresolved symbol post-load is treated as
// library absence").
func registerAll(handle uintptr, f *functions) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			initErr = zixierr.NewFeederUnavailableError("register_symbol", fmt.Errorf("%v", r))
			ok = false
		}
	}()

	purego.RegisterLibFunc(&f.configureLogging, handle, "zixi_configure_logging")
	purego.RegisterLibFunc(&f.openStream, handle, "zixi_open_stream")
	purego.RegisterLibFunc(&f.openStreamWithRTMP, handle, "zixi_open_stream_with_rtmp")
	purego.RegisterLibFunc(&f.closeStream, handle, "zixi_close_stream")
	purego.RegisterLibFunc(&f.setAutomaticIPs, handle, "zixi_set_automatic_ips")
	purego.RegisterLibFunc(&f.getStats, handle, "zixi_get_stats")
	purego.RegisterLibFunc(&f.version, handle, "zixi_version")
	purego.RegisterLibFunc(&f.sendElementaryFrame, handle, "zixi_send_elementary_frame")
	return true
}

// IsAvailable reports whether the feeder loaded successfully. Collaborators
// that present UI must gate all Zixi UI on this.
func IsAvailable() bool {
	Init()
	return available
}

// Version returns "<major>.<minor>.<build>" when the library is loaded, or
// the §6 fallback string otherwise.
func Version() string {
	Init()
	if !available {
		return "Failed to load version"
	}
	var major, minor, minorMinor, build int32
	if rc := fns.version(&major, &minor, &minorMinor, &build); rc != Ok {
		return "Failed to load version"
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, build)
}

// OpenStream opens a session without RTMP bridging. Returns the opaque
// transport handle, or a ConnectError wrapping the feeder's non-zero code.
// When encCtrl is non-nil and feedback is non-nil, the feeder's asynchronous
// bandwidth-hint callback is wired to invoke feedback on its own thread for
// the lifetime of the returned handle.
func OpenStream(cfg *StreamConfig, encCtrl *EncoderControlInfo, feedback EncoderFeedbackFunc) (uintptr, error) {
	Init()
	if !available {
		return 0, zixierr.NewFeederUnavailableError("open_stream", initErr)
	}
	if encCtrl != nil && feedback != nil {
		encCtrl.Callback = newEncoderFeedbackCallback(feedback)
	}
	var handle uintptr
	rc := fns.openStream(unsafe.Pointer(cfg), encoderControlPtr(encCtrl), &handle)
	if rc != Ok {
		return 0, zixierr.NewConnectError(int(-rc), nil)
	}
	return handle, nil
}

// OpenStreamWithRTMP is OpenStream plus the co-built RTMP bridge config.
func OpenStreamWithRTMP(cfg *StreamConfig, encCtrl *EncoderControlInfo, rtmpOut *RTMPOutConfig, feedback EncoderFeedbackFunc) (uintptr, error) {
	Init()
	if !available {
		return 0, zixierr.NewFeederUnavailableError("open_stream_with_rtmp", initErr)
	}
	if encCtrl != nil && feedback != nil {
		encCtrl.Callback = newEncoderFeedbackCallback(feedback)
	}
	var handle uintptr
	rc := fns.openStreamWithRTMP(unsafe.Pointer(cfg), encoderControlPtr(encCtrl), unsafe.Pointer(rtmpOut), &handle)
	if rc != Ok {
		return 0, zixierr.NewConnectError(int(-rc), nil)
	}
	return handle, nil
}

// encoderFeedbackTrampoline adapts the feeder's native callback ABI
// (void* userdata, uint64_t total_bps, int force_iframe) into a call against
// fn. Kept separate from the purego.NewCallback registration below so the
// adaptation logic is exercised by a plain Go test without a loaded native
// library.
func encoderFeedbackTrampoline(fn EncoderFeedbackFunc) func(userData uintptr, totalBps uint64, forceIframe int32) uintptr {
	return func(_ uintptr, totalBps uint64, forceIframe int32) uintptr {
		if fn != nil {
			fn(totalBps, forceIframe != 0)
		}
		return 0
	}
}

// newEncoderFeedbackCallback registers fn as a function pointer the native
// library can invoke directly from its own thread.
func newEncoderFeedbackCallback(fn EncoderFeedbackFunc) uintptr {
	return purego.NewCallback(encoderFeedbackTrampoline(fn))
}

func encoderControlPtr(e *EncoderControlInfo) unsafe.Pointer {
	if e == nil {
		return nil
	}
	return unsafe.Pointer(e)
}

// CloseStream releases a previously opened handle. Safe to call once per
// handle; the Sender Worker calls it when its loop exits, and
// stream.Session.Start calls it instead when a stop raced the connect.
func CloseStream(handle uintptr) error {
	if !available || handle == 0 {
		return nil
	}
	if rc := fns.closeStream(handle); rc != Ok {
		return zixierr.NewConnectError(int(-rc), nil)
	}
	return nil
}

// SetAutomaticIPs triggers a bonding NIC rescan on the feeder side.
func SetAutomaticIPs(handle uintptr) error {
	if !available || handle == 0 {
		return nil
	}
	if rc := fns.setAutomaticIPs(handle); rc != Ok {
		return zixierr.NewTransientError("set_automatic_ips", int(rc))
	}
	return nil
}

// GetStats polls connection statistics; StatsUnavailable leaves counters
// untouched per §7 and is signalled by a non-nil, non-terminal error.
func GetStats(handle uintptr) (ConnectionStats, error) {
	var stats ConnectionStats
	if !available || handle == 0 {
		return stats, zixierr.NewTransientError("get_stats", -1)
	}
	if rc := fns.getStats(handle, nil, nil, unsafe.Pointer(&stats)); rc != Ok {
		return stats, zixierr.NewTransientError("get_stats", int(rc))
	}
	return stats, nil
}

// SendElementaryFrame transmits one access unit. The return is the raw
// feeder code; callers classify it via Ok/NotReady/OverLimit.
func SendElementaryFrame(handle uintptr, payload []byte, video bool, pts, dts uint64) int32 {
	if !available || handle == 0 {
		return -1
	}
	var ptr *byte
	if len(payload) > 0 {
		ptr = &payload[0]
	}
	isVideo := int32(0)
	if video {
		isVideo = 1
	}
	return fns.sendElementaryFrame(handle, ptr, int32(len(payload)), isVideo, pts, dts)
}

// ConfigureLogging wires the feeder's internal log stream through the
// supplied level threshold. The feeder's native log callback ABI requires a
// C function pointer; since this binding never calls back from native code
// into Go logging synchronously (the feeder threads call the Encoder
// Feedback Controller instead, per §4.7), we simply set the verbosity floor
// and rely on get_stats/open_stream return codes for error detail.
func ConfigureLogging(level int) error {
	Init()
	if !available {
		return zixierr.NewFeederUnavailableError("configure_logging", initErr)
	}
	if rc := fns.configureLogging(int32(level), 0, 0); rc != Ok {
		return zixierr.NewTransientError("configure_logging", int(rc))
	}
	return nil
}
