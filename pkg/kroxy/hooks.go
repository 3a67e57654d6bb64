package kroxy

import "time"

// Hooks are optional, process-wide observability callbacks the core
// invokes at fixed points in a connection's life. Modeled directly on
// franz-go's own kgo.Hook family (ConnectHook/WriteHook/ReadHook/
// ThrottleHook), which §9's design notes point to as the reference shape
// for this concern. Metrics/admin endpoints themselves are out of scope
// (§1); a Hook is how an outer layer observes the core without the core
// owning an HTTP server. The core fires Connect, Disconnect, Write and
// Read; no core code path invokes ThrottleHook.
//
// Each hook type is independent; a concrete observer (e.g.
// internal/metrics.Collector) may implement any subset.
type (
	ConnectHook interface {
		OnConnect(virtualCluster, remoteAddr string, err error, dt time.Duration)
	}
	DisconnectHook interface {
		OnDisconnect(virtualCluster, remoteAddr string)
	}
	WriteHook interface {
		OnWrite(virtualCluster string, apiKey int16, bytesWritten int, err error, dt time.Duration)
	}
	ReadHook interface {
		OnRead(virtualCluster string, apiKey int16, bytesRead int, err error, dt time.Duration)
	}
	ThrottleHook interface {
		OnThrottle(virtualCluster string, throttleInterval time.Duration)
	}
)

// HookSet bundles whichever hooks a caller configured; nil fields are
// simply skipped. fireX helpers below are the single call site each
// connection path uses so the no-op case costs one nil check.
type HookSet struct {
	Connect    ConnectHook
	Disconnect DisconnectHook
	Write      WriteHook
	Read       ReadHook
	Throttle   ThrottleHook
}

func (h HookSet) fireConnect(vcluster, remoteAddr string, err error, dt time.Duration) {
	if h.Connect != nil {
		h.Connect.OnConnect(vcluster, remoteAddr, err, dt)
	}
}

func (h HookSet) fireDisconnect(vcluster, remoteAddr string) {
	if h.Disconnect != nil {
		h.Disconnect.OnDisconnect(vcluster, remoteAddr)
	}
}

func (h HookSet) fireWrite(vcluster string, apiKey int16, n int, err error, dt time.Duration) {
	if h.Write != nil {
		h.Write.OnWrite(vcluster, apiKey, n, err, dt)
	}
}

func (h HookSet) fireRead(vcluster string, apiKey int16, n int, err error, dt time.Duration) {
	if h.Read != nil {
		h.Read.OnRead(vcluster, apiKey, n, err, dt)
	}
}
