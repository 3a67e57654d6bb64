package kroxy

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kroxylicious/kroxycore/internal/recordlog"
)

// State is the frontend connection's tagged-variant state (§4.4, §9:
// "express as a tagged variant with one constructor per state;
// transitions are pure functions (state, event) -> (state, actions)").
// FrontendHandler.step implements that transition function; State here is
// the label used for inspection, logging, and tests.
type State int

const (
	StateStart State = iota
	StateHAProxy
	StateAPIVersions
	StateConnecting
	StateConnected
	StateOutboundActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateHAProxy:
		return "HA_PROXY"
	case StateAPIVersions:
		return "API_VERSIONS"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateOutboundActive:
		return "OUTBOUND_ACTIVE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FrontendConfig bundles the pieces a FrontendHandler needs that come from
// the owning Proxy: the virtual cluster descriptor, the NetFilter, the
// filter factory, the canned ApiVersions cache, whether ApiVersions offload
// is enabled, hooks, and the per-hook filter timeout.
type FrontendConfig struct {
	VirtualCluster   VirtualCluster
	NetFilter        NetFilter
	FilterFactory    FilterFactory
	CannedAPIVersions *CannedAPIVersions
	AuthOffload      bool
	Hooks            HookSet
	FilterTimeout    time.Duration
	ConnectTimeout   time.Duration
	Logger           Logger
}

// FrontendHandler is the client-facing connection state machine (§4.4).
type FrontendHandler struct {
	cfg  FrontendConfig
	conn net.Conn
	r    *bufio.Reader

	state State
	log   Logger

	predicate *DecodePredicateHolder
	saslAware *SASLAwarePredicate

	buffered *RequestFrame

	connInfo ConnectionInfo

	chain   *FilterChain
	chainMu sync.Mutex // §4.3: "Filter hooks are single-threaded per connection" —
	// this mutex serializes request-path (this goroutine) and
	// response-path (the backend's goroutine) hook invocations against
	// one shared FilterChain/FilterContext, the blocking-I/O equivalent of
	// pinning both directions to a single worker.

	backend *BackendHandler
}

// NewFrontendHandler constructs a handler for one accepted client
// connection. conn ownership passes to the handler; Run() closes it.
func NewFrontendHandler(conn net.Conn, cfg FrontendConfig) *FrontendHandler {
	log := cfg.Logger
	if log == nil {
		log = defaultLogger()
	}
	h := &FrontendHandler{
		cfg:       cfg,
		conn:      conn,
		r:         bufio.NewReader(conn),
		state:     StateStart,
		log:       log,
		predicate: NewDecodePredicateHolder(),
	}
	h.saslAware = NewSASLAwarePredicate(h.predicate)
	h.connInfo = ConnectionInfo{
		VirtualCluster: cfg.VirtualCluster,
		SrcAddress:     conn.RemoteAddr().String(),
		LocalAddress:   conn.LocalAddr().String(),
	}
	return h
}

// Run drives the state machine to completion: HAProxy preamble, ApiVersions
// interception, upstream selection, then frame pumping until the
// connection closes.
func (h *FrontendHandler) Run() error {
	defer h.conn.Close()
	defer h.cfg.Hooks.fireDisconnect(h.cfg.VirtualCluster.Name, h.connInfo.SrcAddress)
	defer h.logNetworkEvent("disconnect from %s", h.connInfo.SrcAddress)
	h.logNetworkEvent("accepted connection from %s", h.connInfo.SrcAddress)

	if err := h.readPreamble(); err != nil {
		h.fail(err)
		return err
	}

	decoder := NewRequestDecoder(h.r, opaquePredicate)
	for {
		frame, err := decoder.Next()
		if err != nil {
			if h.backend != nil {
				h.backend.Close()
			}
			return err
		}
		if err := h.step(frame, decoder); err != nil {
			h.fail(err)
			return err
		}
		if h.state == StateOutboundActive {
			break
		}
	}

	// From here on the frontend just pumps decoded/opaque requests to the
	// backend using the predicate the filter chain installed (§4.4: "the
	// moment filters are fixed, replace the decode predicate").
	decoder = NewRequestDecoder(h.r, h.saslAware)
	for {
		frame, err := decoder.Next()
		if err != nil {
			h.backend.Close()
			return err
		}
		if err := h.forward(frame); err != nil {
			h.fail(err)
			return err
		}
	}
}

func (h *FrontendHandler) readPreamble() error {
	peer, err := readProxyPreamble(h.r)
	if err != nil {
		return newFrameError("readPreamble", 0, err)
	}
	if peer != nil {
		h.state = StateHAProxy
		h.connInfo.ClientHost, h.connInfo.ClientPort = splitHostPort(peer.SrcAddress)
	} else {
		h.connInfo.ClientHost, h.connInfo.ClientPort = splitHostPort(h.conn.RemoteAddr())
	}
	return nil
}

func splitHostPort(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	return addr.String(), 0
}

// step implements the pure (state, event) -> (state, actions) transition
// for the pre-connect phase (§4.4). frame is always opaque here; only the
// fixed header prefix (api key, version, correlation id) is inspected.
func (h *FrontendHandler) step(frame *RequestFrame, decoder *RequestDecoder) error {
	switch h.state {
	case StateStart, StateHAProxy, StateAPIVersions:
		if frame.APIKey == apiKeyApiVersions {
			return h.handleAPIVersions(frame)
		}
		return h.handleFirstRequest(frame)
	default:
		return newFrameError("step", frame.APIKey, ErrIllegalState)
	}
}

func (h *FrontendHandler) handleAPIVersions(frame *RequestFrame) error {
	req := kmsg.NewApiVersionsRequest()
	req.Version = frame.APIVersion
	if frame.Opaque != nil {
		_, off, err := readRequestClientID(frame.Opaque, frame.APIKey, frame.APIVersion)
		if err == nil && off <= len(frame.Opaque) {
			_ = req.ReadFrom(frame.Opaque[off:]) // best-effort; absent fields default zero
		}
	}
	h.connInfo.ClientSoftwareName = req.ClientSoftwareName
	h.connInfo.ClientSoftwareVersion = req.ClientSoftwareVersion
	h.state = StateAPIVersions

	if !h.cfg.AuthOffload {
		return h.handleFirstRequest(frame)
	}

	resp := h.cfg.CannedAPIVersions.Response(frame.APIVersion)
	respFrame := &ResponseFrame{APIKey: apiKeyApiVersions, APIVersion: frame.APIVersion, Decoded: resp}
	return NewResponseEncoder(h.conn).Write(respFrame, frame.CorrelationID)
}

// handleFirstRequest implements §4.4's START/HA_PROXY/API_VERSIONS ->
// CONNECTING transition: buffer exactly one frame, then ask the NetFilter
// to choose an upstream.
func (h *FrontendHandler) handleFirstRequest(frame *RequestFrame) error {
	if h.buffered != nil {
		return ErrTooManyBuffered
	}
	h.buffered = frame
	h.state = StateConnecting

	var filters []Filter
	if h.cfg.FilterFactory != nil {
		built, err := h.cfg.FilterFactory.Build(h.connInfo)
		if err != nil {
			h.state = StateFailed
			return err
		}
		filters = built
	}

	ctx := &NetFilterContext{Info: h.connInfo, Filters: filters}
	ctx.initiateConnect = h.initiateConnect
	if h.cfg.NetFilter == nil {
		return fmt.Errorf("kroxy: no NetFilter configured")
	}
	return h.cfg.NetFilter.SelectServer(ctx)
}

// initiateConnect is the NetFilter -> core callback (§4.4, §6). It dials
// the chosen broker, builds the outbound pipeline, fixes the decode
// predicate, flushes the buffered frame, and flips the state to
// OUTBOUND_ACTIVE.
func (h *FrontendHandler) initiateConnect(host string, port int, filters []Filter) error {
	start := time.Now()
	conn, err := dialBackend(host, port, h.cfg.ConnectTimeout)
	if err == nil && h.cfg.VirtualCluster.UpstreamTLS != nil {
		tlsCfg := h.cfg.VirtualCluster.UpstreamTLS.Clone()
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = host
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if hsErr := tlsConn.Handshake(); hsErr != nil {
			conn.Close()
			err = newFrameError("dialBackend", 0, ErrUpstreamConnectFailure)
		} else {
			conn = tlsConn
		}
	}
	h.cfg.Hooks.fireConnect(h.cfg.VirtualCluster.Name, net.JoinHostPort(host, fmt.Sprint(port)), err, time.Since(start))
	if err != nil {
		h.logNetworkEvent("connect to %s failed: %v", net.JoinHostPort(host, fmt.Sprint(port)), err)
		h.state = StateFailed
		return err
	}
	h.logNetworkEvent("connected to %s", net.JoinHostPort(host, fmt.Sprint(port)))
	h.state = StateConnected

	fctx := newFilterContext(h.connInfo, nil, h.cfg.FilterTimeout)
	h.chain = NewFilterChain(filters, fctx, h.log)
	h.predicate.Store(h.chain.DecodePredicate())

	respEnc := NewResponseEncoder(h.conn)
	h.backend = newBackendHandler(conn, h.chain, &h.chainMu, respEnc, h.log, h.cfg.Hooks, h.cfg.VirtualCluster)
	fctx.sendRequest = h.backend.SendRequest

	go func() {
		if err := h.backend.Run(); err != nil {
			h.log.Debugf("backend connection for %s closed: %v", h.cfg.VirtualCluster.Name, err)
		}
	}()

	h.state = StateOutboundActive
	if h.buffered != nil {
		f := h.buffered
		h.buffered = nil
		if err := h.forward(f); err != nil {
			return err
		}
	}
	return nil
}

// forward runs a post-connect request through the filter chain (if it was
// decoded) and then to the backend, or short-circuits it.
func (h *FrontendHandler) forward(frame *RequestFrame) error {
	if !frame.IsDecoded() {
		return h.backend.ForwardRequest(frame)
	}

	if req, ok := frame.Decoded.(*kmsg.ProduceRequest); ok {
		h.logProduceFrames(req)
	}

	h.chainMu.Lock()
	result, fromIndex := h.chain.RunRequest(RequestHeaderView{
		APIKey:        frame.APIKey,
		APIVersion:    frame.APIVersion,
		CorrelationID: frame.CorrelationID,
		ClientID:      frame.ClientID,
	}, frame.Decoded)
	h.chainMu.Unlock()

	switch result.Kind {
	case ResultDrop:
		return nil
	case ResultClose:
		if result.Err != nil {
			return result.Err
		}
		return ErrConnectionClosed
	case ResultShortCircuit:
		respFrame := &ResponseFrame{APIKey: frame.APIKey, APIVersion: frame.APIVersion, Decoded: result.ResponseBody}
		h.chainMu.Lock()
		finalResult := h.chain.RunResponse(result.ResponseHeader, result.ResponseBody, fromIndex)
		h.chainMu.Unlock()
		if finalResult.Kind == ResultDrop {
			return nil
		}
		respFrame.Decoded = finalResult.ResponseBody
		if err := NewResponseEncoder(h.conn).Write(respFrame, frame.CorrelationID); err != nil {
			return err
		}
		if result.CloseAfter {
			return ErrConnectionClosed
		}
		return nil
	default:
		frame.Decoded = result.RequestBody
		return h.backend.ForwardRequest(frame)
	}
}

func (h *FrontendHandler) fail(err error) {
	h.state = StateFailed
	h.log.Warnf("connection %s failed: %v", h.connInfo.SrcAddress, err)
}

// logNetworkEvent logs raw connect/disconnect events at debug level when
// the virtual cluster's LogNetwork flag is set (§3).
func (h *FrontendHandler) logNetworkEvent(format string, args ...interface{}) {
	if !h.cfg.VirtualCluster.LogNetwork {
		return
	}
	h.log.Debugf("vcluster=%s "+format, append([]interface{}{h.cfg.VirtualCluster.Name}, args...)...)
}

// logProduceFrames summarizes a decoded Produce request's record batches at
// debug level when the virtual cluster's LogFrames flag is set (§3),
// without fully materializing every record.
func (h *FrontendHandler) logProduceFrames(req *kmsg.ProduceRequest) {
	if !h.cfg.VirtualCluster.LogFrames {
		return
	}
	for _, t := range req.Topics {
		for _, p := range t.Partitions {
			if len(p.Records) == 0 {
				continue
			}
			summary, err := recordlog.Summarize(p.Records)
			if err != nil {
				h.log.Debugf("vcluster=%s produce topic=%s partition=%d: %v", h.cfg.VirtualCluster.Name, t.Topic, p.Partition, err)
				continue
			}
			h.log.Debugf("vcluster=%s produce topic=%s partition=%d %s", h.cfg.VirtualCluster.Name, t.Topic, p.Partition, summary)
		}
	}
}
