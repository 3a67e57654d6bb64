package kroxy

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kroxylicious/kroxycore/internal/recordlog"
)

// BackendHandler is the broker-facing connection state machine (§4.5): it
// forwards request frames written by the frontend, reads response frames,
// pairs them with the correlation table, pushes them through the filter
// chain in reverse, and writes the result to the client-facing connection.
// On close it cancels all outstanding correlation entries.
type BackendHandler struct {
	conn net.Conn
	corr *CorrelationManager
	enc  *RequestEncoder
	dec  *ResponseDecoder

	chain   *FilterChain
	chainMu *sync.Mutex // shared with the frontend; see doc on chainMu in frontend.go
	respEnc *ResponseEncoder

	log   Logger
	hooks HookSet
	vname string

	logFrames  bool
	logNetwork bool

	closed chan struct{}
	once   sync.Once
}

// Backpressure note (§4.4): the spec's reference implementation toggles an
// explicit auto-read flag on non-blocking event-loop sockets. This core
// instead runs each direction as a synchronous read-process-write pump on
// blocking net.Conn: a downstream.Write that can't proceed because the
// peer is slow to read simply blocks the pump goroutine, which in turn
// stops it from reading its own next frame. That is the same invariant
// (no more than the single in-flight frame is ever buffered in memory)
// expressed through Go's native blocking I/O instead of an explicit flag.

// newBackendHandler wires a dialed broker connection into the data plane.
// decodeResponse is the outbound decode predicate derived from the chain's
// filters (§4.4).
func newBackendHandler(conn net.Conn, chain *FilterChain, chainMu *sync.Mutex, respEnc *ResponseEncoder, log Logger, hooks HookSet, vcluster VirtualCluster) *BackendHandler {
	corr := NewCorrelationManager()
	b := &BackendHandler{
		conn:       conn,
		corr:       corr,
		chain:      chain,
		chainMu:    chainMu,
		respEnc:    respEnc,
		log:        log,
		hooks:      hooks,
		vname:      vcluster.Name,
		logFrames:  vcluster.LogFrames,
		logNetwork: vcluster.LogNetwork,
		closed:     make(chan struct{}),
	}
	decodeResponse := func(apiKey, apiVersion int16) bool {
		if chain == nil {
			return false
		}
		for _, f := range chain.filters {
			if subscribed(f, apiKey) {
				return true
			}
		}
		return false
	}
	b.enc = NewRequestEncoder(conn, corr, decodeResponse)
	b.dec = NewResponseDecoder(bufio.NewReader(conn), corr)
	return b
}

// SendRequest is the sendRequestFunc backing FilterContext.SendRequest
// (§4.3 send_request): it encodes an out-of-band request with a fresh
// correlation id and a promise, writes it upstream, and returns the
// promise for FilterContext to await.
func (b *BackendHandler) SendRequest(apiKey, apiVersion int16, body kmsg.Request) (*responsePromise, error) {
	promise := newResponsePromise()
	frame := &RequestFrame{APIKey: apiKey, APIVersion: apiVersion, HasResponse: true, Decoded: body}
	if _, err := b.enc.Write(frame, promise); err != nil {
		return nil, err
	}
	return promise, nil
}

// ForwardRequest writes a request frame (from the frontend) upstream,
// assigning a fresh upstream correlation id.
func (b *BackendHandler) ForwardRequest(f *RequestFrame) error {
	start := time.Now()
	_, err := b.enc.Write(f, nil)
	b.hooks.fireWrite(b.vname, f.APIKey, len(f.Opaque), err, time.Since(start))
	return err
}

// Run pumps broker responses until the connection closes or a fatal error
// occurs, pairing each with its correlation entry, running the response
// path of the filter chain (in reverse from len(filters)), and either
// fulfilling an internal promise or writing the result to the client.
func (b *BackendHandler) Run() error {
	defer b.cancelAll(ErrUpstreamClosed)
	for {
		start := time.Now()
		dr, err := b.dec.Next()
		if err != nil {
			b.hooks.fireRead(b.vname, 0, 0, err, time.Since(start))
			return err
		}
		b.hooks.fireRead(b.vname, dr.frame.APIKey, len(dr.frame.Opaque), nil, time.Since(start))
		if err := b.handleResponse(dr); err != nil {
			return err
		}
	}
}

func (b *BackendHandler) handleResponse(dr *decodedResponse) error {
	entry := dr.entry
	frame := dr.frame

	if entry.InternalPromise != nil {
		// §4.1 response encoder: solicited by a filter, not the client —
		// fulfill the promise instead of writing downstream. No response
		// path filters run on an internal promise response; the filter
		// that called send_request sees it directly.
		if frame.Decoded != nil {
			entry.InternalPromise.fulfill(frame.Decoded)
		} else {
			entry.InternalPromise.fulfill(frame.Opaque)
		}
		return nil
	}

	if resp, ok := frame.Decoded.(*kmsg.FetchResponse); ok {
		b.logFetchFrames(resp)
	}

	if b.chain != nil && frame.IsDecoded() {
		b.chainMu.Lock()
		result := b.chain.RunResponse(ResponseHeaderView{
			APIKey:        frame.APIKey,
			APIVersion:    frame.APIVersion,
			CorrelationID: frame.CorrelationID,
		}, frame.Decoded, len(b.chain.filters))
		b.chainMu.Unlock()

		switch result.Kind {
		case ResultDrop:
			return nil
		case ResultClose:
			return result.Err
		default:
			frame.Decoded = result.ResponseBody
		}
	}

	return b.respEnc.Write(frame, entry.DownstreamCorrelationID)
}

// cancelAll fails every outstanding correlation promise; called once on
// Run's return path (§4.2 cancel_all, §7 UpstreamClosed).
func (b *BackendHandler) cancelAll(reason error) {
	b.once.Do(func() {
		if b.logNetwork {
			b.log.Debugf("vcluster=%s backend connection to %s closed: %v", b.vname, b.conn.RemoteAddr(), reason)
		}
		b.corr.CancelAll(reason)
		close(b.closed)
	})
}

// Close closes the underlying broker connection and cancels all pending
// correlation entries.
func (b *BackendHandler) Close() error {
	b.cancelAll(ErrConnectionClosed)
	return b.conn.Close()
}

// logFetchFrames summarizes a decoded Fetch response's record batches at
// debug level when the virtual cluster's LogFrames flag is set (§3).
func (b *BackendHandler) logFetchFrames(resp *kmsg.FetchResponse) {
	if !b.logFrames {
		return
	}
	for _, t := range resp.Topics {
		for _, p := range t.Partitions {
			if len(p.RecordBatches) == 0 {
				continue
			}
			summary, err := recordlog.Summarize(p.RecordBatches)
			if err != nil {
				b.log.Debugf("vcluster=%s fetch topic=%s partition=%d: %v", b.vname, t.Topic, p.Partition, err)
				continue
			}
			b.log.Debugf("vcluster=%s fetch topic=%s partition=%d %s", b.vname, t.Topic, p.Partition, summary)
		}
	}
}

// dialBackend opens the broker-facing TCP connection selected by a
// NetFilter (§4.4 CONNECTING -> CONNECTED). The caller layers TLS on top
// when the virtual cluster carries an UpstreamTLS config.
func dialBackend(host string, port int, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, newFrameError("dialBackend", 0, ErrUpstreamConnectFailure)
	}
	return conn, nil
}
