package kroxy

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// DefaultFilterHookTimeout is the per-hook deadline from §4.3/§5 (default
// 20s, configurable via ProxyConfig.FilterTimeout / FrontendConfig.FilterTimeout).
const DefaultFilterHookTimeout = 20 * time.Second

// sendRequestFunc is how FilterContext reaches the backend connection to
// issue an out-of-band request; supplied by the backend handler so
// FilterContext itself stays free of net.Conn/state-machine details.
type sendRequestFunc func(apiKey, apiVersion int16, body kmsg.Request) (*responsePromise, error)

// FilterContext is the callback surface passed to every filter hook (§4.3).
// One FilterContext is constructed per connection and reused across hooks;
// AllocateByteBuffer's releases are scoped to the single hook invocation
// currently in flight via beginHook/endHook, called by the filter chain
// runtime immediately around each hook call.
type FilterContext struct {
	info ConnectionInfo

	sendRequest sendRequestFunc
	timeout     time.Duration

	hookBuffers [][]byte
}

func newFilterContext(info ConnectionInfo, send sendRequestFunc, timeout time.Duration) *FilterContext {
	if timeout <= 0 {
		timeout = DefaultFilterHookTimeout
	}
	return &FilterContext{info: info, sendRequest: send, timeout: timeout}
}

// beginHook resets the per-hook scoped-buffer list; called by the chain
// runtime before invoking a filter's OnRequest/OnResponse.
func (c *FilterContext) beginHook() { c.hookBuffers = c.hookBuffers[:0] }

// endHook releases every buffer allocated during the hook that just
// completed, regardless of the hook's outcome (§4.3, §5 "Buffer
// lifecycle": guaranteed release on success, error, timeout, short-circuit,
// or cancellation — the chain runtime calls endHook in all of those paths).
func (c *FilterContext) endHook() {
	for i := range c.hookBuffers {
		c.hookBuffers[i] = nil
	}
	c.hookBuffers = c.hookBuffers[:0]
}

// ForwardRequest is sugar for a ResultForward request result.
func (c *FilterContext) ForwardRequest(header RequestHeaderView, body kmsg.Request) FilterResult {
	return ForwardRequest(header, body)
}

// ForwardResponse is sugar for a ResultForward response result.
func (c *FilterContext) ForwardResponse(header ResponseHeaderView, body kmsg.Response) FilterResult {
	return ForwardResponse(header, body)
}

// AllocateByteBuffer returns a scoped buffer of the requested capacity.
// The context drops its reference to the buffer when the in-flight hook
// completes (endHook); callers must not retain it past the hook
// (§4.3, §9 "implement with a per-hook drop list").
func (c *FilterContext) AllocateByteBuffer(initialCapacity int) []byte {
	buf := make([]byte, 0, initialCapacity)
	c.hookBuffers = append(c.hookBuffers, buf)
	return buf
}

// SendRequest issues an out-of-band request to the upstream broker from
// inside a hook (§4.3 send_request). The runtime allocates a correlation id
// via the correlation manager and records a promise; the response is
// delivered here instead of to the client. The call blocks (on the
// connection's own worker goroutine, via an internal select) until the
// promise resolves or ctx's deadline/timeout fires.
func (c *FilterContext) SendRequest(ctx context.Context, apiVersion int16, body kmsg.Request) (kmsg.Response, error) {
	if c.sendRequest == nil {
		return nil, fmt.Errorf("kroxy: SendRequest called before an upstream connection exists")
	}
	promise, err := c.sendRequest(body.Key(), apiVersion, body)
	if err != nil {
		return nil, err
	}
	hookCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case <-promise.done:
		if promise.resp.err != nil {
			return nil, promise.resp.err
		}
		resp, ok := promise.resp.body.(kmsg.Response)
		if !ok {
			return nil, fmt.Errorf("kroxy: send_request: response was not decoded (api key %d)", body.Key())
		}
		return resp, nil
	case <-hookCtx.Done():
		return nil, fmt.Errorf("kroxy: send_request: %w", ErrFilterTimeout)
	}
}

// SNIHostname returns the TLS SNI hostname the client presented, or "" if
// none (plaintext or no SNI).
func (c *FilterContext) SNIHostname() string { return c.info.SNIHostname }

// ClientSoftwareName/Version return the values a client stashed via its
// ApiVersions request (§4.4).
func (c *FilterContext) ClientSoftwareName() string    { return c.info.ClientSoftwareName }
func (c *FilterContext) ClientSoftwareVersion() string { return c.info.ClientSoftwareVersion }

// AuthorizedID returns the identity established during authentication, if
// any; authentication itself is an out-of-scope external concern (§1) — the
// core only carries whatever identity string an outer SASL/TLS layer
// attaches to the connection.
func (c *FilterContext) AuthorizedID() string { return c.info.AuthorizedID }

// VirtualClusterName returns the name of the virtual cluster this
// connection belongs to.
func (c *FilterContext) VirtualClusterName() string { return c.info.VirtualCluster.Name }

// ChannelDescription returns a human-readable description of the
// connection, suitable for logs.
func (c *FilterContext) ChannelDescription() string {
	return fmt.Sprintf("%s->%s (vcluster=%s)", c.info.SrcAddress, c.info.LocalAddress, c.info.VirtualCluster.Name)
}
