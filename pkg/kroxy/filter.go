package kroxy

import "github.com/twmb/franz-go/pkg/kmsg"

// Filter is the per-connection interceptor SPI (§6 Filter SPI, consumed).
// A filter declares the api keys it cares about via SubscribedAPIKeys; the
// runtime only invokes OnRequest/OnResponse for decoded frames whose api
// key is in that set; frames decoded for other reasons (e.g. SASL during
// negotiation) skip filters that did not subscribe. Filters hold private state and
// never share it through the core; the default is one instance per
// connection (§5, §9 Open Question: per-connection is the safe default).
type Filter interface {
	// Name identifies the filter in logs and the chain's declared order.
	Name() string

	// SubscribedAPIKeys lists the api keys this filter wants decoded
	// frames for. There are no catch-all hooks: a filter with an empty
	// list never forces a decode and is never invoked.
	SubscribedAPIKeys() []int16

	// OnRequest is invoked for a decoded request frame matching one of
	// SubscribedAPIKeys, in chain order front-to-back (§4.3).
	// ctx.ForwardRequest passes it to the next filter unchanged.
	OnRequest(ctx *FilterContext, header RequestHeaderView, body kmsg.Request) FilterResult

	// OnResponse is invoked for a decoded response frame, in chain order
	// back-to-front.
	OnResponse(ctx *FilterContext, header ResponseHeaderView, body kmsg.Response) FilterResult
}

// RequestHeaderView exposes the fields of a request header a filter hook
// may need, independent of decode/opaque representation.
type RequestHeaderView struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      *string
}

// ResponseHeaderView is the response-side counterpart.
type ResponseHeaderView struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
}

// FilterResultKind tags the variant of FilterResult, per §9's design note
// ("tagged variant {Forward, ShortCircuit, Drop, Close}; the builder
// pattern in the source is a convenience, not essential").
type FilterResultKind int

const (
	// ResultForward passes the (possibly mutated) frame to the next
	// filter, or upstream/downstream if this was the last filter.
	ResultForward FilterResultKind = iota
	// ResultShortCircuit is request-path only: synthesize a response
	// instead of forwarding upstream.
	ResultShortCircuit
	// ResultDrop discards the frame silently.
	ResultDrop
	// ResultClose closes the connection after any flush implied by the
	// other fields.
	ResultClose
)

// FilterResult is returned by every filter hook. Exactly the fields
// relevant to Kind are meaningful; see ForwardRequest, ForwardResponse,
// ShortCircuit, Drop and Close for construction helpers mirroring
// FilterContext's sugar methods.
type FilterResult struct {
	Kind FilterResultKind

	// Request/Response carry the (possibly mutated) body for
	// ResultForward, or the synthesized response for ResultShortCircuit.
	RequestHeader  RequestHeaderView
	RequestBody    kmsg.Request
	ResponseHeader ResponseHeaderView
	ResponseBody   kmsg.Response

	// CloseAfter additionally closes the connection once this result has
	// been acted on (may be combined with ShortCircuit per §4.3).
	CloseAfter bool

	// Err is set when the hook failed; the runtime wraps it as
	// ErrFilterError and fails the connection (§7).
	Err error
}

// ForwardRequest builds a ResultForward from a request.
func ForwardRequest(header RequestHeaderView, body kmsg.Request) FilterResult {
	return FilterResult{Kind: ResultForward, RequestHeader: header, RequestBody: body}
}

// ForwardResponse builds a ResultForward from a response.
func ForwardResponse(header ResponseHeaderView, body kmsg.Response) FilterResult {
	return FilterResult{Kind: ResultForward, ResponseHeader: header, ResponseBody: body}
}

// ShortCircuit builds a ResultShortCircuit: the request never reaches the
// broker; body is sent back through the response path starting at the
// issuing filter's position (§4.3).
func ShortCircuit(header ResponseHeaderView, body kmsg.Response) FilterResult {
	return FilterResult{Kind: ResultShortCircuit, ResponseHeader: header, ResponseBody: body}
}

// Drop builds a ResultDrop.
func Drop() FilterResult { return FilterResult{Kind: ResultDrop} }

// Close builds a ResultClose.
func Close() FilterResult { return FilterResult{Kind: ResultClose, CloseAfter: true} }

// FilterErrorResult builds a result carrying a hook failure.
func FilterErrorResult(err error) FilterResult {
	return FilterResult{Kind: ResultClose, CloseAfter: true, Err: err}
}

// FilterFactory builds the ordered filter chain for one downstream
// connection (§3 "built once per downstream connection via a
// FilterChainFactory"). Implementations typically close over shared,
// read-only configuration and return fresh per-connection Filter instances.
type FilterFactory interface {
	Build(connInfo ConnectionInfo) ([]Filter, error)
}

// FilterFactoryFunc adapts a function to a FilterFactory.
type FilterFactoryFunc func(connInfo ConnectionInfo) ([]Filter, error)

func (f FilterFactoryFunc) Build(connInfo ConnectionInfo) ([]Filter, error) { return f(connInfo) }
