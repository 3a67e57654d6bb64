package kroxy

import "crypto/tls"

// VirtualCluster is consumed, not owned, by the core (§3, §6). An outer
// configuration layer builds one per logical cluster the proxy exposes;
// the core only reads these fields.
type VirtualCluster struct {
	Name string

	// UpstreamTLS is optional; nil means the backend connection is plain
	// TCP.
	UpstreamTLS *tls.Config

	// LogFrames, when true, asks the backend/frontend handlers to summarize
	// the record batches of decoded Produce requests and Fetch responses
	// (via internal/recordlog) at debug level.
	LogFrames bool
	// LogNetwork asks the handlers to log accept/connect/disconnect and
	// backend-close events at debug level.
	LogNetwork bool
}

// ConnectionInfo is the read-only view of a downstream connection exposed
// to NetFilter and FilterFactory before an upstream has been chosen.
type ConnectionInfo struct {
	VirtualCluster      VirtualCluster
	SrcAddress          string
	LocalAddress        string
	ClientHost          string
	ClientPort          int
	AuthorizedID        string
	ClientSoftwareName  string
	ClientSoftwareVersion string
	SNIHostname         string
}

// NetFilterContext is handed to NetFilter.SelectServer; it is the callback
// surface a NetFilter uses to report its decision (§6 NetFilter SPI).
type NetFilterContext struct {
	Info ConnectionInfo

	// Filters is the chain built by the connection's FilterFactory before
	// SelectServer was called. Most NetFilter implementations simply pass
	// it straight through to InitiateConnect; a NetFilter is free to
	// substitute its own list instead.
	Filters []Filter

	// initiateConnect is invoked by InitiateConnect; set by the frontend
	// handler before calling SelectServer, never by filter/NetFilter code.
	initiateConnect func(host string, port int, filters []Filter) error
}

// NewNetFilterContext builds a NetFilterContext directly, for NetFilter
// implementations exercised outside a live FrontendHandler (e.g. their own
// unit tests). The frontend handler itself builds contexts inline in
// handleFirstRequest rather than through this constructor.
func NewNetFilterContext(info ConnectionInfo, filters []Filter, initiateConnect func(host string, port int, filters []Filter) error) *NetFilterContext {
	return &NetFilterContext{Info: info, Filters: filters, initiateConnect: initiateConnect}
}

// InitiateConnect is the single callback a NetFilter uses to report its
// routing decision (§4.4: "NetFilter calls back initiate_connect(host,
// port, filters)"). filters is the ordered list to install on the outbound
// pipeline; it may differ from the inbound chain (e.g. a NetFilter may add
// its own filters), but ordinarily comes from the same FilterFactory build.
func (c *NetFilterContext) InitiateConnect(host string, port int, filters []Filter) error {
	return c.initiateConnect(host, port, filters)
}

// NetFilter chooses the upstream broker for a connection (§6, consumed not
// owned). Implementations live outside the core; internal/netfilter ships
// reference implementations exercised by this core's own tests.
type NetFilter interface {
	SelectServer(ctx *NetFilterContext) error
}

// NetFilterFunc adapts a function to a NetFilter.
type NetFilterFunc func(ctx *NetFilterContext) error

func (f NetFilterFunc) SelectServer(ctx *NetFilterContext) error { return f(ctx) }
