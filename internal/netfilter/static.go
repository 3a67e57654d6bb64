// Package netfilter ships reference kroxy.NetFilter implementations: a
// single fixed upstream, a rendezvous-hash selector across a broker set,
// and a Redis-backed sticky-session selector. Each is a worked example of
// the NetFilter SPI (§6), consumed rather than owned by the core.
package netfilter

import "github.com/kroxylicious/kroxycore/pkg/kroxy"

// Static always routes to one fixed broker address. It is the simplest
// possible NetFilter and a common default for a single-cluster deployment.
type Static struct {
	Host string
	Port int
}

// NewStatic builds a Static NetFilter for one fixed upstream.
func NewStatic(host string, port int) *Static {
	return &Static{Host: host, Port: port}
}

func (s *Static) SelectServer(ctx *kroxy.NetFilterContext) error {
	return ctx.InitiateConnect(s.Host, s.Port, ctx.Filters)
}
