package netfilter

import (
	"fmt"
	"net"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/kroxylicious/kroxycore/pkg/kroxy"
)

// Broker is one upstream a Rendezvous selector can route to.
type Broker struct {
	Name string
	Host string
	Port int
}

// Rendezvous routes each connection to one of a fixed broker set using
// highest-random-weight (rendezvous) hashing keyed on the client's source
// address, so repeated connections from the same client land on the same
// broker without a shared session store.
type Rendezvous struct {
	brokers map[string]Broker
	rv      *rendezvous.Rendezvous
}

// NewRendezvous builds a Rendezvous selector over a fixed broker set.
func NewRendezvous(brokers []Broker) *Rendezvous {
	names := make([]string, len(brokers))
	byName := make(map[string]Broker, len(brokers))
	for i, b := range brokers {
		names[i] = b.Name
		byName[b.Name] = b
	}
	return &Rendezvous{
		brokers: byName,
		rv:      rendezvous.New(names, xxhash.Sum64String),
	}
}

func (r *Rendezvous) SelectServer(ctx *kroxy.NetFilterContext) error {
	key := ctx.Info.SrcAddress
	if host, _, err := net.SplitHostPort(key); err == nil {
		key = host
	}
	name := r.rv.Lookup(key)
	broker, ok := r.brokers[name]
	if !ok {
		return fmt.Errorf("kroxy/netfilter: rendezvous selected unknown broker %q", name)
	}
	return ctx.InitiateConnect(broker.Host, broker.Port, ctx.Filters)
}
