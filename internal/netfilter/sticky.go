package netfilter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kroxylicious/kroxycore/pkg/kroxy"
)

// Sticky routes a connection to the broker a previous connection from the
// same authorized identity was assigned, recorded in Redis with a TTL, and
// otherwise falls back to a Rendezvous selection and records the result for
// next time. This grounds session affinity in a shared store instead of
// per-process state, so affinity survives across proxy instances.
type Sticky struct {
	client   redis.Cmdable
	fallback *Rendezvous
	ttl      time.Duration
}

// NewSticky builds a Sticky selector backed by a Redis client and a
// Rendezvous fallback for identities with no recorded assignment.
func NewSticky(client redis.Cmdable, fallback *Rendezvous, ttl time.Duration) *Sticky {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Sticky{client: client, fallback: fallback, ttl: ttl}
}

func stickyKey(identity string) string { return fmt.Sprintf("kroxy:sticky:%s", identity) }

func (s *Sticky) SelectServer(ctx *kroxy.NetFilterContext) error {
	identity := ctx.Info.AuthorizedID
	if identity == "" {
		identity = ctx.Info.SrcAddress
	}

	rctx := context.Background()
	key := stickyKey(identity)
	name, err := s.client.Get(rctx, key).Result()
	if err == nil && name != "" {
		if broker, ok := s.fallback.brokers[name]; ok {
			s.client.Expire(rctx, key, s.ttl)
			return ctx.InitiateConnect(broker.Host, broker.Port, ctx.Filters)
		}
	}

	name = s.fallback.rv.Lookup(identity)
	broker, ok := s.fallback.brokers[name]
	if !ok {
		return fmt.Errorf("kroxy/netfilter: sticky fallback selected unknown broker %q", name)
	}
	s.client.Set(rctx, key, name, s.ttl)
	return ctx.InitiateConnect(broker.Host, broker.Port, ctx.Filters)
}
