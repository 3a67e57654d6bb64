package kroxy

import "sync/atomic"

// DecodePredicate answers "should api_key K at version V be fully decoded,
// or passed through opaque?" for a single connection. Per §9, install-once
// semantics let the implementation swap the active predicate with a plain
// atomic pointer, which is what DecodePredicateHolder below does.
type DecodePredicate interface {
	ShouldDecode(apiKey, apiVersion int16) bool
}

// DecodePredicateFunc adapts a function to a DecodePredicate.
type DecodePredicateFunc func(apiKey, apiVersion int16) bool

func (f DecodePredicateFunc) ShouldDecode(apiKey, apiVersion int16) bool { return f(apiKey, apiVersion) }

// opaquePredicate is the default: decode nothing until the filter list is
// fixed (§3 Decode predicate).
var opaquePredicate DecodePredicate = DecodePredicateFunc(func(int16, int16) bool { return false })

// FilterSubscribedPredicate builds the predicate that replaces the default
// once the filter chain for a connection is fixed: decode exactly the api
// keys any filter in the chain subscribed a hook for (§4.4: "the moment
// filters are fixed, replace the decode predicate with one that subscribes
// to exactly the api keys any filter cares about").
func FilterSubscribedPredicate(filters []Filter) DecodePredicate {
	keys := make(map[int16]bool)
	for _, f := range filters {
		for _, k := range f.SubscribedAPIKeys() {
			keys[k] = true
		}
	}
	return DecodePredicateFunc(func(apiKey, _ int16) bool { return keys[apiKey] })
}

// SASLAwarePredicate wraps another predicate so that SASLHandshake and
// SASLAuthenticate are always decoded until authentication completes
// (§3: "a SASL-aware variant additionally forces decode until
// authentication handshake completes"), after which it defers entirely to
// the wrapped predicate.
type SASLAwarePredicate struct {
	inner         DecodePredicate
	authenticated int32
}

// NewSASLAwarePredicate wraps inner with SASL-awareness.
func NewSASLAwarePredicate(inner DecodePredicate) *SASLAwarePredicate {
	return &SASLAwarePredicate{inner: inner}
}

// MarkAuthenticated records that the SASL handshake has completed; after
// this call ShouldDecode defers to the wrapped predicate for every api key.
func (p *SASLAwarePredicate) MarkAuthenticated() {
	atomic.StoreInt32(&p.authenticated, 1)
}

func (p *SASLAwarePredicate) ShouldDecode(apiKey, apiVersion int16) bool {
	if atomic.LoadInt32(&p.authenticated) == 0 && (apiKey == apiKeySaslHandshake || apiKey == apiKeySaslAuthenticate) {
		return true
	}
	return p.inner.ShouldDecode(apiKey, apiVersion)
}

// DecodePredicateHolder lets a connection install a new predicate
// atomically (install-once before OUTBOUND_ACTIVE, read-only after, per
// §5 "Shared resources").
type DecodePredicateHolder struct {
	v atomic.Value // holds DecodePredicate
}

// NewDecodePredicateHolder starts with the default opaque predicate.
func NewDecodePredicateHolder() *DecodePredicateHolder {
	h := &DecodePredicateHolder{}
	h.v.Store(opaquePredicate)
	return h
}

func (h *DecodePredicateHolder) Load() DecodePredicate { return h.v.Load().(DecodePredicate) }

func (h *DecodePredicateHolder) Store(p DecodePredicate) { h.v.Store(p) }

func (h *DecodePredicateHolder) ShouldDecode(apiKey, apiVersion int16) bool {
	return h.Load().ShouldDecode(apiKey, apiVersion)
}
