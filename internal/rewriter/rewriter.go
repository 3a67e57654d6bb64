// Package rewriter is a worked example of the core's Filter SPI: a
// multitenancy filter that prefixes/strips topic names (with prefix helpers
// for group and transaction IDs) so several tenants can share one physical
// Kafka cluster (§1 lists
// multitenancy among the filters the core consumes but does not own —
// this package is the example an outer layer would ship).
package rewriter

import (
	"regexp"
	"strings"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kroxylicious/kroxycore/pkg/kroxy"
)

// identKind enumerates the three identifier classes the rewriter prefixes,
// so PrefixTopic/PrefixGroup/PrefixTransactionID can share one
// add-prefix/strip-prefix implementation instead of three copies differing
// only in which field they close over.
type identKind int

const (
	identTopic identKind = iota
	identGroup
	identTransactionID
)

// Rewriter prefixes/strips topic, group, and transaction IDs for one
// tenant's connection. It implements kroxy.Filter directly, subscribing to
// Produce, Fetch, Metadata and CreateTopics; its hooks rewrite topic names
// only, and group and transaction IDs pass through them unchanged.
type Rewriter struct {
	prefixes [3]string // indexed by identKind
}

// NewRewriter builds a Rewriter for one tenant. An empty prefix disables
// rewriting for that identifier class (matches everything unchanged).
func NewRewriter(topicPrefix, groupPrefix, txnIDPrefix string) *Rewriter {
	return &Rewriter{prefixes: [3]string{identTopic: topicPrefix, identGroup: groupPrefix, identTransactionID: txnIDPrefix}}
}

func (r *Rewriter) Name() string { return "multitenancy.rewriter" }

func (r *Rewriter) SubscribedAPIKeys() []int16 {
	return []int16{
		0,  // Produce
		1,  // Fetch
		3,  // Metadata
		19, // CreateTopics
	}
}

// add prepends the tenant's prefix for kind to ident.
func (r *Rewriter) add(kind identKind, ident string) string {
	return r.prefixes[kind] + ident
}

// strip removes the tenant's prefix for kind from ident, reporting false if
// ident doesn't carry it (it belongs to a different tenant, or to the
// cluster's unprefixed internal namespace). An empty configured prefix
// matches everything unchanged — no multi-tenancy for that identifier kind.
func (r *Rewriter) strip(kind identKind, ident string) (string, bool) {
	prefix := r.prefixes[kind]
	if prefix == "" {
		return ident, true
	}
	if !strings.HasPrefix(ident, prefix) {
		return "", false
	}
	return strings.TrimPrefix(ident, prefix), true
}

// PrefixTopic adds the tenant prefix to a topic name.
func (r *Rewriter) PrefixTopic(topic string) string { return r.add(identTopic, topic) }

// UnprefixTopic removes the tenant prefix from a topic name, reporting
// false if the topic belongs to another tenant.
func (r *Rewriter) UnprefixTopic(topic string) (string, bool) { return r.strip(identTopic, topic) }

// PrefixGroup adds the tenant prefix to a consumer group ID.
func (r *Rewriter) PrefixGroup(group string) string { return r.add(identGroup, group) }

// UnprefixGroup removes the tenant prefix from a consumer group ID.
func (r *Rewriter) UnprefixGroup(group string) (string, bool) { return r.strip(identGroup, group) }

// PrefixTransactionID adds the tenant prefix to a transaction ID.
func (r *Rewriter) PrefixTransactionID(txnID string) string {
	return r.add(identTransactionID, txnID)
}

// UnprefixTransactionID removes the tenant prefix from a transaction ID.
func (r *Rewriter) UnprefixTransactionID(txnID string) (string, bool) {
	return r.strip(identTransactionID, txnID)
}

// FilterTopics narrows a broker-returned topic list down to the ones
// belonging to this tenant, translating each to its virtual (unprefixed)
// name. Used on Metadata responses to hide other tenants' topics.
func (r *Rewriter) FilterTopics(topics []string) []string {
	result := make([]string, 0, len(topics))
	for _, topic := range topics {
		if virtual, ok := r.UnprefixTopic(topic); ok {
			result = append(result, virtual)
		}
	}
	return result
}

// HasTopicPrefix reports whether topic rewriting is enabled for this
// tenant.
func (r *Rewriter) HasTopicPrefix() bool { return r.prefixes[identTopic] != "" }

// validTopicName matches Kafka's own topic-naming rule: 1-249 characters
// from [a-zA-Z0-9._-]. CreateTopics requests are validated against it
// before the tenant prefix is applied, so a tenant's own illegal input
// short-circuits instead of reaching the broker as a worse-labeled error.
var validTopicName = regexp.MustCompile(`^[a-zA-Z0-9._\-]{1,249}$`)

// OnRequest implements kroxy.Filter: prefix outbound topic names before
// forwarding upstream. Group and transaction IDs (such as a Produce
// request's transactional id) are not rewritten. CreateTopics additionally
// validates each requested name and short-circuits with a decoded
// INVALID_TOPIC_EXCEPTION response (no round trip to the broker) when one
// is malformed.
func (r *Rewriter) OnRequest(ctx *kroxy.FilterContext, header kroxy.RequestHeaderView, body kmsg.Request) kroxy.FilterResult {
	switch v := body.(type) {
	case *kmsg.MetadataRequest:
		for i := range v.Topics {
			if v.Topics[i].Topic != nil {
				prefixed := r.PrefixTopic(*v.Topics[i].Topic)
				v.Topics[i].Topic = &prefixed
			}
		}
	case *kmsg.ProduceRequest:
		for i := range v.Topics {
			v.Topics[i].Topic = r.PrefixTopic(v.Topics[i].Topic)
		}
	case *kmsg.FetchRequest:
		for i := range v.Topics {
			v.Topics[i].Topic = r.PrefixTopic(v.Topics[i].Topic)
		}
	case *kmsg.CreateTopicsRequest:
		if resp, bad := r.rejectInvalidTopics(v); bad {
			return kroxy.ShortCircuit(kroxy.ResponseHeaderView{
				APIKey:        header.APIKey,
				APIVersion:    header.APIVersion,
				CorrelationID: header.CorrelationID,
			}, resp)
		}
		for i := range v.Topics {
			v.Topics[i].Topic = r.PrefixTopic(v.Topics[i].Topic)
		}
	}
	return ctx.ForwardRequest(header, body)
}

// rejectInvalidTopics checks every requested topic name against Kafka's
// naming rule and, if any fails, builds a CreateTopicsResponse with one
// INVALID_TOPIC_EXCEPTION result per requested topic, since none of them
// is forwarded to the broker.
func (r *Rewriter) rejectInvalidTopics(req *kmsg.CreateTopicsRequest) (*kmsg.CreateTopicsResponse, bool) {
	var bad bool
	resp := kmsg.NewPtrCreateTopicsResponse()
	resp.Version = req.Version
	for _, t := range req.Topics {
		if !validTopicName.MatchString(t.Topic) {
			bad = true
		}
		errCode := kerr.InvalidTopicException.Code
		errMsg := kerr.InvalidTopicException.Message
		topic := kmsg.NewCreateTopicsResponseTopic()
		topic.Topic = t.Topic
		topic.ErrorCode = errCode
		topic.ErrorMessage = &errMsg
		resp.Topics = append(resp.Topics, topic)
	}
	if !bad {
		return nil, false
	}
	return resp, true
}

// OnResponse implements kroxy.Filter: strip the tenant prefix from inbound
// topic names, hiding any topic that belongs to a different tenant.
func (r *Rewriter) OnResponse(ctx *kroxy.FilterContext, header kroxy.ResponseHeaderView, body kmsg.Response) kroxy.FilterResult {
	switch v := body.(type) {
	case *kmsg.ProduceResponse:
		for i := range v.Topics {
			if virtual, ok := r.UnprefixTopic(v.Topics[i].Topic); ok {
				v.Topics[i].Topic = virtual
			}
		}
	case *kmsg.FetchResponse:
		for i := range v.Topics {
			if virtual, ok := r.UnprefixTopic(v.Topics[i].Topic); ok {
				v.Topics[i].Topic = virtual
			}
		}
	case *kmsg.MetadataResponse:
		visible := v.Topics[:0]
		for _, t := range v.Topics {
			if t.Topic == nil {
				continue
			}
			virtual, ok := r.UnprefixTopic(*t.Topic)
			if !ok {
				continue
			}
			t.Topic = &virtual
			visible = append(visible, t)
		}
		v.Topics = visible
	}
	return ctx.ForwardResponse(header, body)
}
