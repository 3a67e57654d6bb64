package rewriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kroxylicious/kroxycore/pkg/kroxy"
)

func TestRewriter_PrefixTopic(t *testing.T) {
	r := NewRewriter("myapp-dev-", "", "")

	// Client sends "orders", should become "myapp-dev-orders"
	assert.Equal(t, "myapp-dev-orders", r.PrefixTopic("orders"))
}

func TestRewriter_UnprefixTopic(t *testing.T) {
	r := NewRewriter("myapp-dev-", "", "")

	// Broker returns "myapp-dev-orders", client sees "orders"
	result, ok := r.UnprefixTopic("myapp-dev-orders")
	assert.True(t, ok)
	assert.Equal(t, "orders", result)

	// Topic without our prefix (from another tenant)
	_, ok = r.UnprefixTopic("other-app-orders")
	assert.False(t, ok)
}

func TestRewriter_PrefixGroup(t *testing.T) {
	r := NewRewriter("", "myapp-dev-", "")

	assert.Equal(t, "myapp-dev-my-consumers", r.PrefixGroup("my-consumers"))
}

func TestRewriter_UnprefixGroup(t *testing.T) {
	r := NewRewriter("", "myapp-dev-", "")

	result, ok := r.UnprefixGroup("myapp-dev-my-consumers")
	assert.True(t, ok)
	assert.Equal(t, "my-consumers", result)
}

func TestRewriter_PrefixTransactionID(t *testing.T) {
	r := NewRewriter("", "", "myapp-dev-")

	assert.Equal(t, "myapp-dev-tx-123", r.PrefixTransactionID("tx-123"))
}

func TestRewriter_UnprefixTransactionID(t *testing.T) {
	r := NewRewriter("", "", "myapp-dev-")

	result, ok := r.UnprefixTransactionID("myapp-dev-tx-123")
	assert.True(t, ok)
	assert.Equal(t, "tx-123", result)

	// Transaction ID without our prefix
	_, ok = r.UnprefixTransactionID("other-app-tx-456")
	assert.False(t, ok)
}

func TestRewriter_FilterTopics(t *testing.T) {
	r := NewRewriter("myapp-dev-", "", "")

	topics := []string{
		"myapp-dev-orders",
		"myapp-dev-users",
		"other-app-data",
		"__consumer_offsets",
	}

	filtered := r.FilterTopics(topics)
	assert.Len(t, filtered, 2)
	assert.Contains(t, filtered, "orders")
	assert.Contains(t, filtered, "users")
}

func TestRewriter_HasTopicPrefix(t *testing.T) {
	// With prefix
	r := NewRewriter("myapp-dev-", "", "")
	assert.True(t, r.HasTopicPrefix())

	// Without prefix
	r2 := NewRewriter("", "", "")
	assert.False(t, r2.HasTopicPrefix())
}

func TestRewriter_EmptyPrefix(t *testing.T) {
	// When no prefix is configured, operations should still work
	r := NewRewriter("", "", "")

	// Prefix operations just return the original
	assert.Equal(t, "orders", r.PrefixTopic("orders"))
	assert.Equal(t, "my-group", r.PrefixGroup("my-group"))
	assert.Equal(t, "tx-123", r.PrefixTransactionID("tx-123"))

	// Unprefix operations should match anything when prefix is empty
	result, ok := r.UnprefixTopic("orders")
	assert.True(t, ok)
	assert.Equal(t, "orders", result)
}

func TestRewriter_FilterTopicsEmptyList(t *testing.T) {
	r := NewRewriter("myapp-dev-", "", "")

	filtered := r.FilterTopics([]string{})
	assert.Empty(t, filtered)
}

func TestRewriter_FilterTopicsNoMatches(t *testing.T) {
	r := NewRewriter("myapp-dev-", "", "")

	topics := []string{
		"other-app-data",
		"__consumer_offsets",
		"some-random-topic",
	}

	filtered := r.FilterTopics(topics)
	assert.Empty(t, filtered)
}

func TestRewriter_ImplementsFilter(t *testing.T) {
	r := NewRewriter("myapp-dev-", "myapp-dev-", "myapp-dev-")
	assert.Equal(t, "multitenancy.rewriter", r.Name())
	assert.NotEmpty(t, r.SubscribedAPIKeys())
}

func TestRewriter_OnRequest_PrefixesProduceTopic(t *testing.T) {
	r := NewRewriter("myapp-dev-", "", "")
	req := kmsg.NewPtrProduceRequest()
	req.Topics = []kmsg.ProduceRequestTopic{{Topic: "orders"}}

	result := r.OnRequest(nil, kroxy.RequestHeaderView{APIKey: 0}, req)

	require.Equal(t, kroxy.ResultForward, result.Kind)
	forwarded, ok := result.RequestBody.(*kmsg.ProduceRequest)
	require.True(t, ok)
	assert.Equal(t, "myapp-dev-orders", forwarded.Topics[0].Topic)
}

func TestRewriter_OnRequest_CreateTopicsRejectsInvalidName(t *testing.T) {
	r := NewRewriter("myapp-dev-", "", "")
	req := kmsg.NewPtrCreateTopicsRequest()
	req.Topics = []kmsg.CreateTopicsRequestTopic{{Topic: "bad topic name!"}}

	result := r.OnRequest(nil, kroxy.RequestHeaderView{APIKey: 19}, req)

	require.Equal(t, kroxy.ResultShortCircuit, result.Kind)
	resp, ok := result.ResponseBody.(*kmsg.CreateTopicsResponse)
	require.True(t, ok)
	require.Len(t, resp.Topics, 1)
	assert.NotEqual(t, int16(0), resp.Topics[0].ErrorCode)
	assert.Equal(t, "bad topic name!", resp.Topics[0].Topic)
}

func TestRewriter_OnRequest_CreateTopicsAcceptsValidName(t *testing.T) {
	r := NewRewriter("myapp-dev-", "", "")
	req := kmsg.NewPtrCreateTopicsRequest()
	req.Topics = []kmsg.CreateTopicsRequestTopic{{Topic: "orders"}}

	result := r.OnRequest(nil, kroxy.RequestHeaderView{APIKey: 19}, req)

	require.Equal(t, kroxy.ResultForward, result.Kind)
	forwarded, ok := result.RequestBody.(*kmsg.CreateTopicsRequest)
	require.True(t, ok)
	assert.Equal(t, "myapp-dev-orders", forwarded.Topics[0].Topic)
}
