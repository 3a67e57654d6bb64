package kroxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// recordingFilter appends its name to a shared slice on every hook
// invocation and forwards unchanged, unless configured to short-circuit,
// drop, close, or sleep.
type recordingFilter struct {
	name    string
	keys    []int16
	order   *[]string
	action  func(name string) *FilterResult // nil means forward
	sleepOn bool
}

func (f *recordingFilter) Name() string              { return f.name }
func (f *recordingFilter) SubscribedAPIKeys() []int16 { return f.keys }

func (f *recordingFilter) OnRequest(ctx *FilterContext, header RequestHeaderView, body kmsg.Request) FilterResult {
	*f.order = append(*f.order, f.name+":req")
	if f.sleepOn {
		time.Sleep(50 * time.Millisecond)
	}
	if f.action != nil {
		if r := f.action(f.name); r != nil {
			return *r
		}
	}
	return ctx.ForwardRequest(header, body)
}

func (f *recordingFilter) OnResponse(ctx *FilterContext, header ResponseHeaderView, body kmsg.Response) FilterResult {
	*f.order = append(*f.order, f.name+":resp")
	return ctx.ForwardResponse(header, body)
}

func newMetadataChain(filters []Filter) *FilterChain {
	fctx := newFilterContext(ConnectionInfo{}, nil, 200*time.Millisecond)
	return NewFilterChain(filters, fctx, nil)
}

const metadataKey int16 = 3

func TestFilterChain_RequestOrderFrontToBack(t *testing.T) {
	var order []string
	chain := newMetadataChain([]Filter{
		&recordingFilter{name: "a", keys: []int16{metadataKey}, order: &order},
		&recordingFilter{name: "b", keys: []int16{metadataKey}, order: &order},
		&recordingFilter{name: "c", keys: []int16{metadataKey}, order: &order},
	})

	req := kmsg.NewPtrMetadataRequest()
	result, fromIndex := chain.RunRequest(RequestHeaderView{APIKey: metadataKey}, req)

	require.Equal(t, ResultForward, result.Kind)
	assert.Equal(t, 3, fromIndex)
	assert.Equal(t, []string{"a:req", "b:req", "c:req"}, order)
}

func TestFilterChain_ResponseOrderBackToFront(t *testing.T) {
	var order []string
	chain := newMetadataChain([]Filter{
		&recordingFilter{name: "a", keys: []int16{metadataKey}, order: &order},
		&recordingFilter{name: "b", keys: []int16{metadataKey}, order: &order},
		&recordingFilter{name: "c", keys: []int16{metadataKey}, order: &order},
	})

	resp := kmsg.NewPtrMetadataResponse()
	chain.RunResponse(ResponseHeaderView{APIKey: metadataKey}, resp, 3)

	assert.Equal(t, []string{"c:resp", "b:resp", "a:resp"}, order)
}

func TestFilterChain_ShortCircuitStopsAtIssuingFilter(t *testing.T) {
	var order []string
	shortCircuited := ShortCircuit(ResponseHeaderView{APIKey: metadataKey}, kmsg.NewPtrMetadataResponse())
	chain := newMetadataChain([]Filter{
		&recordingFilter{name: "a", keys: []int16{metadataKey}, order: &order},
		&recordingFilter{name: "b", keys: []int16{metadataKey}, order: &order,
			action: func(string) *FilterResult { return &shortCircuited }},
		&recordingFilter{name: "c", keys: []int16{metadataKey}, order: &order},
	})

	req := kmsg.NewPtrMetadataRequest()
	result, fromIndex := chain.RunRequest(RequestHeaderView{APIKey: metadataKey}, req)

	require.Equal(t, ResultShortCircuit, result.Kind)
	assert.Equal(t, 1, fromIndex, "must stop at b's index, never reaching c")
	assert.Equal(t, []string{"a:req", "b:req"}, order)

	order = nil
	chain.RunResponse(result.ResponseHeader, result.ResponseBody, fromIndex)
	assert.Equal(t, []string{"a:resp"}, order, "response path resumes just before the issuing filter")
}

func TestFilterChain_UnsubscribedFilterSkipped(t *testing.T) {
	var order []string
	chain := newMetadataChain([]Filter{
		&recordingFilter{name: "a", keys: []int16{apiKeyProduce}, order: &order},
		&recordingFilter{name: "b", keys: []int16{metadataKey}, order: &order},
	})

	req := kmsg.NewPtrMetadataRequest()
	chain.RunRequest(RequestHeaderView{APIKey: metadataKey}, req)

	assert.Equal(t, []string{"b:req"}, order)
}

func TestFilterChain_HookTimeout(t *testing.T) {
	var order []string
	fctx := newFilterContext(ConnectionInfo{}, nil, 10*time.Millisecond)
	chain := NewFilterChain([]Filter{
		&recordingFilter{name: "slow", keys: []int16{metadataKey}, order: &order, sleepOn: true},
	}, fctx, nil)

	req := kmsg.NewPtrMetadataRequest()
	result, _ := chain.RunRequest(RequestHeaderView{APIKey: metadataKey}, req)

	assert.Equal(t, ResultClose, result.Kind)
	assert.ErrorIs(t, result.Err, ErrFilterTimeout)
}

type panickingFilter struct{}

func (panickingFilter) Name() string              { return "panics" }
func (panickingFilter) SubscribedAPIKeys() []int16 { return []int16{metadataKey} }
func (panickingFilter) OnRequest(*FilterContext, RequestHeaderView, kmsg.Request) FilterResult {
	panic("boom")
}
func (panickingFilter) OnResponse(*FilterContext, ResponseHeaderView, kmsg.Response) FilterResult {
	panic("boom")
}

func TestFilterChain_HookPanicRecovered(t *testing.T) {
	chain := newMetadataChain([]Filter{panickingFilter{}})

	req := kmsg.NewPtrMetadataRequest()
	result, _ := chain.RunRequest(RequestHeaderView{APIKey: metadataKey}, req)

	assert.Equal(t, ResultClose, result.Kind)
	assert.ErrorIs(t, result.Err, ErrFilterError)
}
