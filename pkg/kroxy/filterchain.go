package kroxy

import (
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// FilterChain is the per-connection ordered filter list plus the
// FilterContext they share (§4.3). Built once per downstream connection by
// a FilterFactory; request hooks run front-to-back, response hooks
// back-to-front (§3 Filter chain).
type FilterChain struct {
	filters []Filter
	ctx     *FilterContext
	log     Logger
}

// NewFilterChain builds a runtime chain from an already-constructed filter
// list and a shared FilterContext.
func NewFilterChain(filters []Filter, ctx *FilterContext, log Logger) *FilterChain {
	if log == nil {
		log = defaultLogger()
	}
	return &FilterChain{filters: filters, ctx: ctx, log: log}
}

// DecodePredicate returns the predicate that subscribes to exactly the api
// keys this chain's filters declared (§4.4).
func (c *FilterChain) DecodePredicate() DecodePredicate {
	return FilterSubscribedPredicate(c.filters)
}

// subscribed reports whether filter f wants hooks for apiKey.
func subscribed(f Filter, apiKey int16) bool {
	for _, k := range f.SubscribedAPIKeys() {
		if k == apiKey {
			return true
		}
	}
	return false
}

// hookResult is how runHook reports back from its goroutine.
type hookResult struct {
	result FilterResult
	panic  interface{}
}

// runHook invokes fn on its own goroutine and enforces the per-hook timeout
// (§4.3, §5, §7 FilterTimeout). Buffers allocated during the hook are
// always released via FilterContext.endHook, on every exit path.
func (c *FilterChain) runHook(fn func() FilterResult) FilterResult {
	c.ctx.beginHook()
	defer c.ctx.endHook()

	done := make(chan hookResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- hookResult{panic: r}
			}
		}()
		done <- hookResult{result: fn()}
	}()

	select {
	case r := <-done:
		if r.panic != nil {
			return FilterErrorResult(newFrameError("filter hook panic", 0, ErrFilterError))
		}
		if r.result.Err != nil {
			r.result.Err = fmt.Errorf("%w: %w", ErrFilterError, r.result.Err)
		}
		return r.result
	case <-time.After(c.ctx.timeout):
		return FilterErrorResult(ErrFilterTimeout)
	}
}

// RunRequest threads a decoded request through every filter subscribed to
// header.APIKey, front-to-back (§4.3 ordering). It stops and returns
// immediately on the first non-Forward result, recording the index of the
// filter that produced it so RunResponse can resume the response path from
// the same position for a short-circuit.
func (c *FilterChain) RunRequest(header RequestHeaderView, body kmsg.Request) (FilterResult, int) {
	result := FilterResult{Kind: ResultForward, RequestHeader: header, RequestBody: body}
	for i, f := range c.filters {
		if !subscribed(f, header.APIKey) {
			continue
		}
		hdr, b := result.RequestHeader, result.RequestBody
		result = c.runHook(func() FilterResult { return f.OnRequest(c.ctx, hdr, b) })
		if result.Kind != ResultForward {
			return result, i
		}
	}
	return result, len(c.filters)
}

// RunResponse threads a decoded response back through every filter
// subscribed to header.APIKey, back-to-front, starting just before
// fromIndex (exclusive) — fromIndex is len(filters) for a genuine broker
// response, or the index a request filter short-circuited at (§4.3:
// "send this response back through the response path from this filter's
// position").
func (c *FilterChain) RunResponse(header ResponseHeaderView, body kmsg.Response, fromIndex int) FilterResult {
	result := FilterResult{Kind: ResultForward, ResponseHeader: header, ResponseBody: body}
	for i := fromIndex - 1; i >= 0; i-- {
		f := c.filters[i]
		if !subscribed(f, header.APIKey) {
			continue
		}
		hdr, b := result.ResponseHeader, result.ResponseBody
		result = c.runHook(func() FilterResult { return f.OnResponse(c.ctx, hdr, b) })
		if result.Kind == ResultDrop || result.Kind == ResultClose {
			return result
		}
	}
	return result
}
