package kroxy

import "github.com/twmb/franz-go/pkg/kmsg"

// SupportedAPI describes one api key's supported version range, for the
// canned ApiVersions response built once at init (§9: "no process-wide
// mutable state other than the cached canned ApiVersions response loaded
// once at init").
type SupportedAPI struct {
	APIKey     int16
	MinVersion int16
	MaxVersion int16
}

// CannedAPIVersions holds the immutable API support table behind the
// ApiVersions response offered during offload (§4.4 "reply with a cached
// ApiVersions response immediately"); Response builds the reply at the
// client's requested body version so it encodes with that version's field set.
type CannedAPIVersions struct {
	apis []SupportedAPI
}

// NewCannedAPIVersions builds the cache from a fixed API support table. The
// table itself is an external-layer decision (built-in filters, enabled
// features); the core just serves it back.
func NewCannedAPIVersions(apis []SupportedAPI) *CannedAPIVersions {
	return &CannedAPIVersions{apis: apis}
}

// Response builds an ApiVersions response for the given negotiated request
// version. Per §4.1/§6/§9, the response *header* is always version 0
// regardless of this body version — that is handled by encodeResponse via
// responseHeaderVersion's ApiVersions special case, not here.
func (c *CannedAPIVersions) Response(requestVersion int16) *kmsg.ApiVersionsResponse {
	r := kmsg.NewApiVersionsResponse()
	r.Version = requestVersion
	r.ApiKeys = make([]kmsg.ApiVersionsResponseApiKey, 0, len(c.apis))
	for _, a := range c.apis {
		k := kmsg.NewApiVersionsResponseApiKey()
		k.ApiKey = a.APIKey
		k.MinVersion = a.MinVersion
		k.MaxVersion = a.MaxVersion
		r.ApiKeys = append(r.ApiKeys, k)
	}
	return &r
}
