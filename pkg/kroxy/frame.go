package kroxy

import "github.com/twmb/franz-go/pkg/kmsg"

// MaxFrameSize bounds the 4-byte length prefix any frame decoder will
// accept before failing with ErrMalformedFrame. Matches the franz-go client
// default ceiling for a single Kafka frame.
const MaxFrameSize = 100 << 20 // 100 MiB

// RequestFrame is a tagged variant over opaque and decoded requests. Exactly
// one of Opaque or Decoded is set. Frames are frame-aligned: the 4-byte
// length prefix is implicit and reconstructed on encode.
type RequestFrame struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      *string // set only when the header version is >= 1

	// HasResponse is derived by the decoder per §4.1: false only for
	// Produce with acks=0. All other requests expect a response.
	HasResponse bool

	// Opaque holds the raw header+body bytes (header inclusive) when the
	// decode predicate said "pass through". Nil when Decoded is set.
	Opaque []byte

	// Decoded holds the parsed kmsg request body when the decode
	// predicate said "decode". Nil when Opaque is set.
	Decoded kmsg.Request
}

// IsDecoded reports whether this frame was fully parsed rather than kept
// opaque.
func (f *RequestFrame) IsDecoded() bool { return f.Decoded != nil }

// ResponseFrame is the response-side counterpart of RequestFrame. The
// header on the wire carries only a correlation id; api_key/api_version are
// recovered from the correlation manager entry that solicited it.
type ResponseFrame struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32

	Opaque  []byte
	Decoded kmsg.Response
}

func (f *ResponseFrame) IsDecoded() bool { return f.Decoded != nil }

// apiVersionsKey is the Kafka API key for ApiVersions. Its response header
// is always version 0 regardless of the body version (§4.1, §6) — this is
// the one header-version exception, special-cased explicitly in
// responseHeaderVersion rather than derived from kmsg's IsFlexible.
const apiVersionsKey = 18

// requestHeaderVersion mirrors kmsg's own request-header versioning rule:
// flexible (tagged-field) requests use header v2, everything else v1.
// ApiVersions requests follow the same rule (their *request* header is
// regular; only the *response* header is pinned to v0).
func requestHeaderVersion(apiKey, apiVersion int16) int16 {
	req := kmsg.RequestForKey(apiKey)
	if req == nil {
		return 1
	}
	req.SetVersion(apiVersion)
	if req.IsFlexible() {
		return 2
	}
	return 1
}

// responseHeaderVersion mirrors the matching response-header rule, with the
// ApiVersions special case from §4.1/§6/§9: its response header is always
// v0 no matter the negotiated body version.
func responseHeaderVersion(apiKey, apiVersion int16) int16 {
	if apiKey == apiVersionsKey {
		return 0
	}
	resp := kmsg.ResponseForKey(apiKey)
	if resp == nil {
		return 0
	}
	resp.SetVersion(apiVersion)
	if resp.IsFlexible() {
		return 1
	}
	return 0
}
