package kroxy

import (
	"encoding/binary"
	"io"

	"github.com/twmb/franz-go/pkg/kbin"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// RequestEncoder implements §4.1's proxy->broker request encoder: allocates
// the next upstream correlation id, inserts a correlation entry when the
// frame has a response, and writes the frame with its correlation id field
// overwritten.
type RequestEncoder struct {
	w    io.Writer
	corr *CorrelationManager
	// decodeResponse decides, per outbound frame, whether the matching
	// response should be decoded — driven by the outbound decode
	// predicate built from the filters installed on this backend
	// connection (§4.4).
	decodeResponse func(apiKey, apiVersion int16) bool
}

// NewRequestEncoder builds an encoder bound to one backend connection's
// correlation manager.
func NewRequestEncoder(w io.Writer, corr *CorrelationManager, decodeResponse func(apiKey, apiVersion int16) bool) *RequestEncoder {
	return &RequestEncoder{w: w, corr: corr, decodeResponse: decodeResponse}
}

// Write assigns an upstream correlation id, records a correlation entry if
// the frame expects a response, and writes the length-prefixed frame. It
// returns the assigned upstream id (useful for tests asserting §8's
// monotonic-id property) and any encode or write error.
//
// A non-nil promise always forces decode=true regardless of what the
// outbound decode predicate says for this api key (§8 Scenario 5:
// send_request must resolve with a decoded response even when no installed
// filter otherwise subscribes to that api key — the promise is delivered
// directly to the filter that called SendRequest, not routed through the
// chain, so nothing else gets a chance to decode it).
func (e *RequestEncoder) Write(f *RequestFrame, promise *responsePromise) (int32, error) {
	decode := promise != nil
	if !decode && e.decodeResponse != nil {
		decode = e.decodeResponse(f.APIKey, f.APIVersion)
	}
	upstreamID := e.corr.Assign(f.CorrelationID, f.APIKey, f.APIVersion, decode, f.HasResponse, promise)

	var raw []byte
	if f.Opaque != nil {
		raw = f.Opaque
		rewriteCorrelationID(raw, upstreamID)
	} else {
		var err error
		raw, err = encodeRequest(f.APIKey, f.APIVersion, upstreamID, f.ClientID, f.Decoded)
		if err != nil {
			return 0, err
		}
	}

	if err := writeFrame(e.w, raw); err != nil {
		return 0, err
	}
	return upstreamID, nil
}

// encodeRequest serializes a full request frame (header + body) for a
// decoded frame, substituting correlationID.
func encodeRequest(apiKey, apiVersion int16, correlationID int32, clientID *string, body kmsg.Request) ([]byte, error) {
	hdrVer := requestHeaderVersion(apiKey, apiVersion)
	dst := make([]byte, 0, 256)
	dst = kbin.AppendInt16(dst, apiKey)
	dst = kbin.AppendInt16(dst, apiVersion)
	dst = kbin.AppendInt32(dst, correlationID)
	if hdrVer >= 1 {
		dst = kbin.AppendNullableString(dst, clientID)
	}
	if hdrVer >= 2 {
		dst = kbin.AppendUvarint(dst, 0) // empty tagged fields
	}
	if body != nil {
		dst = body.AppendTo(dst)
	}
	return dst, nil
}

// writeFrame writes the 4-byte big-endian length prefix followed by raw.
func writeFrame(w io.Writer, raw []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(raw)
	return err
}

// ResponseEncoder implements §4.1's proxy->client response encoder:
// restores the downstream correlation id saved in the correlation entry
// (already consumed by the caller before this is invoked) and writes the
// frame, unless the entry carried an internal promise — in that case the
// caller fulfills the promise instead of calling Write (see backend.go).
type ResponseEncoder struct {
	w io.Writer
}

// NewResponseEncoder wraps the client-facing connection's writer.
func NewResponseEncoder(w io.Writer) *ResponseEncoder {
	return &ResponseEncoder{w: w}
}

// Write serializes and writes a response frame with downstreamCorrelationID
// substituted for the frame's (upstream) correlation id.
func (e *ResponseEncoder) Write(f *ResponseFrame, downstreamCorrelationID int32) error {
	var raw []byte
	if f.Opaque != nil {
		raw = f.Opaque
		rewriteCorrelationID(raw, downstreamCorrelationID)
	} else {
		var err error
		raw, err = encodeResponse(f.APIKey, f.APIVersion, downstreamCorrelationID, f.Decoded)
		if err != nil {
			return err
		}
	}
	return writeFrame(e.w, raw)
}

// encodeResponse serializes a full response frame (header + body) for a
// decoded frame, substituting correlationID and honouring the ApiVersions
// v0-header special case (§4.1, §6).
func encodeResponse(apiKey, apiVersion int16, correlationID int32, body kmsg.Response) ([]byte, error) {
	hdrVer := responseHeaderVersion(apiKey, apiVersion)
	dst := make([]byte, 0, 256)
	dst = kbin.AppendInt32(dst, correlationID)
	if hdrVer >= 1 {
		dst = kbin.AppendUvarint(dst, 0) // empty tagged fields
	}
	if body != nil {
		dst = body.AppendTo(dst)
	}
	return dst, nil
}
