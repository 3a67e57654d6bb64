package kroxy

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/twmb/franz-go/pkg/kbin"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// readFrame reads one length-prefixed Kafka frame (header inclusive) from
// r, per §4.1 step 1: a 4-byte big-endian length prefix naming the bytes
// that follow, must be > 0 and <= max. Never consumes a partial frame: if r
// doesn't yet have frame_len bytes buffered, ReadFull blocks (the caller's
// connection is suspended per §5's suspension-point (a)) rather than
// returning a short read.
func readFrame(r *bufio.Reader, max int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if n <= 0 || int(n) > max {
		return nil, newFrameError("readFrame", 0, ErrMalformedFrame)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// RequestDecoder implements §4.1's client->proxy request decoder: lazy,
// frame-aligned, queries a DecodePredicate per frame.
type RequestDecoder struct {
	r         *bufio.Reader
	predicate DecodePredicate
	maxFrame  int
}

// NewRequestDecoder wraps r (already a *bufio.Reader, or will be wrapped in
// one) with the given decode predicate.
func NewRequestDecoder(r io.Reader, predicate DecodePredicate) *RequestDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &RequestDecoder{r: br, predicate: predicate, maxFrame: MaxFrameSize}
}

// Next reads and decodes (or opaquely passes) the next request frame.
func (d *RequestDecoder) Next() (*RequestFrame, error) {
	raw, err := readFrame(d.r, d.maxFrame)
	if err != nil {
		return nil, err
	}
	return decodeRequestBytes(raw, d.predicate)
}

func decodeRequestBytes(raw []byte, predicate DecodePredicate) (*RequestFrame, error) {
	prefix, err := peekRequestHeaderPrefix(raw)
	if err != nil {
		return nil, err
	}

	clientID, bodyOffset, err := readRequestClientID(raw, prefix.APIKey, prefix.APIVersion)
	if err != nil {
		return nil, err
	}

	hasResponse, err := deriveHasResponse(raw, prefix.APIKey, prefix.APIVersion, bodyOffset)
	if err != nil {
		return nil, err
	}

	frame := &RequestFrame{
		APIKey:        prefix.APIKey,
		APIVersion:    prefix.APIVersion,
		CorrelationID: prefix.CorrelationID,
		ClientID:      clientID,
		HasResponse:   hasResponse,
	}

	if predicate == nil || !predicate.ShouldDecode(prefix.APIKey, prefix.APIVersion) {
		frame.Opaque = raw
		return frame, nil
	}

	req := kmsg.RequestForKey(prefix.APIKey)
	if req == nil {
		// Unknown api key: cannot decode even though the predicate asked
		// to; fall back to opaque rather than fail the connection.
		frame.Opaque = raw
		return frame, nil
	}
	req.SetVersion(prefix.APIVersion)
	if err := req.ReadFrom(raw[bodyOffset:]); err != nil {
		return nil, newFrameError("decodeRequest", prefix.APIKey, ErrMalformedFrame)
	}
	frame.Decoded = req
	return frame, nil
}

// deriveHasResponse implements §4.1 step 3's Produce acks=0 special case;
// every other api key has a response.
func deriveHasResponse(raw []byte, apiKey, apiVersion int16, bodyOffset int) (bool, error) {
	if apiKey != apiKeyProduce {
		return true, nil
	}
	acks, err := peekProduceAcks(raw, apiVersion, bodyOffset)
	if err != nil {
		return false, err
	}
	return acks != 0, nil
}

// ResponseDecoder implements §4.1's broker->proxy response decoder: driven
// by the correlation manager, since the wire header carries only a
// correlation id.
type ResponseDecoder struct {
	r        *bufio.Reader
	corr     *CorrelationManager
	maxFrame int
}

// NewResponseDecoder wraps r with the backend connection's correlation
// manager.
func NewResponseDecoder(r io.Reader, corr *CorrelationManager) *ResponseDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ResponseDecoder{r: br, corr: corr, maxFrame: MaxFrameSize}
}

// decodedResponse bundles the decoded/opaque response frame with the
// correlation entry that produced it, since the backend handler needs the
// entry's DownstreamCorrelationID and InternalPromise to route the result.
type decodedResponse struct {
	frame *ResponseFrame
	entry CorrelationEntry
}

// Next reads the next response frame, resolves it against the correlation
// manager, and decodes it if the entry asked for that.
func (d *ResponseDecoder) Next() (*decodedResponse, error) {
	raw, err := readFrame(d.r, d.maxFrame)
	if err != nil {
		return nil, err
	}
	upstreamID, err := peekResponseCorrelationID(raw)
	if err != nil {
		return nil, err
	}
	entry, err := d.corr.Consume(upstreamID)
	if err != nil {
		return nil, err
	}

	frame := &ResponseFrame{
		APIKey:        entry.APIKey,
		APIVersion:    entry.APIVersion,
		CorrelationID: upstreamID,
	}

	if !entry.DecodeResponse {
		frame.Opaque = raw
		return &decodedResponse{frame: frame, entry: entry}, nil
	}

	resp := kmsg.ResponseForKey(entry.APIKey)
	if resp == nil {
		frame.Opaque = raw
		return &decodedResponse{frame: frame, entry: entry}, nil
	}
	resp.SetVersion(entry.APIVersion)

	hdrVer := responseHeaderVersion(entry.APIKey, entry.APIVersion)
	bodyOffset, err := responseBodyOffset(raw, hdrVer)
	if err != nil {
		return nil, err
	}
	if err := resp.ReadFrom(raw[bodyOffset:]); err != nil {
		return nil, newFrameError("decodeResponse", entry.APIKey, ErrMalformedFrame)
	}
	frame.Decoded = resp
	return &decodedResponse{frame: frame, entry: entry}, nil
}

// responseBodyOffset skips the correlation id (4 bytes) and, for a
// flexible (v1) response header, the empty tagged-field section that
// follows it.
func responseBodyOffset(raw []byte, headerVersion int16) (int, error) {
	if headerVersion < 1 {
		return 4, nil
	}
	r := &kbin.Reader{Src: raw[4:]}
	n := r.Uvarint()
	for i := uint32(0); i < n; i++ {
		r.Uvarint()
		l := r.Uvarint()
		r.Span(int(l))
	}
	if err := r.Complete(); err != nil {
		return 0, newFrameError("responseBodyOffset", 0, ErrMalformedFrame)
	}
	return 4 + (len(raw[4:]) - len(r.Src)), nil
}
