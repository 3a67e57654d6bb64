package kroxy

import (
	"encoding/binary"

	"github.com/twmb/franz-go/pkg/kbin"
)

// requestHeaderPrefix is the fixed prefix common to every request header
// version: api_key, api_version, correlation_id. client_id (a nullable
// string) follows only for header version >= 1, and is read separately
// because its presence depends on the negotiated api_key/api_version.
type requestHeaderPrefix struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
}

// peekRequestHeaderPrefix parses the 8-byte fixed prefix shared by every
// request header version, without committing to a header version (that
// depends on api_key/api_version, which this call recovers).
func peekRequestHeaderPrefix(body []byte) (requestHeaderPrefix, error) {
	if len(body) < 8 {
		return requestHeaderPrefix{}, newFrameError("peekRequestHeaderPrefix", 0, ErrMalformedFrame)
	}
	return requestHeaderPrefix{
		APIKey:        int16(binary.BigEndian.Uint16(body[0:2])),
		APIVersion:    int16(binary.BigEndian.Uint16(body[2:4])),
		CorrelationID: int32(binary.BigEndian.Uint32(body[4:8])),
	}, nil
}

// readRequestClientID reads the optional client_id that follows the fixed
// prefix when requestHeaderVersion(apiKey, apiVersion) >= 1, and returns the
// offset of the first body byte after the header.
func readRequestClientID(body []byte, apiKey, apiVersion int16) (clientID *string, bodyOffset int, err error) {
	if requestHeaderVersion(apiKey, apiVersion) < 1 {
		return nil, 8, nil
	}
	r := &kbin.Reader{Src: body[8:]}
	clientID = r.NullableString()
	if r.Complete() != nil {
		return nil, 0, newFrameError("readRequestClientID", apiKey, ErrMalformedFrame)
	}
	off := 8 + (len(body[8:]) - len(r.Src))
	if off > len(body) {
		return nil, 0, newFrameError("readRequestClientID", apiKey, ErrMalformedFrame)
	}
	// Header v2+ (flexible) additionally carries an empty tagged-field
	// section immediately after client_id.
	if requestHeaderVersion(apiKey, apiVersion) >= 2 {
		tr := &kbin.Reader{Src: body[off:]}
		n := tr.Uvarint()
		for i := uint32(0); i < n; i++ {
			tr.Uvarint() // tag
			l := tr.Uvarint()
			tr.Span(int(l))
		}
		if err := tr.Complete(); err != nil {
			return nil, 0, newFrameError("readRequestClientID", apiKey, ErrMalformedFrame)
		}
		off += len(body[off:]) - len(tr.Src)
	}
	return clientID, off, nil
}

// peekProduceAcks implements §4.1 step 3's minimum-peek rule for Produce:
// without a full decode, read past the header, then the nullable
// transactional_id, then the 2-byte acks field, to determine has_response
// (acks == 0 means the broker sends no response).
func peekProduceAcks(body []byte, apiVersion int16, bodyOffset int) (acks int16, err error) {
	r := &kbin.Reader{Src: body[bodyOffset:]}
	if apiVersion >= 3 {
		if requestHeaderVersion(apiKeyProduce, apiVersion) >= 2 {
			r.CompactNullableString() // transactional_id (flexible versions)
		} else {
			r.NullableString() // transactional_id
		}
	}
	acks = r.Int16()
	if err := r.Complete(); err != nil {
		return 0, newFrameError("peekProduceAcks", apiKeyProduce, ErrMalformedFrame)
	}
	return acks, nil
}

// rewriteCorrelationID mutates the correlation id of an opaque frame's
// fixed header prefix in place, per §4.1 step 3 / §4.1 response encoder:
// opaque frames are rewritten at the known fixed offset rather than
// re-serialized.
func rewriteCorrelationID(body []byte, id int32) {
	binary.BigEndian.PutUint32(body[4:8], uint32(id))
}

// peekResponseCorrelationID reads the 4-byte correlation id that begins
// every response frame, before the correlation manager lookup recovers the
// rest of the response's shape.
func peekResponseCorrelationID(body []byte) (int32, error) {
	if len(body) < 4 {
		return 0, newFrameError("peekResponseCorrelationID", 0, ErrMalformedFrame)
	}
	return int32(binary.BigEndian.Uint32(body[0:4])), nil
}
