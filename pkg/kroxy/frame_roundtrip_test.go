package kroxy

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kmsg"
)

func alwaysDecode(int16, int16) bool { return true }

func TestRequestRoundTrip_DecodedMetadata(t *testing.T) {
	var buf bytes.Buffer
	clientID := "test-client"
	req := kmsg.NewPtrMetadataRequest()
	req.Topics = []kmsg.MetadataRequestTopic{}

	raw, err := encodeRequest(apiKeyMetadata, req.Version, 123, &clientID, req)
	require.NoError(t, err)
	require.NoError(t, writeFrame(&buf, raw))

	decoder := NewRequestDecoder(bufio.NewReader(&buf), DecodePredicateFunc(alwaysDecode))
	frame, err := decoder.Next()
	require.NoError(t, err)

	assert.True(t, frame.IsDecoded())
	assert.Equal(t, apiKeyMetadata, frame.APIKey)
	assert.Equal(t, int32(123), frame.CorrelationID)
	require.NotNil(t, frame.ClientID)
	assert.Equal(t, clientID, *frame.ClientID)
	assert.True(t, frame.HasResponse)
}

func TestRequestRoundTrip_OpaquePassthrough(t *testing.T) {
	var buf bytes.Buffer
	req := kmsg.NewPtrMetadataRequest()

	raw, err := encodeRequest(apiKeyMetadata, req.Version, 7, nil, req)
	require.NoError(t, err)
	require.NoError(t, writeFrame(&buf, raw))

	decoder := NewRequestDecoder(bufio.NewReader(&buf), opaquePredicate)
	frame, err := decoder.Next()
	require.NoError(t, err)

	assert.False(t, frame.IsDecoded())
	assert.NotNil(t, frame.Opaque)
	assert.Equal(t, int32(7), frame.CorrelationID)
}

func TestRequestRoundTrip_ProduceAcksZeroHasNoResponse(t *testing.T) {
	var buf bytes.Buffer
	req := kmsg.NewPtrProduceRequest()
	req.Acks = 0

	raw, err := encodeRequest(apiKeyProduce, req.Version, 1, nil, req)
	require.NoError(t, err)
	require.NoError(t, writeFrame(&buf, raw))

	decoder := NewRequestDecoder(bufio.NewReader(&buf), opaquePredicate)
	frame, err := decoder.Next()
	require.NoError(t, err)

	assert.False(t, frame.HasResponse, "Produce with acks=0 must be marked as having no response")
}

func TestRequestRoundTrip_ProduceAcksOneHasResponse(t *testing.T) {
	var buf bytes.Buffer
	req := kmsg.NewPtrProduceRequest()
	req.Acks = 1

	raw, err := encodeRequest(apiKeyProduce, req.Version, 1, nil, req)
	require.NoError(t, err)
	require.NoError(t, writeFrame(&buf, raw))

	decoder := NewRequestDecoder(bufio.NewReader(&buf), opaquePredicate)
	frame, err := decoder.Next()
	require.NoError(t, err)

	assert.True(t, frame.HasResponse)
}

func TestResponseHeaderVersion_ApiVersionsPinnedToV0(t *testing.T) {
	// Even at the highest negotiated body version, ApiVersions' response
	// header must stay v0 (§4.1/§6/§9).
	assert.Equal(t, int16(0), responseHeaderVersion(apiKeyApiVersions, 3))
}

func TestResponseRoundTrip_CorrelationSubstitution(t *testing.T) {
	var buf bytes.Buffer
	resp := kmsg.NewPtrMetadataResponse()

	raw, err := encodeResponse(apiKeyMetadata, resp.Version, 999 /* upstream id, discarded on write */, resp)
	require.NoError(t, err)
	require.NoError(t, writeFrame(&buf, raw))

	r := bufio.NewReader(&buf)
	frameBytes, err := readFrame(r, MaxFrameSize)
	require.NoError(t, err)

	corrID, err := peekResponseCorrelationID(frameBytes)
	require.NoError(t, err)
	assert.Equal(t, int32(999), corrID)

	// Re-encode with the downstream id substituted, as ResponseEncoder does.
	var out bytes.Buffer
	enc := NewResponseEncoder(&out)
	require.NoError(t, enc.Write(&ResponseFrame{APIKey: apiKeyMetadata, APIVersion: resp.Version, Decoded: resp}, 42))

	outFrame, err := readFrame(bufio.NewReader(&out), MaxFrameSize)
	require.NoError(t, err)
	gotID, err := peekResponseCorrelationID(outFrame)
	require.NoError(t, err)
	assert.Equal(t, int32(42), gotID)
}
