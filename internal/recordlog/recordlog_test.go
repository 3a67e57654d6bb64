package recordlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kbin"
)

func buildBatch(attrs int16, count int32, records []byte) []byte {
	var b []byte
	b = kbin.AppendInt64(b, 0)  // base offset
	lenOffset := len(b)
	b = kbin.AppendInt32(b, 0) // batch length placeholder
	b = kbin.AppendInt32(b, 0) // partition leader epoch
	b = append(b, 2)           // magic
	b = kbin.AppendInt32(b, 0) // crc
	b = kbin.AppendInt16(b, attrs)
	b = kbin.AppendInt32(b, 0) // last offset delta
	b = kbin.AppendInt64(b, 0) // base timestamp
	b = kbin.AppendInt64(b, 0) // max timestamp
	b = kbin.AppendInt64(b, -1) // producer id
	b = kbin.AppendInt16(b, -1) // producer epoch
	b = kbin.AppendInt32(b, -1) // base sequence
	b = kbin.AppendInt32(b, count)
	b = append(b, records...)
	batchLen := int32(len(b) - lenOffset - 4)
	copy(b[lenOffset:], kbin.AppendInt32(nil, batchLen))
	return b
}

func TestSummarize_Uncompressed(t *testing.T) {
	records := bytes.Repeat([]byte{0xAB}, 32)
	batch := buildBatch(0, 3, records)

	summary, err := Summarize(batch)
	require.NoError(t, err)
	require.Equal(t, CodecNone, summary.Codec)
	require.Equal(t, int32(3), summary.RecordCount)
	require.Equal(t, len(records), summary.RawBytes)
}

func TestSummarize_TooShort(t *testing.T) {
	_, err := Summarize([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCodec_String(t *testing.T) {
	require.Equal(t, "gzip", CodecGzip.String())
	require.Equal(t, "unknown", Codec(99).String())
}
