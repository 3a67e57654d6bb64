// Package recordlog summarizes Kafka record batches (the payload of
// Produce/Fetch requests and responses) for debug logging when a virtual
// cluster's LogFrames flag is set (pkg/kroxy.VirtualCluster.LogFrames).
// Record batches are frequently compressed; this package recognizes the
// codec carried in the batch's attributes field and decompresses just
// enough to report a record count and uncompressed size, without fully
// materializing every record.
package recordlog

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/twmb/franz-go/pkg/kbin"
)

// Codec identifies a record batch's compression codec, encoded in the low
// 3 bits of the batch attributes field (Kafka record batch v2 wire format).
type Codec int8

const (
	CodecNone Codec = iota
	CodecGzip
	CodecSnappy
	CodecLZ4
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecGzip:
		return "gzip"
	case CodecSnappy:
		return "snappy"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// batchHeaderLen is the fixed portion of a v2 record batch preceding the
// compressed records payload: base offset(8) + batch length(4) +
// partition leader epoch(4) + magic(1) + crc(4) + attributes(2) +
// last offset delta(4) + base timestamp(8) + max timestamp(8) +
// producer id(8) + producer epoch(2) + base sequence(4) + records count(4).
const batchHeaderLen = 61

// Summary is a compact description of one record batch, safe to log at
// debug level without dumping record payloads.
type Summary struct {
	Codec           Codec
	RecordCount     int32
	CompressedBytes int
	RawBytes        int
}

func (s Summary) String() string {
	return fmt.Sprintf("records=%d codec=%s compressed=%dB raw=%dB", s.RecordCount, s.Codec, s.CompressedBytes, s.RawBytes)
}

// Summarize parses one v2 record batch's fixed header and decompresses its
// records payload far enough to report its raw size. batch must be exactly
// one batch (callers iterating a multi-batch Produce/Fetch payload split on
// the batch length field themselves).
func Summarize(batch []byte) (Summary, error) {
	if len(batch) < batchHeaderLen {
		return Summary{}, fmt.Errorf("recordlog: batch too short (%d bytes)", len(batch))
	}
	r := &kbin.Reader{Src: batch}
	r.Int64()              // base offset
	r.Int32()               // batch length
	r.Int32()               // partition leader epoch
	r.Int8()                // magic
	r.Int32()               // crc
	attrs := r.Int16()
	r.Int32()               // last offset delta
	r.Int64()               // base timestamp
	r.Int64()               // max timestamp
	r.Int64()               // producer id
	r.Int16()               // producer epoch
	r.Int32()               // base sequence
	count := r.Int32()
	payload := r.Span(len(batch) - batchHeaderLen)
	if err := r.Complete(); err != nil {
		return Summary{}, fmt.Errorf("recordlog: %w", err)
	}

	codec := Codec(attrs & 0x7)
	raw, err := decompress(codec, payload)
	if err != nil {
		return Summary{}, fmt.Errorf("recordlog: decompress %s: %w", codec, err)
	}
	return Summary{
		Codec:           codec,
		RecordCount:     count,
		CompressedBytes: len(payload),
		RawBytes:        len(raw),
	}, nil
}

func decompress(codec Codec, payload []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return payload, nil
	case CodecGzip:
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CodecSnappy:
		return snappy.Decode(nil, payload)
	case CodecLZ4:
		zr := lz4.NewReader(bytes.NewReader(payload))
		return io.ReadAll(zr)
	case CodecZstd:
		zr, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unrecognized codec %d", codec)
	}
}
