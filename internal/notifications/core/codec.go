package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"pollkeeper/internal/types"
)

// CompressionThreshold is the props size above which an EmailJob carries its
// props zstd-compressed. SQS caps a message body at 256 KiB; a reminder
// listing many participant names is the only payload that gets close.
const CompressionThreshold = 64 * 1024

var (
	// A single Encoder is safe for concurrent EncodeAll calls.
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

	decoderPool = sync.Pool{
		New: func() any {
			d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				// This should never fail with nil input and default options.
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return d
		},
	}
)

// PackProps stores props on job, compressing when they exceed
// CompressionThreshold.
func PackProps(job *types.EmailJob, props json.RawMessage) {
	if len(props) <= CompressionThreshold {
		job.Props = props
		job.Encoding = ""
		job.CompressedProps = ""
		return
	}
	job.Props = nil
	job.Encoding = types.EncodingZstd
	job.CompressedProps = base64.StdEncoding.EncodeToString(encoder.EncodeAll(props, nil))
}

// UnpackProps returns the raw JSON props of job regardless of encoding.
func UnpackProps(job types.EmailJob) (json.RawMessage, error) {
	switch job.Encoding {
	case "":
		return job.Props, nil
	case types.EncodingZstd:
		compressed, err := base64.StdEncoding.DecodeString(job.CompressedProps)
		if err != nil {
			return nil, fmt.Errorf("decoding compressed props: %w", err)
		}
		decoder := decoderPool.Get().(*zstd.Decoder)
		defer decoderPool.Put(decoder)

		raw, err := decoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported props encoding %q", job.Encoding)
	}
}
