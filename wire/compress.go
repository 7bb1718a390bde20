// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression applied to a message's
// raw section. Tags are protocol constants carried in the frame
// header.
type CompressionTag uint8

const (
	// CompressionNone ships the raw section uncompressed. The right
	// choice for already-compressed payloads such as encoded JPEG or
	// PNG bytes.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 applies LZ4 block compression. Fast default for
	// pixel buffers, which usually carry large runs of similar bytes.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd applies zstd at the default level. Better
	// ratios than LZ4 at a higher CPU cost; worthwhile for very
	// large textures crossing the boundary.
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with the given tag. It returns nil (with
// no error) when the data does not shrink, signalling the caller to
// send it uncompressed instead.
func Compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return nil, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, nil
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, nil
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unknown compression tag: %d", tag)
	}
}

// Decompress expands a raw section. The uncompressed size comes from
// the frame header and must match exactly; a mismatch is a protocol
// violation.
func Decompress(data []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed section is %d bytes, header declares %d",
				len(data), uncompressedSize)
		}
		return data, nil

	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, header declares %d", read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		destination, err := zstdDecoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(destination) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, header declares %d",
				len(destination), uncompressedSize)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("unknown compression tag: %d", tag)
	}
}
