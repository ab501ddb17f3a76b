// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm used for a block.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates a compression name.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case CompressionNone, CompressionLZ4, CompressionZstd:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// errIncompressible means the compressed output would not be smaller
// than the input. The caller stores the block uncompressed.
var errIncompressible = errors.New("data is incompressible")

// zstdEncoder and zstdDecoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("trace: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("trace: zstd decoder initialization failed: " + err.Error())
	}
}

// compressBlock returns the stored form of data and the algorithm that
// produced it, falling back to none when compression does not help.
func compressBlock(data []byte, compression Compression) ([]byte, Compression, error) {
	var (
		compressed []byte
		err        error
	)
	switch compression {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, "", fmt.Errorf("unsupported compression %q", compression)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, "", err
	}
	return compressed, compression, nil
}

// decompressBlock reverses compressBlock. The result must be exactly
// size bytes long.
func decompressBlock(stored []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(stored) != size {
			return nil, fmt.Errorf("uncompressed block: size %d does not match expected %d", len(stored), size)
		}
		return stored, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
