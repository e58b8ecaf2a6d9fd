// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how an envelope's Content is compressed. The
// numeric values are on the wire; do not renumber.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

// ParamUncompressedSize carries the original Content length of a
// compressed envelope. LZ4 block decoding needs it, and both
// algorithms verify against it.
const ParamUncompressedSize = "uncompressed_size"

// MinCompressSize is the payload size below which Compress leaves the
// envelope alone.
const MinCompressSize = 64

// MaxContentSize bounds the uncompressed size of an envelope's Content.
// Compress leaves larger payloads uncompressed, and Decompress rejects
// envelopes that declare or inflate past it.
const MaxContentSize = 64 << 20

// lz4MaxRatio is the largest expansion an LZ4 block can encode: every
// extra length byte adds at most 255 output bytes.
const lz4MaxRatio = 255

// String returns the configuration name of the algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. The empty string is
// treated as "none".
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("contentcodec: unknown compression %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("contentcodec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxContentSize))
	if err != nil {
		panic("contentcodec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses the envelope's Content in place. Small or
// incompressible payloads are left uncompressed and Compress reports
// CompressionNone without error. An already-compressed envelope is an
// error.
func Compress(envelope *EncodedContent, algorithm Compression) (Compression, error) {
	if envelope.Compression != CompressionNone {
		return 0, fmt.Errorf("contentcodec: envelope already compressed with %s", envelope.Compression)
	}
	if algorithm == CompressionNone || len(envelope.Content) < MinCompressSize || len(envelope.Content) > MaxContentSize {
		return CompressionNone, nil
	}

	var compressed []byte
	switch algorithm {
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(envelope.Content, nil)
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(envelope.Content)))
		written, err := lz4.CompressBlock(envelope.Content, destination, nil)
		if err != nil {
			return 0, fmt.Errorf("contentcodec: lz4 compress: %w", err)
		}
		// Zero means LZ4 judged the block incompressible.
		if written == 0 {
			return CompressionNone, nil
		}
		compressed = destination[:written]
	default:
		return 0, fmt.Errorf("contentcodec: unsupported compression %s", algorithm)
	}

	if len(compressed) >= len(envelope.Content) {
		return CompressionNone, nil
	}

	envelope.SetParameter(ParamUncompressedSize, strconv.Itoa(len(envelope.Content)))
	envelope.Content = compressed
	envelope.Compression = algorithm
	return algorithm, nil
}

// Decompress returns an uncompressed copy of envelope. An uncompressed
// envelope is returned as is. The declared size comes from the sender,
// so it is checked against MaxContentSize before anything is allocated.
func Decompress(envelope *EncodedContent) (*EncodedContent, error) {
	if envelope.Compression == CompressionNone {
		return envelope, nil
	}

	size, err := strconv.Atoi(envelope.Parameter(ParamUncompressedSize))
	if err != nil || size < 0 {
		return nil, fmt.Errorf("contentcodec: %s envelope has invalid %s %q",
			envelope.Compression, ParamUncompressedSize, envelope.Parameter(ParamUncompressedSize))
	}

	if size > MaxContentSize {
		return nil, fmt.Errorf("contentcodec: %s envelope declares %d bytes: %w",
			envelope.Compression, size, ErrContentTooLarge)
	}

	var content []byte
	switch envelope.Compression {
	case CompressionZstd:
		content, err = zstdDecoder.DecodeAll(envelope.Content, nil)
		if err != nil {
			return nil, fmt.Errorf("contentcodec: zstd decompress: %w", err)
		}
	case CompressionLZ4:
		if size > lz4MaxRatio*len(envelope.Content) {
			return nil, fmt.Errorf("contentcodec: lz4 envelope declares %d bytes from %d compressed: %w",
				size, len(envelope.Content), ErrContentTooLarge)
		}
		content = make([]byte, size)
		read, err := lz4.UncompressBlock(envelope.Content, content)
		if err != nil {
			return nil, fmt.Errorf("contentcodec: lz4 decompress: %w", err)
		}
		content = content[:read]
	default:
		return nil, fmt.Errorf("contentcodec: unsupported compression %s", envelope.Compression)
	}
	if len(content) != size {
		return nil, fmt.Errorf("contentcodec: %s decompress: got %d bytes, expected %d",
			envelope.Compression, len(content), size)
	}

	result := envelope.Clone()
	result.Content = content
	result.Compression = CompressionNone
	delete(result.Parameters, ParamUncompressedSize)
	if len(result.Parameters) == 0 {
		result.Parameters = nil
	}
	return result, nil
}
