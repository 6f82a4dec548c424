// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the stream compression of a capture file. The
// codec is visible in the file name, so a capture is always readable
// without out-of-band metadata.
type Codec uint8

const (
	// CodecNone stores the NDJSON stream uncompressed.
	CodecNone Codec = iota

	// CodecLZ4 compresses with LZ4 frames: fast, modest ratio, the
	// right choice when captures include binary previews.
	CodecLZ4

	// CodecZstd compresses with zstd: better ratios for the mostly
	// textual JSON stream at moderate CPU cost.
	CodecZstd
)

// String returns the codec's config-file name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Extension returns the file-name suffix the codec adds after
// ".ndjson": empty for none, ".lz4" or ".zst" otherwise.
func (c Codec) Extension() string {
	switch c {
	case CodecLZ4:
		return ".lz4"
	case CodecZstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseCodec parses a codec from its config-file name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none", "":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown capture codec: %q", name)
	}
}

// FileName builds a capture file name from a base name and codec:
// base + ".ndjson" + the codec extension.
func FileName(base string, codec Codec) string {
	return base + ".ndjson" + codec.Extension()
}

// CodecForPath infers the codec from a capture file name.
func CodecForPath(path string) (Codec, error) {
	switch {
	case strings.HasSuffix(path, ".ndjson"):
		return CodecNone, nil
	case strings.HasSuffix(path, ".ndjson.lz4"):
		return CodecLZ4, nil
	case strings.HasSuffix(path, ".ndjson.zst"):
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("cannot infer capture codec from %q", path)
	}
}

// newStreamWriter layers the codec's compressor over w. Closing the
// returned writer flushes the compression frames without closing w.
func (c Codec) newStreamWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("capture: zstd writer: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("capture: unsupported codec %v", c)
	}
}

// newStreamReader layers the codec's decompressor over r.
func (c Codec) newStreamReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("capture: zstd reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("capture: unsupported codec %v", c)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
