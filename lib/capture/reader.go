// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Reader iterates the records of a capture stream.
type Reader struct {
	underlying io.Closer
	stream     io.ReadCloser
	buffered   *bufio.Reader
}

// Open opens the capture file at path, inferring the codec from the
// file name.
func Open(path string) (*Reader, error) {
	codec, err := CodecForPath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(file, codec)
	if err != nil {
		file.Close()
		return nil, err
	}
	return reader, nil
}

// NewReader wraps r with the codec's decompressor. Closing the Reader
// closes r.
func NewReader(r io.ReadCloser, codec Codec) (*Reader, error) {
	stream, err := codec.newStreamReader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{
		underlying: r,
		stream:     stream,
		buffered:   bufio.NewReader(stream),
	}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	line, err := r.buffered.ReadBytes('\n')
	if len(line) == 0 {
		if err == nil {
			err = io.EOF
		}
		return Record{}, err
	}
	if err != nil && err != io.EOF {
		return Record{}, err
	}

	var record Record
	if err := json.Unmarshal(line, &record); err != nil {
		return Record{}, fmt.Errorf("capture: decode record: %w", err)
	}
	return record, nil
}

// Close closes the decompressor and the underlying file.
func (r *Reader) Close() error {
	r.stream.Close()
	return r.underlying.Close()
}

// Verify recomputes the digest of the capture at path and compares it
// to the .b3 side-car. It reports a missing side-car, an unreadable
// stream, or a mismatch as errors.
func Verify(path string) error {
	expected, err := ReadDigestFile(path)
	if err != nil {
		return fmt.Errorf("capture: read digest for %s: %w", path, err)
	}

	codec, err := CodecForPath(path)
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	stream, err := codec.newStreamReader(file)
	if err != nil {
		return err
	}
	defer stream.Close()

	hasher := newStreamHasher()
	if _, err := io.Copy(hasher, stream); err != nil {
		return fmt.Errorf("capture: read %s: %w", path, err)
	}
	var actual Digest
	copy(actual[:], hasher.Sum(nil))

	if actual != expected {
		return fmt.Errorf("capture: digest mismatch for %s: stream is %s, side-car says %s",
			path, FormatDigest(actual), FormatDigest(expected))
	}
	return nil
}
