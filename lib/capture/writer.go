// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Writer appends records to a capture stream. It is safe for
// concurrent use: the read loop records broadcasts while the caller
// records its own requests.
type Writer struct {
	mu         sync.Mutex
	underlying io.WriteCloser
	stream     io.WriteCloser
	hasher     *blake3.Hasher
	records    int
	bytes      int64
	closed     bool
}

// Create opens a capture file at path, layering the codec inferred
// from the file name. The file must not already exist; captures are
// append-only evidence, never overwritten.
func Create(path string) (*Writer, error) {
	codec, err := CodecForPath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(file, codec)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return writer, nil
}

// NewWriter wraps w with the codec's compressor. Closing the Writer
// closes w.
func NewWriter(w io.WriteCloser, codec Codec) (*Writer, error) {
	stream, err := codec.newStreamWriter(w)
	if err != nil {
		return nil, err
	}
	return &Writer{
		underlying: w,
		stream:     stream,
		hasher:     newStreamHasher(),
	}, nil
}

// Append writes one record as an NDJSON line. A zero Time is stamped
// with the current time.
func (w *Writer) Append(record Record) error {
	if record.Time.IsZero() {
		record.Time = time.Now().UTC()
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("capture: encode record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("capture: writer is closed")
	}

	// The digest covers the uncompressed stream, so hash exactly the
	// bytes handed to the compressor.
	w.hasher.Write(line)
	if _, err := w.stream.Write(line); err != nil {
		return fmt.Errorf("capture: write record: %w", err)
	}
	w.records++
	w.bytes += int64(len(line))
	return nil
}

// Records returns how many records have been appended.
func (w *Writer) Records() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Bytes returns the uncompressed stream size so far.
func (w *Writer) Bytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytes
}

// Digest returns the BLAKE3 digest of the records appended so far;
// after Close it is the capture's final digest.
func (w *Writer) Digest() Digest {
	w.mu.Lock()
	defer w.mu.Unlock()
	var digest Digest
	copy(digest[:], w.hasher.Sum(nil))
	return digest
}

// Close flushes the compression frames and closes the underlying
// file. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	streamErr := w.stream.Close()
	closeErr := w.underlying.Close()
	if streamErr != nil {
		return fmt.Errorf("capture: flush stream: %w", streamErr)
	}
	return closeErr
}
