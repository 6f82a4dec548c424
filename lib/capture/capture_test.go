// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var captureEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sessionRecords() []Record {
	return []Record{
		{Time: captureEpoch, Kind: KindConnect},
		{Time: captureEpoch.Add(time.Second), Kind: KindRequest, Action: "get_status", RequestID: "req_1_0"},
		{Time: captureEpoch.Add(2 * time.Second), Kind: KindResponse, Action: "get_status", RequestID: "req_1_0",
			Data: json.RawMessage(`{"battery":87}`)},
		{Time: captureEpoch.Add(3 * time.Second), Kind: KindBinary, Size: 4, Binary: []byte{0xFF, 0xD8, 0xFF, 0xE0}},
		{Time: captureEpoch.Add(4 * time.Second), Kind: KindMessage, Action: "battery_low",
			Data: json.RawMessage(`{"percent":9}`)},
		{Time: captureEpoch.Add(5 * time.Second), Kind: KindDisconnect},
	}
}

func roundTrip(t *testing.T, codec Codec) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName("session", codec))

	writer, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	records := sessionRecords()
	for _, record := range records {
		if err := writer.Append(record); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if got := writer.Records(); got != len(records) {
		t.Errorf("Records() = %d, want %d", got, len(records))
	}
	digest := writer.Digest()
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := WriteDigestFile(path, digest); err != nil {
		t.Fatalf("WriteDigestFile() error: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer reader.Close()
	for index, want := range records {
		got, err := reader.Next()
		if err != nil {
			t.Fatalf("Next() record %d error: %v", index, err)
		}
		if got.Kind != want.Kind {
			t.Errorf("record %d kind = %q, want %q", index, got.Kind, want.Kind)
		}
		if got.Action != want.Action {
			t.Errorf("record %d action = %q, want %q", index, got.Action, want.Action)
		}
		if !got.Time.Equal(want.Time) {
			t.Errorf("record %d time = %v, want %v", index, got.Time, want.Time)
		}
		if got.Kind == KindBinary {
			if got.Size != want.Size {
				t.Errorf("record %d size = %d, want %d", index, got.Size, want.Size)
			}
			if string(got.Binary) != string(want.Binary) {
				t.Errorf("record %d binary = %x, want %x", index, got.Binary, want.Binary)
			}
		}
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after last record error = %v, want io.EOF", err)
	}

	if err := Verify(path); err != nil {
		t.Errorf("Verify() error: %v", err)
	}
}

func TestRoundTripUncompressed(t *testing.T) { roundTrip(t, CodecNone) }
func TestRoundTripLZ4(t *testing.T)          { roundTrip(t, CodecLZ4) }
func TestRoundTripZstd(t *testing.T)         { roundTrip(t, CodecZstd) }

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName("session", CodecNone))

	writer, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	for _, record := range sessionRecords() {
		if err := writer.Append(record); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	digest := writer.Digest()
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := WriteDigestFile(path, digest); err != nil {
		t.Fatalf("WriteDigestFile() error: %v", err)
	}

	// Flip a byte in the stored stream.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading capture: %v", err)
	}
	data[len(data)/2] ^= 0x01
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing tampered capture: %v", err)
	}

	if err := Verify(path); err == nil {
		t.Error("Verify() passed a tampered capture")
	}
}

func TestDigestIndependentOfCodec(t *testing.T) {
	digests := make(map[Codec]Digest)
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		path := filepath.Join(t.TempDir(), FileName("session", codec))
		writer, err := Create(path)
		if err != nil {
			t.Fatalf("Create(%v) error: %v", codec, err)
		}
		for _, record := range sessionRecords() {
			if err := writer.Append(record); err != nil {
				t.Fatalf("Append() error: %v", err)
			}
		}
		digests[codec] = writer.Digest()
		writer.Close()
	}
	if digests[CodecNone] != digests[CodecLZ4] || digests[CodecNone] != digests[CodecZstd] {
		t.Error("digest differs across codecs, want identical digests for identical records")
	}
}

func TestCreateRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName("session", CodecNone))
	if err := os.WriteFile(path, []byte("occupied"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if _, err := Create(path); err == nil {
		t.Error("Create() overwrote an existing capture")
	}
}

func TestAppendStampsZeroTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName("session", CodecNone))
	writer, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := writer.Append(Record{Kind: KindConnect}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	writer.Close()

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer reader.Close()
	record, err := reader.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if record.Time.IsZero() {
		t.Error("record time is zero, want a stamp")
	}
}

func TestCodecNames(t *testing.T) {
	for _, tc := range []struct {
		codec Codec
		name  string
	}{
		{CodecNone, "none"},
		{CodecLZ4, "lz4"},
		{CodecZstd, "zstd"},
	} {
		if got := tc.codec.String(); got != tc.name {
			t.Errorf("%v.String() = %q, want %q", tc.codec, got, tc.name)
		}
		parsed, err := ParseCodec(tc.name)
		if err != nil {
			t.Errorf("ParseCodec(%q) error: %v", tc.name, err)
		}
		if parsed != tc.codec {
			t.Errorf("ParseCodec(%q) = %v, want %v", tc.name, parsed, tc.codec)
		}
	}
	if _, err := ParseCodec("rot13"); err == nil {
		t.Error("ParseCodec accepted an unknown codec")
	}
}

func TestCodecForPath(t *testing.T) {
	for _, tc := range []struct {
		path  string
		codec Codec
	}{
		{"session.ndjson", CodecNone},
		{"session.ndjson.lz4", CodecLZ4},
		{"session.ndjson.zst", CodecZstd},
	} {
		got, err := CodecForPath(tc.path)
		if err != nil {
			t.Errorf("CodecForPath(%q) error: %v", tc.path, err)
		}
		if got != tc.codec {
			t.Errorf("CodecForPath(%q) = %v, want %v", tc.path, got, tc.codec)
		}
	}
	if _, err := CodecForPath("session.json"); err == nil {
		t.Error("CodecForPath accepted an unknown extension")
	}
}

func TestDigestFormatRoundTrip(t *testing.T) {
	var digest Digest
	for index := range digest {
		digest[index] = byte(index)
	}
	formatted := FormatDigest(digest)
	if len(formatted) != 64 {
		t.Errorf("FormatDigest length = %d, want 64", len(formatted))
	}
	parsed, err := ParseDigest(formatted)
	if err != nil {
		t.Fatalf("ParseDigest() error: %v", err)
	}
	if parsed != digest {
		t.Error("ParseDigest did not invert FormatDigest")
	}
	if _, err := ParseDigest("abc"); err == nil {
		t.Error("ParseDigest accepted a short string")
	}
}

func TestFrameDigest(t *testing.T) {
	frame := []byte("binary sensor block")

	first := FrameDigest(frame)
	second := FrameDigest(frame)
	if first != second {
		t.Error("FrameDigest is not deterministic")
	}
	if FrameDigest([]byte("different frame")) == first {
		t.Error("distinct frames share a digest")
	}

	// The frame domain must not collide with the stream domain: a
	// capture whose NDJSON happens to equal a frame body hashes
	// differently.
	streamHasher := newStreamHasher()
	streamHasher.Write(frame)
	var streamDigest Digest
	copy(streamDigest[:], streamHasher.Sum(nil))
	if streamDigest == first {
		t.Error("frame digest collides with stream digest for identical bytes")
	}
}
