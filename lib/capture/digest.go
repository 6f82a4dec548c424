// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest is the 32-byte BLAKE3 digest of a capture's uncompressed
// NDJSON stream. Hashing the uncompressed bytes means the digest
// survives recompressing a capture with a different codec.
type Digest [32]byte

// DigestExtension is the suffix of a digest side-car file.
const DigestExtension = ".b3"

// streamDomainKey is the BLAKE3 key for capture-stream digests. Keyed
// hashing separates this domain from any other BLAKE3 use; the key
// bytes are the ASCII domain name, zero-padded, so they are readable
// in a debugger.
var streamDomainKey = [32]byte{
	'l', 'i', 'g', 'h', 't', 'b', 'o', 'x', '.', 'c', 'a', 'p', 't', 'u', 'r', 'e',
	'.', 's', 't', 'r', 'e', 'a', 'm', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// frameDomainKey is the BLAKE3 key for individual binary frames,
// separate from the stream domain so a frame digest can never be
// confused with a capture digest.
var frameDomainKey = [32]byte{
	'l', 'i', 'g', 'h', 't', 'b', 'o', 'x', '.', 'c', 'a', 'p', 't', 'u', 'r', 'e',
	'.', 'f', 'r', 'a', 'm', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// newStreamHasher returns a keyed hasher for the capture stream
// domain.
func newStreamHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(streamDomainKey[:])
	if err != nil {
		// NewKeyed fails only on wrong key length, which the fixed
		// array rules out.
		panic("capture: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

// FrameDigest returns the keyed BLAKE3 digest of one binary frame
// body. Capture records carry it so a frame can be identified without
// storing its bytes.
func FrameDigest(frame []byte) Digest {
	hasher, err := blake3.NewKeyed(frameDomainKey[:])
	if err != nil {
		panic("capture: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(frame)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// FormatDigest returns the canonical hex form of a digest.
func FormatDigest(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a 64-character hex string into a Digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(strings.TrimSpace(hexString))
	if err != nil {
		return digest, fmt.Errorf("parsing capture digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("capture digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// WriteDigestFile writes the digest side-car for the capture at path.
func WriteDigestFile(path string, digest Digest) error {
	return os.WriteFile(path+DigestExtension, []byte(FormatDigest(digest)+"\n"), 0o644)
}

// ReadDigestFile reads the digest side-car for the capture at path.
func ReadDigestFile(path string) (Digest, error) {
	data, err := os.ReadFile(path + DigestExtension)
	if err != nil {
		return Digest{}, err
	}
	return ParseDigest(string(data))
}
