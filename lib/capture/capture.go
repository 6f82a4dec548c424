// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture records command-channel sessions to disk and reads
// them back.
//
// A capture file is newline-delimited JSON: one [Record] per line, in
// the order the session produced them — requests, responses, broadcast
// messages, binary frames, and connection lifecycle. The stream is
// optionally compressed ([CodecLZ4] or [CodecZstd]; the codec is part
// of the file name) and a BLAKE3 digest of the uncompressed stream can
// be written alongside as a .b3 file for later verification.
//
// [Writer] appends records, [Reader] iterates them, and [Verify]
// checks a capture against its digest side-car.
package capture

import (
	"encoding/json"
	"time"
)

// Record kinds, in the Kind field.
const (
	// KindConnect marks the start of a connection.
	KindConnect = "connect"

	// KindDisconnect marks the end of a connection. Error carries the
	// close cause when the connection failed.
	KindDisconnect = "disconnect"

	// KindRequest is an outbound command.
	KindRequest = "request"

	// KindResponse is the settlement of a command: Data on success,
	// Error on failure.
	KindResponse = "response"

	// KindMessage is a broadcast structured message.
	KindMessage = "message"

	// KindBinary is a binary frame. Size is always recorded; Binary
	// holds the body only when the capture includes binary payloads.
	KindBinary = "binary"

	// KindInvalid is a frame that failed to decode.
	KindInvalid = "invalid"
)

// Record is one line of a capture file.
type Record struct {
	// Time is when the record was made. Writer.Append stamps it if
	// left zero.
	Time time.Time `json:"time"`

	// Kind classifies the record; see the Kind constants.
	Kind string `json:"kind"`

	// Action is the command or message action, when there is one.
	Action string `json:"action,omitempty"`

	// RequestID correlates requests with responses.
	RequestID string `json:"request_id,omitempty"`

	// Data is the structured payload: request payload, response data,
	// or broadcast message body.
	Data json.RawMessage `json:"data,omitempty"`

	// Error is the failure text for failed responses, invalid frames,
	// and disconnects with a cause.
	Error string `json:"error,omitempty"`

	// Size is the byte length of a binary frame, recorded even when
	// the frame body is not.
	Size int `json:"size,omitempty"`

	// Digest is the hex BLAKE3 digest of a binary frame body (see
	// FrameDigest), recorded even when the frame body is not.
	Digest string `json:"digest,omitempty"`

	// Binary is the binary frame body, when captured.
	Binary []byte `json:"binary,omitempty"`
}
