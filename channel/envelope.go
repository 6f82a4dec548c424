// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is one outbound command envelope. RequestID is present only
// when a response is expected; Notify leaves it empty and the rig
// answers nothing.
type Request struct {
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Message is one decoded inbound envelope. Responses carry the
// RequestID of the command they answer and a Success verdict;
// rig-initiated messages carry neither.
type Message struct {
	Action    string          `json:"action"`
	Success   *bool           `json:"success,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID string          `json:"request_id,omitempty"`

	// Raw is the undecoded frame, for listeners that need fields
	// beyond the envelope.
	Raw []byte `json:"-"`
}

// decodeFrame parses an inbound text frame. Anything that is not a
// JSON object is a ParseError; unknown fields are preserved in Raw.
func decodeFrame(data []byte) (Message, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &ParseError{Err: fmt.Errorf("frame is not a JSON object"), Raw: data}
	}

	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return Message{}, &ParseError{Err: err, Raw: data}
	}
	message.Raw = data
	return message, nil
}
