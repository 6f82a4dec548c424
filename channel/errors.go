// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ConnectionError reports a failed attempt to establish the transport.
type ConnectionError struct {
	// Target is the address the dial was aimed at.
	Target string

	// Err is the underlying dial failure.
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("channel: connect %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AsConnectionError unwraps err to a *ConnectionError if one is in its
// chain.
func AsConnectionError(err error) (*ConnectionError, bool) {
	var connectionErr *ConnectionError
	ok := errors.As(err, &connectionErr)
	return connectionErr, ok
}

// SendError reports a command that never left this side: the channel
// was not connected, the payload would not encode, or the transport
// write failed. No response will ever arrive for it.
type SendError struct {
	// Action is the command that failed to send.
	Action string

	// Err is the underlying cause.
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("channel: send %q: %v", e.Action, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// AsSendError unwraps err to a *SendError if one is in its chain.
func AsSendError(err error) (*SendError, bool) {
	var sendErr *SendError
	ok := errors.As(err, &sendErr)
	return sendErr, ok
}

// CommandError reports that the rig received the command and answered
// with a failure.
type CommandError struct {
	// Action is the command that failed.
	Action string

	// RequestID correlates the failure with the request.
	RequestID string

	// Reason is the rig's error text, if it sent one.
	Reason string

	// Data is any payload the rig attached to the failure.
	Data json.RawMessage
}

func (e *CommandError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("channel: command %q failed", e.Action)
	}
	return fmt.Sprintf("channel: command %q failed: %s", e.Action, e.Reason)
}

// AsCommandError unwraps err to a *CommandError if one is in its chain.
func AsCommandError(err error) (*CommandError, bool) {
	var commandErr *CommandError
	ok := errors.As(err, &commandErr)
	return commandErr, ok
}

// TimeoutError reports that no response arrived within the command's
// deadline. The command may still have executed on the rig.
type TimeoutError struct {
	// Action is the command that timed out.
	Action string

	// RequestID correlates the timeout with the request.
	RequestID string

	// Timeout is the deadline that elapsed.
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("channel: command %q timed out after %v", e.Action, e.Timeout)
}

// AsTimeoutError unwraps err to a *TimeoutError if one is in its chain.
func AsTimeoutError(err error) (*TimeoutError, bool) {
	var timeoutErr *TimeoutError
	ok := errors.As(err, &timeoutErr)
	return timeoutErr, ok
}

// DisconnectError reports that the connection went away while the
// command was waiting for its response.
type DisconnectError struct {
	// Action is the command that was in flight.
	Action string

	// RequestID correlates the failure with the request.
	RequestID string

	// Cause is the connection's close cause, nil for a local
	// Disconnect.
	Cause error
}

func (e *DisconnectError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("channel: disconnected while %q was pending", e.Action)
	}
	return fmt.Sprintf("channel: disconnected while %q was pending: %v", e.Action, e.Cause)
}

func (e *DisconnectError) Unwrap() error { return e.Cause }

// AsDisconnectError unwraps err to a *DisconnectError if one is in its
// chain.
func AsDisconnectError(err error) (*DisconnectError, bool) {
	var disconnectErr *DisconnectError
	ok := errors.As(err, &disconnectErr)
	return disconnectErr, ok
}

// ParseError reports an inbound text frame that was not a valid
// envelope. The frame is dropped; listeners are told via EventInvalid.
type ParseError struct {
	// Err is the decode failure.
	Err error

	// Raw is the offending frame.
	Raw []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("channel: invalid frame (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AsParseError unwraps err to a *ParseError if one is in its chain.
func AsParseError(err error) (*ParseError, bool) {
	var parseErr *ParseError
	ok := errors.As(err, &parseErr)
	return parseErr, ok
}
