// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the message-oriented duplex connections
// the command channel runs over.
//
// The package defines two interfaces: [Conn] is one established
// connection carrying framed text and binary messages in both
// directions, and [Dialer] opens a Conn to a target address. The
// channel package owns exactly one Conn at a time and never sees
// transport specifics; everything above this package works identically
// over a websocket, a WebRTC data channel, or an in-memory pipe.
//
// [WebSocketDialer] is the production transport: it speaks RFC 6455
// via gorilla/websocket with handshake timeouts, per-message write
// deadlines, a read limit, and optional ping/pong keepalive.
// [NewWebSocketConn] wraps an already-upgraded server-side connection
// with the same semantics, which the mock rig uses.
//
// [DataChannelDialer] and [DataChannelAnswerer] carry the same Conn
// contract over a pion/webrtc data channel, preserving text/binary
// framing end to end. Signaling is abstracted behind [Signaler] with
// an in-process [MemorySignaler] for tests; production signaling is
// deployment-specific.
//
// [Pipe] returns a connected in-memory Conn pair, and [MemoryDialer]
// serves pipes through the Dialer interface — the unit-test transport.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// MessageType distinguishes the two frame kinds a Conn carries.
type MessageType int

const (
	// TextMessage is a UTF-8 text frame. The command channel's JSON
	// envelopes travel as text.
	TextMessage MessageType = iota + 1

	// BinaryMessage is an opaque binary frame, such as a raw preview
	// image pushed by the rig.
	BinaryMessage
)

// String returns "text" or "binary".
func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is one framed message on a Conn. Frame boundaries are
// preserved: one Send on one side is one Receive on the other.
type Message struct {
	Type MessageType
	Data []byte
}

// Text builds a text message from raw bytes.
func Text(data []byte) Message { return Message{Type: TextMessage, Data: data} }

// Binary builds a binary message from raw bytes.
func Binary(data []byte) Message { return Message{Type: BinaryMessage, Data: data} }

// Conn is one established message-oriented duplex connection.
type Conn interface {
	// Send transmits one message. Safe for concurrent use; messages
	// from concurrent senders are transmitted whole, in the order the
	// sends are serialized.
	Send(message Message) error

	// Receive blocks until the next inbound message arrives or the
	// connection is closed (locally or by the peer), then returns the
	// message or the close cause. At most one goroutine may call
	// Receive at a time.
	Receive() (Message, error)

	// Close tears down the connection and unblocks a pending Receive.
	// Close is idempotent.
	Close() error
}

// Dialer opens connections. The target format is
// implementation-specific: a ws:// or wss:// URL for websockets, a
// peer name for data channels.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, target string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, target string) (Conn, error) {
	return f(ctx, target)
}

// IsExpectedCloseError reports whether err is a normal connection
// termination rather than a fault: EOF (peer closed cleanly), a
// locally closed connection, a broken pipe, or a connection reset.
// Callers use it to pick log levels and to suppress error noise
// during ordinary teardown.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
