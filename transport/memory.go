// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"net"
	"sync"
)

// pipeBuffer is the per-direction message queue depth of an in-memory
// pipe. A full buffer makes Send block, which is what a real transport
// does under backpressure.
const pipeBuffer = 64

// Pipe returns two connected in-memory Conns. Messages sent on one
// side arrive on the other in order. Closing either side unblocks
// both: the closing side's Receive returns net.ErrClosed, the peer's
// Receive returns io.EOF once queued messages are drained.
func Pipe() (Conn, Conn) {
	aToB := make(chan Message, pipeBuffer)
	bToA := make(chan Message, pipeBuffer)
	a := &memoryConn{in: bToA, out: aToB, closed: make(chan struct{})}
	b := &memoryConn{in: aToB, out: bToA, closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

type memoryConn struct {
	in   chan Message
	out  chan Message
	peer *memoryConn

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *memoryConn) Send(message Message) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	case <-c.peer.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- message:
		return nil
	case <-c.closed:
		return net.ErrClosed
	case <-c.peer.closed:
		return io.ErrClosedPipe
	}
}

func (c *memoryConn) Receive() (Message, error) {
	// Drain queued messages before reporting a close, so a peer that
	// sends and immediately closes does not lose its final messages.
	select {
	case message := <-c.in:
		return message, nil
	default:
	}
	select {
	case message := <-c.in:
		return message, nil
	case <-c.closed:
		return Message{}, net.ErrClosed
	case <-c.peer.closed:
		select {
		case message := <-c.in:
			return message, nil
		default:
			return Message{}, io.EOF
		}
	}
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// MemoryDialer is a Dialer that manufactures in-memory pipes. Each
// Dial hands the caller one end and queues the other end for Accept.
// Tests and examples run a channel against a fake peer this way,
// without any network.
type MemoryDialer struct {
	accepted chan Conn
}

// NewMemoryDialer returns a MemoryDialer ready for use.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{accepted: make(chan Conn, 8)}
}

// Dial creates a pipe, queues the far end for Accept, and returns the
// near end.
func (d *MemoryDialer) Dial(ctx context.Context, target string) (Conn, error) {
	client, server := Pipe()
	select {
	case d.accepted <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

// Accept returns the peer end of the next dialed pipe.
func (d *MemoryDialer) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-d.accepted:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
