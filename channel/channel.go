// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the asynchronous command channel an
// operator process holds to a camera rig: one persistent
// message-oriented connection multiplexed into request/response pairs
// and broadcast fan-out.
//
// A [Channel] owns at most one transport.Conn. [Channel.Call] sends a
// command stamped with a fresh request id and blocks until the
// response carrying that id arrives, the timeout elapses, or the
// connection goes away. [Channel.Notify] sends a command that expects
// no response. Everything the rig sends that settles no pending
// command fans out to registered [Listener]s in registration order:
// structured messages, raw binary frames, undecodable frames, and the
// end of the connection itself.
//
// Inbound frames classify in a fixed order. A binary frame always
// broadcasts. A text frame that fails to decode broadcasts as
// [EventInvalid]. A decoded message whose request id matches a live
// pending command settles that command and is consumed; everything
// else broadcasts as [EventMessage].
//
// Every failure mode has its own error type: [ConnectionError] for a
// failed connect, [SendError] for a command that never left,
// [CommandError] for a rig-reported failure, [TimeoutError] for a
// missing response, [DisconnectError] for a connection that died with
// commands in flight, and [ParseError] for an undecodable frame.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightbox-foundation/lightbox/lib/clock"
	"github.com/lightbox-foundation/lightbox/transport"
)

// State is the channel's connection lifecycle position.
type State int

const (
	// StateDisconnected is the initial state: no connection and no
	// attempt in flight.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight. Concurrent Connect
	// calls share its outcome.
	StateConnecting

	// StateConnected means the channel owns a live connection and
	// commands may be sent.
	StateConnected

	// StateClosed means the connection ended, locally or not. Connect
	// starts a fresh attempt from here.
	StateClosed
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultTimeout is the response deadline applied to Call when the
// Config does not set one.
const DefaultTimeout = 10 * time.Second

// Config configures a Channel.
type Config struct {
	// Target is the address handed to the dialer: a ws:// URL, a peer
	// name, whatever the dialer expects.
	Target string

	// Dialer opens the underlying connection. Required.
	Dialer transport.Dialer

	// DefaultTimeout bounds each Call unless WithTimeout overrides
	// it. Zero means DefaultTimeout.
	DefaultTimeout time.Duration

	// Clock drives timeouts and request-id stamps. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives connection lifecycle and frame diagnostics.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// Channel is one command channel to a rig. All methods are safe for
// concurrent use.
type Channel struct {
	target  string
	dialer  transport.Dialer
	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	requestCounter atomic.Uint64

	pending   *pendingTable
	listeners *listenerRegistry

	mu         sync.Mutex
	state      State
	conn       transport.Conn
	connecting *connectAttempt
}

// connectAttempt is one in-flight dial, shared by every Connect call
// that arrives while it runs.
type connectAttempt struct {
	done chan struct{}
	err  error
}

func (a *connectAttempt) finish(err error) {
	a.err = err
	close(a.done)
}

// errConnectAborted is the dial outcome when Disconnect arrives while
// the dial is in flight.
var errConnectAborted = errors.New("aborted by disconnect")

// New returns a disconnected Channel. Connect establishes the
// transport.
func New(config Config) *Channel {
	if config.Dialer == nil {
		panic("channel: Config.Dialer is required")
	}
	timeout := config.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		target:    config.Target,
		dialer:    config.Dialer,
		timeout:   timeout,
		clock:     clk,
		logger:    logger,
		pending:   newPendingTable(),
		listeners: newListenerRegistry(),
	}
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns the address the channel connects to.
func (c *Channel) Target() string { return c.target }

// Connect establishes the transport. Already connected is a no-op; a
// Connect that arrives while another is dialing waits for that dial
// and shares its outcome. From Closed, Connect starts a fresh
// connection.
//
// A failed dial returns a ConnectionError and leaves the channel
// Disconnected. Canceling ctx while waiting on someone else's dial
// returns ctx.Err() without affecting the dial.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		attempt := c.connecting
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	c.connecting = attempt
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug("dialing", "target", c.target)
	conn, dialErr := c.dialer.Dial(ctx, c.target)

	c.mu.Lock()
	if c.state != StateConnecting || c.connecting != attempt {
		// Disconnect won the race; the fresh connection is unwanted.
		if c.connecting == attempt {
			c.connecting = nil
		}
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		err := &ConnectionError{Target: c.target, Err: errConnectAborted}
		attempt.finish(err)
		return err
	}
	c.connecting = nil
	if dialErr != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		err := &ConnectionError{Target: c.target, Err: dialErr}
		attempt.finish(err)
		c.logger.Warn("connect failed", "target", c.target, "error", dialErr)
		return err
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(conn)
	attempt.finish(nil)
	c.logger.Info("connected", "target", c.target)
	return nil
}

// Disconnect closes the connection. Every pending command settles with
// its own DisconnectError, then listeners observe an EventDisconnect.
// Disconnect is idempotent and safe in any state; a later Connect
// starts fresh.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	if conn == nil {
		// Either already closed, or a dial is in flight and will
		// observe the state change and abort. No connection existed,
		// so nothing is pending and listeners hear nothing.
		return nil
	}

	err := conn.Close()
	c.drainAndNotify(nil)
	c.logger.Info("disconnected", "target", c.target)
	return err
}

// CallOption adjusts one Call.
type CallOption func(*callSettings)

type callSettings struct {
	timeout time.Duration
}

// WithTimeout overrides the channel's default response deadline for
// one Call. Zero or negative waits indefinitely, until the response,
// a disconnect, or ctx cancellation.
func WithTimeout(timeout time.Duration) CallOption {
	return func(s *callSettings) { s.timeout = timeout }
}

// Call sends a command and blocks until the rig answers it, the
// response deadline elapses, or the connection goes away. The returned
// bytes are the response's data field; a failure is a SendError,
// CommandError, TimeoutError, or DisconnectError.
//
// The payload marshals to the envelope's payload field; pass nil for
// none, or a json.RawMessage to send pre-encoded bytes untouched.
//
// Canceling ctx abandons the wait but not the command: its entry stays
// pending and settles on its own when the response, deadline, or
// disconnect arrives.
func (c *Channel) Call(ctx context.Context, action string, payload any, options ...CallOption) (json.RawMessage, error) {
	settings := callSettings{timeout: c.timeout}
	for _, option := range options {
		option(&settings)
	}

	encodedPayload, err := encodePayload(action, payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return nil, &SendError{Action: action, Err: fmt.Errorf("channel is %s", state)}
	}
	conn := c.conn
	c.mu.Unlock()

	id := c.nextRequestID()
	frame, err := json.Marshal(Request{Action: action, Payload: encodedPayload, RequestID: id})
	if err != nil {
		return nil, &SendError{Action: action, Err: err}
	}

	entry := &pendingEntry{
		id:      id,
		action:  action,
		created: c.clock.Now(),
		done:    make(chan struct{}),
	}
	// Register before sending: a rig that answers instantly must find
	// the entry in the table.
	c.pending.add(entry)
	if settings.timeout > 0 {
		timeout := settings.timeout
		entry.timer = c.clock.AfterFunc(timeout, func() {
			if expired, ok := c.pending.take(id); ok {
				expired.settle(nil, &TimeoutError{Action: action, RequestID: id, Timeout: timeout})
			}
		})
	}

	if sendErr := conn.Send(transport.Text(frame)); sendErr != nil {
		if failed, ok := c.pending.take(id); ok {
			failed.settle(nil, &SendError{Action: action, Err: sendErr})
		}
		// Either the take above settled the entry or a concurrent
		// drain already did; done is closed either way.
		<-entry.done
		return nil, entry.err
	}

	select {
	case <-entry.done:
		return entry.data, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a one-way command. The rig sends no response, so the
// only failures are local: not connected, an unencodable payload, or a
// transport write error.
func (c *Channel) Notify(action string, payload any) error {
	encodedPayload, err := encodePayload(action, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return &SendError{Action: action, Err: fmt.Errorf("channel is %s", state)}
	}
	conn := c.conn
	c.mu.Unlock()

	frame, err := json.Marshal(Request{Action: action, Payload: encodedPayload})
	if err != nil {
		return &SendError{Action: action, Err: err}
	}
	if sendErr := conn.Send(transport.Text(frame)); sendErr != nil {
		return &SendError{Action: action, Err: sendErr}
	}
	return nil
}

// AddListener registers listener for broadcast events. Adding a
// listener already registered is a no-op; events arrive in
// registration order.
func (c *Channel) AddListener(listener Listener) {
	c.listeners.add(listener)
}

// RemoveListener unregisters listener. Removing one never registered
// is a no-op.
func (c *Channel) RemoveListener(listener Listener) {
	c.listeners.remove(listener)
}

// emptyPayload stands in when the caller provides none. The rig
// protocol wants a payload object on every command.
var emptyPayload = json.RawMessage(`{}`)

func encodePayload(action string, payload any) (json.RawMessage, error) {
	if payload == nil {
		return emptyPayload, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, &SendError{Action: action, Err: fmt.Errorf("encode payload: %w", err)}
	}
	return encoded, nil
}

// nextRequestID returns a process-unique correlation id. The counter
// guarantees uniqueness; the millisecond stamp makes ids meaningful in
// logs and unlikely to collide across restarts.
func (c *Channel) nextRequestID() string {
	return fmt.Sprintf("req_%d_%d", c.requestCounter.Add(1), c.clock.Now().UnixMilli())
}

// readLoop pumps inbound frames until the connection dies.
func (c *Channel) readLoop(conn transport.Conn) {
	for {
		frame, err := conn.Receive()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.handleFrame(frame)
	}
}

// handleClose runs when the read loop's connection dies underneath it.
// If Disconnect already took ownership of the connection, the loop has
// nothing left to do.
func (c *Channel) handleClose(conn transport.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	conn.Close()
	if transport.IsExpectedCloseError(cause) {
		c.logger.Info("connection closed by peer", "target", c.target)
	} else {
		c.logger.Warn("connection lost", "target", c.target, "error", cause)
	}
	c.drainAndNotify(cause)
}

// drainAndNotify settles every pending command with its own
// DisconnectError, then tells listeners the connection ended. Pending
// commands settle first, so their callers are never left waiting while
// listeners already know.
func (c *Channel) drainAndNotify(cause error) {
	for _, entry := range c.pending.drain() {
		entry.settle(nil, &DisconnectError{Action: entry.action, RequestID: entry.id, Cause: cause})
	}
	c.broadcast(Event{Kind: EventDisconnect, Err: cause})
}

// handleFrame classifies one inbound frame. Binary frames always
// broadcast; text frames that fail to decode broadcast the parse
// failure; a decoded message settles the pending command its request
// id names, if that command is still live, and broadcasts otherwise.
func (c *Channel) handleFrame(frame transport.Message) {
	if frame.Type == transport.BinaryMessage {
		c.broadcast(Event{Kind: EventBinary, Binary: frame.Data})
		return
	}

	message, err := decodeFrame(frame.Data)
	if err != nil {
		c.logger.Warn("discarding invalid frame", "error", err)
		c.broadcast(Event{Kind: EventInvalid, Err: err})
		return
	}

	if message.RequestID != "" {
		if entry, ok := c.pending.take(message.RequestID); ok {
			c.settleFromResponse(entry, message)
			return
		}
		// A response whose command already settled (timed out, most
		// likely) is still interesting to listeners.
		c.logger.Debug("response for no live command",
			"action", message.Action, "request_id", message.RequestID)
	}
	c.broadcast(Event{Kind: EventMessage, Message: &message})
}

// settleFromResponse resolves a pending command from its response. The
// success flag is authoritative: absent counts as failure, whatever
// the payload looks like.
func (c *Channel) settleFromResponse(entry *pendingEntry, message Message) {
	if message.Success != nil && *message.Success {
		entry.settle(message.Data, nil)
		return
	}
	entry.settle(nil, &CommandError{
		Action:    entry.action,
		RequestID: entry.id,
		Reason:    message.Error,
		Data:      message.Data,
	})
}

// broadcast delivers event to every registered listener in
// registration order. A panicking listener is logged and skipped so
// the rest still hear the event.
func (c *Channel) broadcast(event Event) {
	for _, listener := range c.listeners.snapshot() {
		c.deliver(listener, event)
	}
}

func (c *Channel) deliver(listener Listener, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("listener panicked", "kind", event.Kind.String(), "panic", recovered)
		}
	}()
	listener.HandleEvent(event)
}
