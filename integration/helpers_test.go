// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test exercises the full client stack against an
// in-process rig speaking the wire protocol over real transports:
// channel semantics over a live websocket, the data channel transport
// end to end, and capture files written from a live event stream.
package integration_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lightbox-foundation/lightbox/channel"
	"github.com/lightbox-foundation/lightbox/transport"
)

// commandFrame is the operator-to-rig envelope. Mirrors the channel
// package's Request; defined locally because the wire format, not the
// Go type, is the contract.
type commandFrame struct {
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id"`
}

// responseFrame is the rig-to-operator envelope, used both for
// correlated responses and for broadcast pushes (which carry no
// request_id).
type responseFrame struct {
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// testRig is an in-process rig serving the wire protocol over any
// transport. Commands:
//
//	ping          respond {"pong": true}
//	echo          respond with the request payload
//	echo_delayed  payload {"delay_ms": N}: respond with the payload
//	              after N milliseconds, off the read loop
//	get_config    respond with the stored value for payload {"key"}
//	set_config    store payload {"key", "value"}, respond {"stored"}
//	fail          respond success=false with payload {"message"}
//	black_hole    never respond
//
// Anything else fails with "unknown action".
type testRig struct {
	t *testing.T

	mu       sync.Mutex
	config   map[string]json.RawMessage
	sessions map[transport.Conn]struct{}
}

func newTestRig(t *testing.T) *testRig {
	return &testRig{
		t:        t,
		config:   make(map[string]json.RawMessage),
		sessions: make(map[transport.Conn]struct{}),
	}
}

// serve runs the session read loop until the connection dies. Callers
// run it on its own goroutine, one per connection.
func (r *testRig) serve(conn transport.Conn) {
	r.mu.Lock()
	r.sessions[conn] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.sessions, conn)
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		frame, err := conn.Receive()
		if err != nil {
			return
		}
		if frame.Type != transport.TextMessage {
			continue
		}
		var command commandFrame
		if err := json.Unmarshal(frame.Data, &command); err != nil {
			continue
		}
		r.handle(conn, command)
	}
}

func (r *testRig) handle(conn transport.Conn, command commandFrame) {
	switch command.Action {
	case "ping":
		r.respond(conn, command, map[string]any{"pong": true})

	case "echo":
		r.respond(conn, command, command.Payload)

	case "echo_delayed":
		var params struct {
			DelayMillis int `json:"delay_ms"`
		}
		if len(command.Payload) > 0 {
			json.Unmarshal(command.Payload, &params)
		}
		go func() {
			time.Sleep(time.Duration(params.DelayMillis) * time.Millisecond)
			r.respond(conn, command, command.Payload)
		}()

	case "set_config":
		var params struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(command.Payload, &params); err != nil || params.Key == "" {
			r.fail(conn, command, "set_config wants a payload of {key, value}")
			return
		}
		r.mu.Lock()
		r.config[params.Key] = params.Value
		r.mu.Unlock()
		r.respond(conn, command, map[string]any{"stored": params.Key})

	case "get_config":
		var params struct {
			Key string `json:"key"`
		}
		json.Unmarshal(command.Payload, &params)
		r.mu.Lock()
		value, ok := r.config[params.Key]
		r.mu.Unlock()
		if !ok {
			r.fail(conn, command, fmt.Sprintf("no config value for %q", params.Key))
			return
		}
		r.respond(conn, command, map[string]any{"key": params.Key, "value": value})

	case "fail":
		var params struct {
			Message string `json:"message"`
		}
		if len(command.Payload) > 0 {
			json.Unmarshal(command.Payload, &params)
		}
		if params.Message == "" {
			params.Message = "simulated failure"
		}
		r.fail(conn, command, params.Message)

	case "black_hole":
		// Swallow it; timeout tests depend on the silence.

	default:
		r.fail(conn, command, fmt.Sprintf("unknown action %q", command.Action))
	}
}

// respond sends a success response, or nothing for a fire-and-forget
// command.
func (r *testRig) respond(conn transport.Conn, command commandFrame, data any) {
	if command.RequestID == "" {
		return
	}
	r.send(conn, responseFrame{
		Action:    command.Action,
		Success:   true,
		Data:      data,
		RequestID: command.RequestID,
	})
}

func (r *testRig) fail(conn transport.Conn, command commandFrame, message string) {
	if command.RequestID == "" {
		return
	}
	r.send(conn, responseFrame{
		Action:    command.Action,
		Error:     message,
		RequestID: command.RequestID,
	})
}

func (r *testRig) send(conn transport.Conn, frame responseFrame) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		r.t.Errorf("rig encode response: %v", err)
		return
	}
	conn.Send(transport.Text(encoded))
}

// Broadcast pushes an envelope to every connected session.
func (r *testRig) Broadcast(frame responseFrame) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		r.t.Errorf("rig encode broadcast: %v", err)
		return
	}
	r.pushAll(transport.Text(encoded))
}

// PushBinary pushes a binary frame to every connected session.
func (r *testRig) PushBinary(frame []byte) {
	r.pushAll(transport.Binary(frame))
}

// PushRaw pushes an uninterpreted text frame, for exercising the
// client's handling of undecodable traffic.
func (r *testRig) PushRaw(raw []byte) {
	r.pushAll(transport.Text(raw))
}

func (r *testRig) pushAll(message transport.Message) {
	r.mu.Lock()
	conns := make([]transport.Conn, 0, len(r.sessions))
	for conn := range r.sessions {
		conns = append(conns, conn)
	}
	r.mu.Unlock()
	for _, conn := range conns {
		conn.Send(message)
	}
}

// CloseSessions hangs up every connected session from the rig side.
func (r *testRig) CloseSessions() {
	r.mu.Lock()
	conns := make([]transport.Conn, 0, len(r.sessions))
	for conn := range r.sessions {
		conns = append(conns, conn)
	}
	r.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// SessionCount reports how many sessions are connected.
func (r *testRig) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// startWebSocketRig serves a testRig behind an httptest websocket
// endpoint and returns the rig with its ws:// URL.
func startWebSocketRig(t *testing.T) (*testRig, string) {
	t.Helper()
	rig := newTestRig(t)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, request *http.Request) {
		ws, err := upgrader.Upgrade(w, request, nil)
		if err != nil {
			t.Errorf("Upgrade() error: %v", err)
			return
		}
		go rig.serve(transport.NewWebSocketConn(ws, transport.WebSocketOptions{}))
	}))
	t.Cleanup(server.Close)
	return rig, "ws" + strings.TrimPrefix(server.URL, "http")
}

// waitForSessions polls until the rig sees count sessions, so tests
// can broadcast without racing the connection handshake.
func waitForSessions(t *testing.T, rig *testRig, count int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rig.SessionCount() == count {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("rig sessions = %d, want %d", rig.SessionCount(), count)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connectChannel dials the rig over websocket and tears the channel
// down with the test.
func connectChannel(t *testing.T, url string) *channel.Channel {
	t.Helper()
	ch := channel.New(channel.Config{
		Target: url,
		Dialer: &transport.WebSocketDialer{},
		Logger: discardLogger(),
	})
	if err := ch.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { ch.Disconnect() })
	return ch
}

// recordingListener forwards every event into a buffered channel.
type recordingListener struct {
	events chan channel.Event
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan channel.Event, 64)}
}

func (l *recordingListener) HandleEvent(event channel.Event) {
	l.events <- event
}

// waitForState polls the channel until it reaches want.
func waitForState(t *testing.T, ch *channel.Channel, want channel.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ch.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("channel state = %v, want %v", ch.State(), want)
}
