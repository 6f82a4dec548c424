// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightbox-foundation/lightbox/lib/clock"
	"github.com/lightbox-foundation/lightbox/lib/testutil"
	"github.com/lightbox-foundation/lightbox/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestChannel connects a channel over an in-memory pipe and returns
// it together with the rig-side conn. A nil clk uses the real clock.
func newTestChannel(t *testing.T, clk clock.Clock) (*Channel, transport.Conn) {
	t.Helper()
	dialer := transport.NewMemoryDialer()
	c := New(Config{
		Target: "rig",
		Dialer: dialer,
		Clock:  clk,
		Logger: discardLogger(),
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	rig, err := dialer.Accept(context.Background())
	if err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	t.Cleanup(func() {
		c.Disconnect()
		rig.Close()
	})
	return c, rig
}

type callResult struct {
	data json.RawMessage
	err  error
}

// startCall runs Call in a goroutine so the test goroutine can play
// the rig side.
func startCall(c *Channel, action string, payload any, options ...CallOption) <-chan callResult {
	results := make(chan callResult, 1)
	go func() {
		data, err := c.Call(context.Background(), action, payload, options...)
		results <- callResult{data, err}
	}()
	return results
}

// receiveRequest reads and decodes the next request on the rig side.
func receiveRequest(t *testing.T, rig transport.Conn) Request {
	t.Helper()
	frame, err := rig.Receive()
	if err != nil {
		t.Fatalf("rig Receive() error: %v", err)
	}
	if frame.Type != transport.TextMessage {
		t.Fatalf("rig received %v frame, want text", frame.Type)
	}
	var request Request
	if err := json.Unmarshal(frame.Data, &request); err != nil {
		t.Fatalf("rig decode request %q: %v", frame.Data, err)
	}
	return request
}

// sendFrame sends an envelope from the rig side.
func sendFrame(t *testing.T, rig transport.Conn, envelope map[string]any) {
	t.Helper()
	frame, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("rig encode envelope: %v", err)
	}
	if err := rig.Send(transport.Text(frame)); err != nil {
		t.Fatalf("rig Send() error: %v", err)
	}
}

// recordingListener forwards every event to a buffered channel the
// test drains with testutil.RequireReceive.
type recordingListener struct {
	events chan Event
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan Event, 16)}
}

func (l *recordingListener) HandleEvent(event Event) {
	l.events <- event
}

func waitForState(t *testing.T, c *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("channel state = %v, want %v", c.State(), want)
}

func TestConnectEstablishes(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	c := New(Config{Target: "rig", Dialer: dialer, Logger: discardLogger()})

	if got := c.State(); got != StateDisconnected {
		t.Errorf("initial state = %v, want %v", got, StateDisconnected)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Disconnect()
	if got := c.State(); got != StateConnected {
		t.Errorf("state after connect = %v, want %v", got, StateConnected)
	}
}

func TestConnectWhileConnectedIsNoOp(t *testing.T) {
	c, _ := newTestChannel(t, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("state = %v, want %v", got, StateConnected)
	}
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	dialFailure := errors.New("rig unreachable")
	dialer := transport.DialerFunc(func(ctx context.Context, target string) (transport.Conn, error) {
		return nil, dialFailure
	})
	c := New(Config{Target: "rig", Dialer: dialer, Logger: discardLogger()})

	err := c.Connect(context.Background())
	connectionErr, ok := AsConnectionError(err)
	if !ok {
		t.Fatalf("Connect() error = %v, want ConnectionError", err)
	}
	if connectionErr.Target != "rig" {
		t.Errorf("ConnectionError.Target = %q, want %q", connectionErr.Target, "rig")
	}
	if !errors.Is(err, dialFailure) {
		t.Errorf("ConnectionError should wrap the dial failure, got %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state after failed connect = %v, want %v", got, StateDisconnected)
	}
}

func TestConnectCoalescesConcurrentCallers(t *testing.T) {
	release := make(chan struct{})
	var dialCount atomic.Int32
	dialer := transport.DialerFunc(func(ctx context.Context, target string) (transport.Conn, error) {
		dialCount.Add(1)
		<-release
		client, _ := transport.Pipe()
		return client, nil
	})
	c := New(Config{Target: "rig", Dialer: dialer, Logger: discardLogger()})
	defer c.Disconnect()

	first := make(chan error, 1)
	go func() { first <- c.Connect(context.Background()) }()
	waitForState(t, c, StateConnecting)

	second := make(chan error, 1)
	go func() { second <- c.Connect(context.Background()) }()

	close(release)
	if err := testutil.RequireReceive(t, first, 5*time.Second, "first Connect should finish"); err != nil {
		t.Errorf("first Connect() error: %v", err)
	}
	if err := testutil.RequireReceive(t, second, 5*time.Second, "second Connect should finish"); err != nil {
		t.Errorf("second Connect() error: %v", err)
	}
	if got := dialCount.Load(); got != 1 {
		t.Errorf("dialer invoked %d times, want 1", got)
	}
}

func TestDisconnectAbortsDialInFlight(t *testing.T) {
	release := make(chan struct{})
	dialer := transport.DialerFunc(func(ctx context.Context, target string) (transport.Conn, error) {
		<-release
		client, _ := transport.Pipe()
		return client, nil
	})
	c := New(Config{Target: "rig", Dialer: dialer, Logger: discardLogger()})

	connected := make(chan error, 1)
	go func() { connected <- c.Connect(context.Background()) }()
	waitForState(t, c, StateConnecting)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	close(release)

	err := testutil.RequireReceive(t, connected, 5*time.Second, "aborted Connect should finish")
	if _, ok := AsConnectionError(err); !ok {
		t.Errorf("aborted Connect() error = %v, want ConnectionError", err)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("state = %v, want %v", got, StateClosed)
	}
}

func TestCallResolvesOnMatchingResponse(t *testing.T) {
	c, rig := newTestChannel(t, nil)

	results := startCall(c, "get_status", map[string]any{"detail": "full"})

	request := receiveRequest(t, rig)
	if request.Action != "get_status" {
		t.Errorf("request action = %q, want %q", request.Action, "get_status")
	}
	if !strings.HasPrefix(request.RequestID, "req_") {
		t.Errorf("request id = %q, want req_ prefix", request.RequestID)
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(request.Payload, &payload); err != nil {
		t.Fatalf("decode request payload: %v", err)
	}
	if payload.Detail != "full" {
		t.Errorf("payload detail = %q, want %q", payload.Detail, "full")
	}

	sendFrame(t, rig, map[string]any{
		"action":     "get_status",
		"success":    true,
		"data":       map[string]any{"battery": 87},
		"request_id": request.RequestID,
	})

	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should resolve")
	if result.err != nil {
		t.Fatalf("Call() error: %v", result.err)
	}
	var status struct {
		Battery int `json:"battery"`
	}
	if err := json.Unmarshal(result.data, &status); err != nil {
		t.Fatalf("decode response data: %v", err)
	}
	if status.Battery != 87 {
		t.Errorf("battery = %d, want 87", status.Battery)
	}
	if got := c.pending.size(); got != 0 {
		t.Errorf("pending commands after resolve = %d, want 0", got)
	}
}

func TestCallFailsOnRigError(t *testing.T) {
	c, rig := newTestChannel(t, nil)

	results := startCall(c, "set_config", map[string]any{"iso": 128000})
	request := receiveRequest(t, rig)

	sendFrame(t, rig, map[string]any{
		"action":     "set_config",
		"success":    false,
		"error":      "iso out of range",
		"request_id": request.RequestID,
	})

	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should fail")
	commandErr, ok := AsCommandError(result.err)
	if !ok {
		t.Fatalf("Call() error = %v, want CommandError", result.err)
	}
	if commandErr.Reason != "iso out of range" {
		t.Errorf("CommandError.Reason = %q, want %q", commandErr.Reason, "iso out of range")
	}
	if commandErr.RequestID != request.RequestID {
		t.Errorf("CommandError.RequestID = %q, want %q", commandErr.RequestID, request.RequestID)
	}
}

func TestCallTreatsMissingSuccessAsFailure(t *testing.T) {
	c, rig := newTestChannel(t, nil)

	results := startCall(c, "get_config", nil)
	request := receiveRequest(t, rig)

	sendFrame(t, rig, map[string]any{
		"action":     "get_config",
		"request_id": request.RequestID,
	})

	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should settle")
	if _, ok := AsCommandError(result.err); !ok {
		t.Errorf("Call() error = %v, want CommandError", result.err)
	}
}

func TestCallTimesOut(t *testing.T) {
	fake := clock.Fake(epoch)
	c, rig := newTestChannel(t, fake)

	results := startCall(c, "stream_start", nil, WithTimeout(50*time.Millisecond))
	request := receiveRequest(t, rig)

	fake.WaitForTimers(1)
	fake.Advance(50 * time.Millisecond)

	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should time out")
	timeoutErr, ok := AsTimeoutError(result.err)
	if !ok {
		t.Fatalf("Call() error = %v, want TimeoutError", result.err)
	}
	if timeoutErr.Timeout != 50*time.Millisecond {
		t.Errorf("TimeoutError.Timeout = %v, want %v", timeoutErr.Timeout, 50*time.Millisecond)
	}
	if timeoutErr.RequestID != request.RequestID {
		t.Errorf("TimeoutError.RequestID = %q, want %q", timeoutErr.RequestID, request.RequestID)
	}
	if got := c.pending.size(); got != 0 {
		t.Errorf("pending commands after timeout = %d, want 0", got)
	}
}

func TestLateResponseAfterTimeoutBroadcasts(t *testing.T) {
	fake := clock.Fake(epoch)
	c, rig := newTestChannel(t, fake)
	listener := newRecordingListener()
	c.AddListener(listener)

	results := startCall(c, "slow", nil, WithTimeout(50*time.Millisecond))
	request := receiveRequest(t, rig)

	fake.WaitForTimers(1)
	fake.Advance(50 * time.Millisecond)
	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should time out")
	if _, ok := AsTimeoutError(result.err); !ok {
		t.Fatalf("Call() error = %v, want TimeoutError", result.err)
	}

	sendFrame(t, rig, map[string]any{
		"action":     "slow",
		"success":    true,
		"request_id": request.RequestID,
	})

	event := testutil.RequireReceive(t, listener.events, 5*time.Second, "late response should broadcast")
	if event.Kind != EventMessage {
		t.Fatalf("event kind = %v, want %v", event.Kind, EventMessage)
	}
	if event.Message.RequestID != request.RequestID {
		t.Errorf("broadcast request id = %q, want %q", event.Message.RequestID, request.RequestID)
	}
}

func TestCallWhenNotConnected(t *testing.T) {
	c := New(Config{Target: "rig", Dialer: transport.NewMemoryDialer(), Logger: discardLogger()})

	_, err := c.Call(context.Background(), "ping", nil)
	sendErr, ok := AsSendError(err)
	if !ok {
		t.Fatalf("Call() error = %v, want SendError", err)
	}
	if !strings.Contains(sendErr.Error(), "disconnected") {
		t.Errorf("SendError = %q, want mention of disconnected state", sendErr.Error())
	}
	if got := c.pending.size(); got != 0 {
		t.Errorf("pending commands = %d, want 0", got)
	}
}

func TestCallAfterDisconnect(t *testing.T) {
	c, _ := newTestChannel(t, nil)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	_, err := c.Call(context.Background(), "ping", nil)
	if _, ok := AsSendError(err); !ok {
		t.Errorf("Call() error = %v, want SendError", err)
	}
}

// brokenConn delivers nothing and fails every send, while Receive
// blocks like a healthy idle connection.
type brokenConn struct {
	transport.Conn
	sendErr error
}

func (c *brokenConn) Send(transport.Message) error { return c.sendErr }

func TestCallSendFailure(t *testing.T) {
	wireFault := errors.New("wire fell out")
	dialer := transport.DialerFunc(func(ctx context.Context, target string) (transport.Conn, error) {
		client, _ := transport.Pipe()
		return &brokenConn{Conn: client, sendErr: wireFault}, nil
	})
	c := New(Config{Target: "rig", Dialer: dialer, Logger: discardLogger()})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Disconnect()

	_, err := c.Call(context.Background(), "ping", nil)
	if _, ok := AsSendError(err); !ok {
		t.Fatalf("Call() error = %v, want SendError", err)
	}
	if !errors.Is(err, wireFault) {
		t.Errorf("SendError should wrap the transport failure, got %v", err)
	}
	if got := c.pending.size(); got != 0 {
		t.Errorf("pending commands after failed send = %d, want 0", got)
	}
}

func TestNotifySendsWithoutRequestID(t *testing.T) {
	c, rig := newTestChannel(t, nil)

	if err := c.Notify("stream_stop", nil); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	request := receiveRequest(t, rig)
	if request.Action != "stream_stop" {
		t.Errorf("request action = %q, want %q", request.Action, "stream_stop")
	}
	if request.RequestID != "" {
		t.Errorf("request id = %q, want empty", request.RequestID)
	}
	if got, want := string(request.Payload), "{}"; got != want {
		t.Errorf("nil payload marshalled as %q, want %q", got, want)
	}
	if got := c.pending.size(); got != 0 {
		t.Errorf("pending commands after notify = %d, want 0", got)
	}
}

func TestDisconnectDrainsPending(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	listener := newRecordingListener()
	c.AddListener(listener)

	results := startCall(c, "stream_start", nil)
	receiveRequest(t, rig)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should settle on disconnect")
	disconnectErr, ok := AsDisconnectError(result.err)
	if !ok {
		t.Fatalf("Call() error = %v, want DisconnectError", result.err)
	}
	if disconnectErr.Cause != nil {
		t.Errorf("DisconnectError.Cause = %v, want nil for local disconnect", disconnectErr.Cause)
	}

	event := testutil.RequireReceive(t, listener.events, 5*time.Second, "listener should hear disconnect")
	if event.Kind != EventDisconnect {
		t.Fatalf("event kind = %v, want %v", event.Kind, EventDisconnect)
	}
	if event.Err != nil {
		t.Errorf("disconnect event error = %v, want nil", event.Err)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("state = %v, want %v", got, StateClosed)
	}
}

func TestPeerCloseDrainsPending(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	listener := newRecordingListener()
	c.AddListener(listener)

	results := startCall(c, "get_status", nil)
	receiveRequest(t, rig)

	rig.Close()

	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should settle on peer close")
	disconnectErr, ok := AsDisconnectError(result.err)
	if !ok {
		t.Fatalf("Call() error = %v, want DisconnectError", result.err)
	}
	if !errors.Is(disconnectErr.Cause, io.EOF) {
		t.Errorf("DisconnectError.Cause = %v, want io.EOF", disconnectErr.Cause)
	}

	event := testutil.RequireReceive(t, listener.events, 5*time.Second, "listener should hear disconnect")
	if event.Kind != EventDisconnect {
		t.Fatalf("event kind = %v, want %v", event.Kind, EventDisconnect)
	}
	if !errors.Is(event.Err, io.EOF) {
		t.Errorf("disconnect event error = %v, want io.EOF", event.Err)
	}
	waitForState(t, c, StateClosed)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c, _ := newTestChannel(t, nil)
	listener := newRecordingListener()
	c.AddListener(listener)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() error: %v", err)
	}

	testutil.RequireReceive(t, listener.events, 5*time.Second, "want one disconnect event")
	select {
	case event := <-listener.events:
		t.Errorf("second Disconnect broadcast %v, want nothing", event.Kind)
	default:
	}
}

func TestReconnectAfterClose(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	c := New(Config{Target: "rig", Dialer: dialer, Logger: discardLogger()})
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	firstRig, err := dialer.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	c.Disconnect()
	firstRig.Close()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("reconnect error: %v", err)
	}
	defer c.Disconnect()
	secondRig, err := dialer.Accept(ctx)
	if err != nil {
		t.Fatalf("second Accept() error: %v", err)
	}
	defer secondRig.Close()

	results := startCall(c, "ping", nil)
	request := receiveRequest(t, secondRig)
	sendFrame(t, secondRig, map[string]any{
		"action":     "ping",
		"success":    true,
		"request_id": request.RequestID,
	})
	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should work after reconnect")
	if result.err != nil {
		t.Errorf("Call() after reconnect error: %v", result.err)
	}
}

func TestMatchedResponseIsNotBroadcast(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	listener := newRecordingListener()
	c.AddListener(listener)

	results := startCall(c, "get_config", nil)
	request := receiveRequest(t, rig)
	sendFrame(t, rig, map[string]any{
		"action":     "get_config",
		"success":    true,
		"request_id": request.RequestID,
	})
	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should resolve")
	if result.err != nil {
		t.Fatalf("Call() error: %v", result.err)
	}

	// The next broadcast must be this push, not the consumed response.
	sendFrame(t, rig, map[string]any{"action": "battery_low"})
	event := testutil.RequireReceive(t, listener.events, 5*time.Second, "push should broadcast")
	if event.Kind != EventMessage {
		t.Fatalf("event kind = %v, want %v", event.Kind, EventMessage)
	}
	if event.Message.Action != "battery_low" {
		t.Errorf("broadcast action = %q, want %q (the response leaked to listeners)",
			event.Message.Action, "battery_low")
	}
}

func TestBinaryFrameBroadcastsWithoutTouchingPending(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	listener := newRecordingListener()
	c.AddListener(listener)

	results := startCall(c, "stream_start", nil)
	request := receiveRequest(t, rig)

	preview := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	if err := rig.Send(transport.Binary(preview)); err != nil {
		t.Fatalf("rig Send() error: %v", err)
	}

	event := testutil.RequireReceive(t, listener.events, 5*time.Second, "binary frame should broadcast")
	if event.Kind != EventBinary {
		t.Fatalf("event kind = %v, want %v", event.Kind, EventBinary)
	}
	if got, want := string(event.Binary), string(preview); got != want {
		t.Errorf("binary payload = %q, want %q", got, want)
	}
	if got := c.pending.size(); got != 1 {
		t.Errorf("pending commands = %d, want 1 (binary frame must not settle commands)", got)
	}

	sendFrame(t, rig, map[string]any{
		"action":     "stream_start",
		"success":    true,
		"request_id": request.RequestID,
	})
	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should still resolve")
	if result.err != nil {
		t.Errorf("Call() error: %v", result.err)
	}
}

func TestInvalidFrameBroadcastsParseError(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	listener := newRecordingListener()
	c.AddListener(listener)

	if err := rig.Send(transport.Text([]byte("not json"))); err != nil {
		t.Fatalf("rig Send() error: %v", err)
	}

	event := testutil.RequireReceive(t, listener.events, 5*time.Second, "invalid frame should broadcast")
	if event.Kind != EventInvalid {
		t.Fatalf("event kind = %v, want %v", event.Kind, EventInvalid)
	}
	parseErr, ok := AsParseError(event.Err)
	if !ok {
		t.Fatalf("event error = %v, want ParseError", event.Err)
	}
	if got, want := string(parseErr.Raw), "not json"; got != want {
		t.Errorf("ParseError.Raw = %q, want %q", got, want)
	}
}

// namedListener reports its own name on a shared channel, for ordering
// assertions across multiple listeners.
type namedListener struct {
	name  string
	order chan string
}

func (l *namedListener) HandleEvent(event Event) {
	l.order <- l.name
}

func TestBroadcastFollowsRegistrationOrder(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	order := make(chan string, 4)
	c.AddListener(&namedListener{name: "first", order: order})
	c.AddListener(&namedListener{name: "second", order: order})

	sendFrame(t, rig, map[string]any{"action": "battery_low"})

	if got := testutil.RequireReceive(t, order, 5*time.Second, "first listener"); got != "first" {
		t.Errorf("first delivery went to %q, want %q", got, "first")
	}
	if got := testutil.RequireReceive(t, order, 5*time.Second, "second listener"); got != "second" {
		t.Errorf("second delivery went to %q, want %q", got, "second")
	}
}

func TestAddListenerIsIdempotent(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	listener := newRecordingListener()
	c.AddListener(listener)
	c.AddListener(listener)

	sendFrame(t, rig, map[string]any{"action": "battery_low"})

	testutil.RequireReceive(t, listener.events, 5*time.Second, "want one delivery")
	sendFrame(t, rig, map[string]any{"action": "storage_low"})
	event := testutil.RequireReceive(t, listener.events, 5*time.Second, "want next event")
	if event.Message.Action != "storage_low" {
		t.Errorf("second event action = %q, want %q (duplicate registration delivered twice)",
			event.Message.Action, "storage_low")
	}
}

func TestRemoveListenerStopsDelivery(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	removed := newRecordingListener()
	kept := newRecordingListener()
	c.AddListener(removed)
	c.AddListener(kept)
	c.RemoveListener(removed)

	sendFrame(t, rig, map[string]any{"action": "battery_low"})

	testutil.RequireReceive(t, kept.events, 5*time.Second, "kept listener should hear the event")
	select {
	case event := <-removed.events:
		t.Errorf("removed listener heard %v, want nothing", event.Kind)
	default:
	}
}

type panickingListener struct{}

func (*panickingListener) HandleEvent(Event) { panic("listener bug") }

func TestPanickingListenerDoesNotStopDispatch(t *testing.T) {
	c, rig := newTestChannel(t, nil)
	c.AddListener(&panickingListener{})
	survivor := newRecordingListener()
	c.AddListener(survivor)

	sendFrame(t, rig, map[string]any{"action": "battery_low"})

	event := testutil.RequireReceive(t, survivor.events, 5*time.Second, "later listener should still hear the event")
	if event.Kind != EventMessage {
		t.Errorf("event kind = %v, want %v", event.Kind, EventMessage)
	}
}

func TestCallContextCancelAbandonsWait(t *testing.T) {
	c, rig := newTestChannel(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan callResult, 1)
	go func() {
		data, err := c.Call(ctx, "slow", nil)
		results <- callResult{data, err}
	}()
	request := receiveRequest(t, rig)

	cancel()
	result := testutil.RequireReceive(t, results, 5*time.Second, "Call should return on cancel")
	if !errors.Is(result.err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", result.err)
	}

	// The command itself stays pending; the response still matches
	// the live entry and settles it rather than broadcasting.
	if got := c.pending.size(); got != 1 {
		t.Fatalf("pending commands after cancel = %d, want 1", got)
	}
	sendFrame(t, rig, map[string]any{
		"action":     "slow",
		"success":    true,
		"request_id": request.RequestID,
	})
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && c.pending.size() != 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if got := c.pending.size(); got != 0 {
		t.Errorf("pending commands after late response = %d, want 0", got)
	}
}
