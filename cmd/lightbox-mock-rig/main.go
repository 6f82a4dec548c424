// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Lightbox-mock-rig is a stand-in capture rig for demos and
// integration work: it speaks the command-channel wire protocol over a
// websocket endpoint so the CLIs have something to talk to without
// hardware. It is a protocol exerciser, not a camera model.
//
// The rig implements these actions:
//   - ping: liveness check, returns the rig's clock
//   - echo: returns the request payload unchanged
//   - get_status: uptime, session counts, streaming state
//   - set_config / get_config: in-memory key/value settings
//   - stream_start / stream_stop: periodic status_update broadcasts,
//     optionally with binary sensor frames
//   - slow: delays its response, for exercising client timeouts
//   - fail: always responds success=false
//
// Commands that carry no request_id get no response, matching the
// fire-and-forget side of the protocol. Unknown actions fail.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/lightbox-foundation/lightbox/lib/process"
	"github.com/lightbox-foundation/lightbox/lib/version"
	"github.com/lightbox-foundation/lightbox/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var listenAddress string
	var channelPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("lightbox-mock-rig", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddress, "listen", "127.0.0.1:8765", "address to listen on")
	flagSet.StringVar(&channelPath, "path", "/channel", "HTTP path that accepts websocket upgrades")
	flagSet.BoolVar(&verbose, "verbose", false, "log every frame at debug level")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("lightbox-mock-rig")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rig := newRig(logger)

	mux := http.NewServeMux()
	mux.HandleFunc(channelPath, rig.handleUpgrade)
	server := &http.Server{Addr: listenAddress, Handler: mux}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe()
	}()

	logger.Info("mock rig listening", "address", listenAddress, "path", channelPath)

	select {
	case err := <-serverDone:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	rig.shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Mock capture rig speaking the Lightbox command-channel protocol.

Serves a websocket endpoint that answers commands the way a real rig
would: correlated responses for commands carrying a request_id, silence
for fire-and-forget commands, and status_update broadcasts (plus
optional binary sensor frames) while streaming is on.

Built-in actions: ping, echo, get_status, set_config, get_config,
stream_start, stream_stop, slow, fail.

Usage:
  lightbox-mock-rig [flags]

Examples:
  # Serve on the default address the CLIs expect
  lightbox-mock-rig

  # Serve elsewhere
  lightbox-mock-rig --listen 0.0.0.0:9000 --path /rig

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// upgrader accepts any origin: the mock rig is a local test fixture,
// not something exposed to browsers on the open internet.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

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

// rig is the shared state behind every operator session.
type rig struct {
	logger  *slog.Logger
	started time.Time

	commandsHandled atomic.Uint64
	framesPushed    atomic.Uint64

	mu       sync.Mutex
	config   map[string]json.RawMessage
	sessions map[*session]struct{}
	stream   *streamer
}

func newRig(logger *slog.Logger) *rig {
	return &rig{
		logger:   logger,
		started:  time.Now(),
		config:   make(map[string]json.RawMessage),
		sessions: make(map[*session]struct{}),
	}
}

func (r *rig) handleUpgrade(w http.ResponseWriter, request *http.Request) {
	ws, err := upgrader.Upgrade(w, request, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "remote", request.RemoteAddr, "error", err)
		return
	}
	operator := &session{
		rig:    r,
		conn:   transport.NewWebSocketConn(ws, transport.WebSocketOptions{Logger: r.logger}),
		logger: r.logger.With("remote", request.RemoteAddr),
	}

	r.mu.Lock()
	r.sessions[operator] = struct{}{}
	count := len(r.sessions)
	r.mu.Unlock()

	operator.logger.Info("operator connected", "sessions", count)
	go operator.serve()
}

func (r *rig) dropSession(operator *session) {
	r.mu.Lock()
	delete(r.sessions, operator)
	count := len(r.sessions)
	r.mu.Unlock()
	operator.logger.Info("operator disconnected", "sessions", count)
}

// shutdown stops streaming and closes every operator session.
func (r *rig) shutdown() {
	r.stopStream()

	r.mu.Lock()
	open := make([]*session, 0, len(r.sessions))
	for operator := range r.sessions {
		open = append(open, operator)
	}
	r.mu.Unlock()

	for _, operator := range open {
		operator.conn.Close()
	}
}

type rigStatus struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Sessions        int     `json:"sessions"`
	CommandsHandled uint64  `json:"commands_handled"`
	FramesPushed    uint64  `json:"frames_pushed"`
	Streaming       bool    `json:"streaming"`
	ConfigKeys      int     `json:"config_keys"`
}

func (r *rig) status() rigStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rigStatus{
		UptimeSeconds:   time.Since(r.started).Seconds(),
		Sessions:        len(r.sessions),
		CommandsHandled: r.commandsHandled.Load(),
		FramesPushed:    r.framesPushed.Load(),
		Streaming:       r.stream != nil,
		ConfigKeys:      len(r.config),
	}
}

func (r *rig) setConfig(key string, value json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config[key] = value
}

func (r *rig) getConfig(key string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.config[key]
	return value, ok
}

func (r *rig) configSnapshot() map[string]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[string]json.RawMessage, len(r.config))
	for key, value := range r.config {
		snapshot[key] = value
	}
	return snapshot
}

// streamer is one active streaming run. Replaced wholesale by a new
// stream_start, so a stale goroutine can detect it has been superseded.
type streamer struct {
	interval time.Duration
	binary   bool
	stop     chan struct{}
}

func (r *rig) startStream(interval time.Duration, binaryFrames bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopStreamLocked()
	active := &streamer{interval: interval, binary: binaryFrames, stop: make(chan struct{})}
	r.stream = active
	go r.runStream(active)
	r.logger.Info("streaming started", "interval", interval, "binary", binaryFrames)
}

func (r *rig) stopStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopStreamLocked()
}

func (r *rig) stopStreamLocked() {
	if r.stream == nil {
		return
	}
	close(r.stream.stop)
	r.stream = nil
	r.logger.Info("streaming stopped")
}

func (r *rig) runStream(active *streamer) {
	ticker := time.NewTicker(active.interval)
	defer ticker.Stop()

	var sequence uint64
	for {
		select {
		case <-active.stop:
			return
		case <-ticker.C:
		}
		sequence++
		if !r.pushStreamFrame(active, sequence) {
			return
		}
	}
}

// pushStreamFrame broadcasts one status_update (and optionally one
// binary sensor frame) to every session. Returns false when this
// streamer has been stopped or superseded, so no push can land after
// stream_stop has been acknowledged.
func (r *rig) pushStreamFrame(active *streamer, sequence uint64) bool {
	r.mu.Lock()
	if r.stream != active {
		r.mu.Unlock()
		return false
	}
	receivers := make([]*session, 0, len(r.sessions))
	for operator := range r.sessions {
		receivers = append(receivers, operator)
	}
	r.mu.Unlock()

	frame, err := json.Marshal(responseFrame{
		Action:  "status_update",
		Success: true,
		Data: map[string]any{
			"sequence":       sequence,
			"uptime_seconds": time.Since(r.started).Seconds(),
		},
	})
	if err != nil {
		r.logger.Error("encode status_update", "error", err)
		return true
	}

	for _, operator := range receivers {
		operator.push(transport.Text(frame))
		if active.binary {
			operator.push(transport.Binary(sensorFrame(sequence)))
		}
	}
	r.framesPushed.Add(1)
	return true
}

// sensorFrameSize is the fixed length of the fake binary sensor block
// pushed alongside status updates when binary streaming is on.
const sensorFrameSize = 256

var sensorMagic = [4]byte{'L', 'B', 'X', 'B'}

// sensorFrame builds one fake sensor readout: four magic bytes, the
// big-endian sequence number, and a deterministic fill derived from it.
func sensorFrame(sequence uint64) []byte {
	frame := make([]byte, sensorFrameSize)
	copy(frame, sensorMagic[:])
	binary.BigEndian.PutUint64(frame[4:], sequence)
	for i := 12; i < len(frame); i++ {
		frame[i] = byte(sequence) + byte(i)
	}
	return frame
}

// session is one connected operator.
type session struct {
	rig    *rig
	conn   transport.Conn
	logger *slog.Logger
}

// serve reads command frames until the operator goes away. Commands on
// one connection are handled in order; slow deliberately stalls the
// whole session, which is exactly what timeout tests want to provoke.
func (s *session) serve() {
	defer s.rig.dropSession(s)
	defer s.conn.Close()

	for {
		message, err := s.conn.Receive()
		if err != nil {
			if !transport.IsExpectedCloseError(err) {
				s.logger.Warn("session read failed", "error", err)
			}
			return
		}
		if message.Type == transport.BinaryMessage {
			s.logger.Debug("ignoring binary frame from operator", "bytes", len(message.Data))
			continue
		}

		var command commandFrame
		if err := json.Unmarshal(message.Data, &command); err != nil {
			s.logger.Warn("undecodable command frame", "error", err)
			continue
		}
		s.logger.Debug("command", "action", command.Action, "request_id", command.RequestID)
		s.handle(command)
	}
}

func (s *session) handle(command commandFrame) {
	s.rig.commandsHandled.Add(1)

	switch command.Action {
	case "ping":
		s.respond(command, map[string]any{
			"pong": true,
			"time": time.Now().UTC().Format(time.RFC3339Nano),
		})

	case "echo":
		s.respond(command, command.Payload)

	case "get_status":
		s.respond(command, s.rig.status())

	case "set_config":
		var params struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(command.Payload, &params); err != nil || params.Key == "" {
			s.fail(command, "set_config wants a payload of {key, value}")
			return
		}
		s.rig.setConfig(params.Key, params.Value)
		s.respond(command, map[string]any{"stored": params.Key})

	case "get_config":
		var params struct {
			Key string `json:"key"`
		}
		if len(command.Payload) > 0 {
			if err := json.Unmarshal(command.Payload, &params); err != nil {
				s.fail(command, "get_config wants a payload of {key} or an empty payload")
				return
			}
		}
		if params.Key == "" {
			s.respond(command, s.rig.configSnapshot())
			return
		}
		value, ok := s.rig.getConfig(params.Key)
		if !ok {
			s.fail(command, fmt.Sprintf("no config value for %q", params.Key))
			return
		}
		s.respond(command, map[string]any{"key": params.Key, "value": value})

	case "stream_start":
		var params struct {
			IntervalMillis int  `json:"interval_ms"`
			Binary         bool `json:"binary"`
		}
		if len(command.Payload) > 0 {
			if err := json.Unmarshal(command.Payload, &params); err != nil {
				s.fail(command, "stream_start wants a payload of {interval_ms, binary}")
				return
			}
		}
		interval := time.Duration(params.IntervalMillis) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}
		if interval < 10*time.Millisecond {
			interval = 10 * time.Millisecond
		}
		s.rig.startStream(interval, params.Binary)
		s.respond(command, map[string]any{
			"streaming":   true,
			"interval_ms": interval.Milliseconds(),
			"binary":      params.Binary,
		})

	case "stream_stop":
		s.rig.stopStream()
		s.respond(command, map[string]any{"streaming": false})

	case "slow":
		var params struct {
			DelayMillis int `json:"delay_ms"`
		}
		if len(command.Payload) > 0 {
			if err := json.Unmarshal(command.Payload, &params); err != nil {
				s.fail(command, "slow wants a payload of {delay_ms}")
				return
			}
		}
		delay := time.Duration(params.DelayMillis) * time.Millisecond
		if delay <= 0 {
			delay = 30 * time.Second
		}
		time.Sleep(delay)
		s.respond(command, map[string]any{"delayed_ms": delay.Milliseconds()})

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
		s.fail(command, params.Message)

	default:
		s.fail(command, fmt.Sprintf("unknown action %q", command.Action))
	}
}

// respond sends a success response, or nothing for a fire-and-forget
// command.
func (s *session) respond(command commandFrame, data any) {
	if command.RequestID == "" {
		return
	}
	s.send(responseFrame{
		Action:    command.Action,
		Success:   true,
		Data:      data,
		RequestID: command.RequestID,
	})
}

// fail sends a success=false response carrying message. Failures of
// fire-and-forget commands are only logged.
func (s *session) fail(command commandFrame, message string) {
	if command.RequestID == "" {
		s.logger.Debug("fire-and-forget command failed", "action", command.Action, "error", message)
		return
	}
	s.send(responseFrame{
		Action:    command.Action,
		Error:     message,
		RequestID: command.RequestID,
	})
}

func (s *session) send(frame responseFrame) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("encode response", "action", frame.Action, "error", err)
		return
	}
	s.push(transport.Text(encoded))
}

// push writes one frame to the operator. Send is already serialized by
// the transport, so broadcasts and responses may interleave freely. A
// failed push means the session is dying; the read loop will notice.
func (s *session) push(message transport.Message) {
	if err := s.conn.Send(message); err != nil {
		s.logger.Debug("push failed", "error", err)
	}
}
