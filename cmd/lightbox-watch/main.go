// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Lightbox-watch subscribes to a rig's broadcast stream and prints one
// NDJSON record per event to stdout: structured messages verbatim,
// binary frames summarized by size and BLAKE3 digest, undecodable
// frames flagged. Diagnostics go to stderr so the stdout stream stays
// clean for piping.
//
// With --output the same records are written to a capture file in the
// lib/capture format, optionally compressed, with a digest side-car
// for later verification. Watch runs until interrupted or the rig
// disconnects.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/lightbox-foundation/lightbox/channel"
	"github.com/lightbox-foundation/lightbox/lib/capture"
	"github.com/lightbox-foundation/lightbox/lib/config"
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
	var configPath string
	var rigName string
	var serverURL string
	var actionFilters []string
	var outputPath string
	var compression string
	var rawFrames bool
	var noDigest bool
	var verbose bool

	flagSet := pflag.NewFlagSet("lightbox-watch", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to lightbox.yaml (default: $LIGHTBOX_CONFIG, else built-in defaults)")
	flagSet.StringVar(&rigName, "rig", "", "named rig section from the config file")
	flagSet.StringVarP(&serverURL, "server", "s", "", "rig websocket URL (overrides config)")
	flagSet.StringArrayVar(&actionFilters, "action", nil, "only show messages with this action (repeatable)")
	flagSet.StringVarP(&outputPath, "output", "o", "", "record the session to this capture file")
	flagSet.StringVar(&compression, "compress", "", "capture compression: none, lz4, or zstd (default from config)")
	flagSet.BoolVar(&rawFrames, "raw-frames", false, "store binary frame bodies in the capture, not just digests")
	flagSet.BoolVar(&noDigest, "no-digest", false, "skip the digest side-car file")
	flagSet.BoolVar(&verbose, "verbose", false, "log frame diagnostics to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("lightbox-watch")
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
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	rig, err := cfg.ResolveRig(rigName)
	if err != nil {
		return err
	}
	if serverURL != "" {
		rig.Target = serverURL
		rig.Transport = config.TransportWebSocket
	}
	if compression == "" {
		compression = cfg.Capture.Compression
	}
	if !flagSet.Changed("raw-frames") {
		rawFrames = cfg.Capture.IncludeBinary
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	actions := make(map[string]bool, len(actionFilters))
	for _, action := range actionFilters {
		actions[action] = true
	}

	var sink *capture.Writer
	var sinkPath string
	if outputPath != "" {
		sinkPath, err = resolveCapturePath(cfg, outputPath, compression)
		if err != nil {
			return err
		}
		sink, err = capture.Create(sinkPath)
		if err != nil {
			return err
		}
		defer sink.Close()
		logger.Info("recording session", "path", sinkPath)
	}

	dialer, err := buildDialer(rig, logger)
	if err != nil {
		return err
	}
	ch := channel.New(channel.Config{
		Target:         rig.Target,
		Dialer:         dialer,
		DefaultTimeout: rig.CallTimeout.Std(),
		Logger:         logger,
	})

	watch := newWatcher()
	ch.AddListener(watch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, rig.ConnectTimeout.Std())
	defer cancel()
	if err := ch.Connect(connectCtx); err != nil {
		return err
	}

	// A signal closes the channel; the disconnect event then flows
	// through the normal event path and ends the loop below.
	go func() {
		<-ctx.Done()
		ch.Disconnect()
	}()

	stdout := json.NewEncoder(os.Stdout)

	connectInfo, _ := json.Marshal(map[string]string{"target": rig.Target})
	if err := emit(stdout, sink, capture.Record{Kind: capture.KindConnect, Data: connectInfo}); err != nil {
		return err
	}

	for event := range watch.events {
		record := recordFromEvent(event, rawFrames)
		if keepRecord(record, actions) {
			if err := emit(stdout, sink, record); err != nil {
				return err
			}
		}
		if event.Kind == channel.EventDisconnect {
			break
		}
	}

	if dropped := watch.dropped.Load(); dropped > 0 {
		logger.Warn("events dropped by slow output", "count", dropped)
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			return err
		}
		if cfg.Capture.Digests && !noDigest {
			if err := capture.WriteDigestFile(sinkPath, sink.Digest()); err != nil {
				return err
			}
		}
		logger.Info("capture written",
			"path", sinkPath,
			"records", sink.Records(),
			"bytes", sink.Bytes(),
		)
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Stream a Lightbox rig's broadcasts to stdout as NDJSON.

Every broadcast becomes one line: structured messages with their full
frame, binary frames as size plus BLAKE3 digest, undecodable frames as
parse failures. Lifecycle records mark the start and end of the
session.

With --output, the same records are written to a capture file. A
relative output path lands in the capture directory from the config; a
path with a directory component is used as-is. The codec extension
(.ndjson, .ndjson.lz4, .ndjson.zst) is appended from --compress unless
the path already carries one.

Usage:
  lightbox-watch [flags]

Examples:
  # Watch everything the rig broadcasts
  lightbox-watch

  # Watch only status updates
  lightbox-watch --action status_update

  # Record a session, zstd-compressed, with digest side-car
  lightbox-watch --output night-session --compress zstd

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// loadConfig loads the explicit --config path, the LIGHTBOX_CONFIG
// file, or the built-in defaults, in that order.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("LIGHTBOX_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func buildDialer(rig config.RigConfig, logger *slog.Logger) (transport.Dialer, error) {
	switch rig.Transport {
	case config.TransportWebSocket:
		return &transport.WebSocketDialer{
			HandshakeTimeout: rig.ConnectTimeout.Std(),
			Options: transport.WebSocketOptions{
				PingInterval: rig.KeepaliveInterval.Std(),
				Logger:       logger,
			},
		}, nil
	case config.TransportDataChannel:
		return nil, fmt.Errorf("the %s transport needs a site signaling service; this tool speaks websocket", rig.Transport)
	default:
		return nil, fmt.Errorf("unknown transport %q", rig.Transport)
	}
}

// resolveCapturePath turns --output into the file to create. Bare
// names land in the configured capture directory; paths with a
// directory component are taken as given. The codec extension is
// appended unless the path already names one.
func resolveCapturePath(cfg *config.Config, output, compression string) (string, error) {
	if filepath.Dir(output) == "." && !filepath.IsAbs(output) && cfg.Capture.Directory != "" {
		if err := cfg.EnsureCaptureDirectory(); err != nil {
			return "", err
		}
		output = filepath.Join(cfg.Capture.Directory, output)
	}
	if _, err := capture.CodecForPath(output); err == nil {
		// Fully-specified file name; its extension picks the codec.
		return output, nil
	}
	codec, err := capture.ParseCodec(compression)
	if err != nil {
		return "", err
	}
	return capture.FileName(output, codec), nil
}

// watcher buffers events from the channel's dispatch so slow stdout or
// disk writes never stall frame classification. Overflow drops events
// and counts them.
type watcher struct {
	events  chan channel.Event
	dropped atomic.Uint64
}

func newWatcher() *watcher {
	return &watcher{events: make(chan channel.Event, 1024)}
}

func (w *watcher) HandleEvent(event channel.Event) {
	// The disconnect event ends the stream and the loop waits for it,
	// so it alone may block; everything else drops under pressure.
	if event.Kind == channel.EventDisconnect {
		w.events <- event
		return
	}
	select {
	case w.events <- event:
	default:
		w.dropped.Add(1)
	}
}

// recordFromEvent translates one broadcast into a capture record.
// Binary bodies are included only when asked; their size and digest
// always are.
func recordFromEvent(event channel.Event, includeBinary bool) capture.Record {
	switch event.Kind {
	case channel.EventMessage:
		return capture.Record{
			Kind:      capture.KindMessage,
			Action:    event.Message.Action,
			RequestID: event.Message.RequestID,
			Data:      event.Message.Raw,
		}

	case channel.EventBinary:
		record := capture.Record{
			Kind:   capture.KindBinary,
			Size:   len(event.Binary),
			Digest: capture.FormatDigest(capture.FrameDigest(event.Binary)),
		}
		if includeBinary {
			record.Binary = event.Binary
		}
		return record

	case channel.EventInvalid:
		record := capture.Record{Kind: capture.KindInvalid, Error: event.Err.Error()}
		if parseErr, ok := channel.AsParseError(event.Err); ok {
			record.Size = len(parseErr.Raw)
			if includeBinary {
				record.Binary = parseErr.Raw
			}
		}
		return record

	case channel.EventDisconnect:
		record := capture.Record{Kind: capture.KindDisconnect}
		if event.Err != nil {
			record.Error = event.Err.Error()
		}
		return record
	}
	return capture.Record{Kind: event.Kind.String()}
}

// keepRecord applies --action filters. Lifecycle records always pass;
// binary and invalid frames have no action to match, so filters drop
// them.
func keepRecord(record capture.Record, actions map[string]bool) bool {
	if len(actions) == 0 {
		return true
	}
	switch record.Kind {
	case capture.KindConnect, capture.KindDisconnect:
		return true
	case capture.KindMessage:
		return actions[record.Action]
	default:
		return false
	}
}

// emit writes one record to stdout and, when recording, to the capture
// file. The stdout copy never carries binary bodies; the capture may.
func emit(stdout *json.Encoder, sink *capture.Writer, record capture.Record) error {
	if record.Time.IsZero() {
		record.Time = time.Now().UTC()
	}
	if sink != nil {
		if err := sink.Append(record); err != nil {
			return err
		}
	}
	record.Binary = nil
	return stdout.Encode(record)
}
