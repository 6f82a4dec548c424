// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Lightbox-console is an interactive terminal UI for driving a rig:
// a persistent connection, a scrollback of responses and broadcasts,
// and a prompt that sends commands as "action {json}".
//
// Where lightbox-call is one command per process, the console holds
// the connection open, so broadcasts stream in between commands and
// command latency excludes the dial. Prefix a command with "!" to
// send it fire-and-forget.
//
// Background logging (reconnect attempts, protocol complaints) is
// routed into the status bar instead of stderr, which would corrupt
// the alt-screen display. An optional file logger captures all
// records to a JSONL file for post-mortem debugging.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/lightbox-foundation/lightbox/channel"
	"github.com/lightbox-foundation/lightbox/lib/config"
	"github.com/lightbox-foundation/lightbox/lib/consoleui"
	"github.com/lightbox-foundation/lightbox/lib/version"
	"github.com/lightbox-foundation/lightbox/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lightbox-console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var rigName string
	var serverURL string
	var highlightMode string
	var logOutput string

	flagSet := pflag.NewFlagSet("lightbox-console", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to lightbox.yaml (default: $LIGHTBOX_CONFIG, else built-in defaults)")
	flagSet.StringVar(&rigName, "rig", "", "named rig section from the config file")
	flagSet.StringVarP(&serverURL, "server", "s", "", "rig websocket URL (overrides config)")
	flagSet.StringVar(&highlightMode, "highlight", "", "JSON highlighting: auto, always, or never (default from config)")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file (in addition to the status bar)")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("lightbox-console")
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
		printHelp(flagSet)
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
	if highlightMode == "" {
		highlightMode = cfg.Console.Highlight
	}
	switch highlightMode {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("--highlight must be auto, always, or never (got %q)", highlightMode)
	}

	statusHandler := consoleui.NewStatusLogHandler(slog.LevelWarn)
	var logger *slog.Logger
	if logOutput != "" {
		fileHandler, fileCloser, fileErr := openFileLogHandler(logOutput)
		if fileErr != nil {
			return fmt.Errorf("cannot open log file %s: %w", logOutput, fileErr)
		}
		defer fileCloser()
		logger = slog.New(fanoutHandler{statusHandler, fileHandler})
	} else {
		logger = slog.New(statusHandler)
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

	// The dial is interruptible; once the TUI owns the terminal,
	// ctrl+c arrives as a keystroke instead.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, rig.ConnectTimeout.Std())
	defer cancel()
	if err := ch.Connect(connectCtx); err != nil {
		return err
	}
	defer ch.Disconnect()

	// Unregistered before Disconnect (defers run in reverse), so the
	// read loop never delivers into a stream nobody drains.
	session := consoleui.NewChannelRig(ch)
	defer session.Close()

	model := consoleui.NewModel(session, consoleui.Options{
		HistoryLimit: cfg.Console.HistorySize,
		Highlight:    shouldHighlight(highlightMode),
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseAllMotion())

	statusHandler.SetProgram(program)

	_, err = program.Run()
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Interactive console for a Lightbox rig.

Commands are typed as "action" or "action {json payload}"; the
payload may be JSONC. Prefix with "!" to send fire-and-forget.
Responses and broadcasts interleave in the scrollback.

Keys:
  Enter        send the command
  Tab          complete the action from this session's history
  Up/Down      recall earlier commands
  Esc          focus the scrollback (j/k scroll, q quits, Esc returns)
  Ctrl+L       clear the scrollback
  Ctrl+C       quit

Usage:
  lightbox-console [flags]

Examples:
  # Connect to the configured rig
  lightbox-console

  # Connect to an explicit rig URL
  lightbox-console --server ws://lightbox-rig.local:9900/control

  # Keep a JSONL record of background log events
  lightbox-console --log-output console.log.jsonl

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

// shouldHighlight resolves the highlight mode against the terminal.
func shouldHighlight(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

// openFileLogHandler creates a slog.JSONHandler that writes to the
// given file path. The file is created or truncated.
func openFileLogHandler(path string) (slog.Handler, func(), error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return handler, func() { file.Close() }, nil
}

// fanoutHandler is a slog.Handler that sends each record to multiple
// underlying handlers. A record is enabled if any sub-handler is
// enabled for that level.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
