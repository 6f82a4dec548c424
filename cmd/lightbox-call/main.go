// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Lightbox-call sends one command to a rig and prints the response.
//
// The action is positional; the optional payload argument is inline
// JSON, a @file reference, or "-" for stdin. Payload files may be
// JSONC: comments and trailing commas are stripped before sending.
// Responses print to stdout as indented JSON, syntax-highlighted when
// stdout is a terminal.
//
// The exit status distinguishes the ways a command can fail so scripts
// can react to a rig-reported error differently from a dead network.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"golang.org/x/term"

	"github.com/lightbox-foundation/lightbox/channel"
	"github.com/lightbox-foundation/lightbox/lib/config"
	"github.com/lightbox-foundation/lightbox/lib/version"
	"github.com/lightbox-foundation/lightbox/transport"
)

func main() {
	err := run()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "lightbox-call: %v\n", err)
	os.Exit(exitCode(err))
}

// exitCode maps the channel's error taxonomy to distinct exit codes.
func exitCode(err error) int {
	if _, ok := channel.AsCommandError(err); ok {
		return 2
	}
	if _, ok := channel.AsTimeoutError(err); ok {
		return 3
	}
	if _, ok := channel.AsConnectionError(err); ok {
		return 4
	}
	if _, ok := channel.AsSendError(err); ok {
		return 5
	}
	if _, ok := channel.AsDisconnectError(err); ok {
		return 6
	}
	return 1
}

func run() error {
	var configPath string
	var rigName string
	var serverURL string
	var timeoutFlag time.Duration
	var noResponse bool
	var highlightMode string
	var verbose bool

	flagSet := pflag.NewFlagSet("lightbox-call", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to lightbox.yaml (default: $LIGHTBOX_CONFIG, else built-in defaults)")
	flagSet.StringVar(&rigName, "rig", "", "named rig section from the config file")
	flagSet.StringVarP(&serverURL, "server", "s", "", "rig websocket URL (overrides config)")
	flagSet.DurationVarP(&timeoutFlag, "timeout", "t", 0, "response deadline (overrides config)")
	flagSet.BoolVar(&noResponse, "no-response", false, "fire and forget: send without a request id and exit")
	flagSet.StringVar(&highlightMode, "highlight", "", "JSON highlighting: auto, always, or never (default from config)")
	flagSet.BoolVar(&verbose, "verbose", false, "log connection details to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("lightbox-call")
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

	args := flagSet.Args()
	if len(args) < 1 || len(args) > 2 {
		printHelp(flagSet)
		return fmt.Errorf("expected <action> [payload]")
	}
	action := args[0]
	var payloadArgument string
	if len(args) == 2 {
		payloadArgument = args[1]
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
	if timeoutFlag > 0 {
		rig.CallTimeout = config.Duration(timeoutFlag)
	}
	if highlightMode == "" {
		highlightMode = cfg.Console.Highlight
	}
	switch highlightMode {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("--highlight must be auto, always, or never (got %q)", highlightMode)
	}

	payload, err := loadPayload(payloadArgument)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, rig.ConnectTimeout.Std())
	defer cancel()
	if err := ch.Connect(connectCtx); err != nil {
		return err
	}
	defer ch.Disconnect()

	if noResponse {
		return ch.Notify(action, payload)
	}

	data, err := ch.Call(ctx, action, payload)
	if err != nil {
		// A rig-reported failure may carry details worth showing.
		if commandErr, ok := channel.AsCommandError(err); ok && len(commandErr.Data) > 0 {
			printJSON(os.Stdout, commandErr.Data, shouldHighlight(highlightMode))
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	printJSON(os.Stdout, data, shouldHighlight(highlightMode))
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Send one command to a Lightbox rig and print the response.

The payload is inline JSON, a @file reference (JSONC accepted:
comments and trailing commas are stripped), or "-" to read stdin.
Commands without a payload send an empty object.

Usage:
  lightbox-call [flags] <action> [payload]

Examples:
  # Liveness check against the configured rig
  lightbox-call ping

  # Inline payload
  lightbox-call set_config '{"key": "iso", "value": 800}'

  # Payload from a JSONC file, generous deadline
  lightbox-call --timeout 30s capture @night-shot.jsonc

  # Fire and forget: no request id, no response
  lightbox-call --no-response stream_stop

Exit status:
  0  success
  1  local failure (config, payload, usage)
  2  rig answered success=false
  3  timed out waiting for the response
  4  could not connect
  5  send failed
  6  connection lost while waiting

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

// loadPayload turns the payload argument into JSON bytes: inline JSON,
// @path, or "-" for stdin. Files and stdin may be JSONC.
func loadPayload(argument string) (json.RawMessage, error) {
	if argument == "" {
		return nil, nil
	}
	var data []byte
	switch {
	case argument == "-":
		stdin, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		data = stdin
	case strings.HasPrefix(argument, "@"):
		content, err := os.ReadFile(argument[1:])
		if err != nil {
			return nil, fmt.Errorf("reading payload file: %w", err)
		}
		data = content
	default:
		data = []byte(argument)
	}

	stripped := jsonc.ToJSON(data)
	if !json.Valid(stripped) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(stripped), nil
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

// highlightFormatter picks the chroma formatter matching the
// terminal's color capability.
func highlightFormatter() string {
	switch termenv.ColorProfile() {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal16"
	default:
		return "noop"
	}
}

// printJSON pretty-prints data, syntax-highlighted when asked and
// possible. Anything that does not indent as JSON prints verbatim.
func printJSON(w io.Writer, data []byte, highlight bool) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Fprintln(w, string(data))
		return
	}
	if highlight {
		if err := quick.Highlight(w, pretty.String()+"\n", "json", highlightFormatter(), "monokai"); err == nil {
			return
		}
	}
	fmt.Fprintln(w, pretty.String())
}
