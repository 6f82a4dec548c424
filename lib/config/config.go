// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names for RigConfig.Transport.
const (
	// TransportWebSocket connects to a ws:// or wss:// URL.
	TransportWebSocket = "websocket"

	// TransportDataChannel connects over a WebRTC data channel to a
	// named peer, with SDP exchanged through a signaler.
	TransportDataChannel = "datachannel"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "10s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for Lightbox commands.
type Config struct {
	// Rig is the base rig connection.
	Rig RigConfig `yaml:"rig"`

	// Rigs holds named rig sections. ResolveRig merges a named
	// section over the base Rig settings.
	Rigs map[string]RigOverrides `yaml:"rigs,omitempty"`

	// Capture configures session recording.
	Capture CaptureConfig `yaml:"capture"`

	// Console configures the interactive console.
	Console ConsoleConfig `yaml:"console"`
}

// RigConfig describes how to reach one rig.
type RigConfig struct {
	// Target is the rig's address: a ws:// or wss:// URL for the
	// websocket transport, a peer name for the data channel
	// transport.
	Target string `yaml:"target"`

	// Transport selects the transport: "websocket" or "datachannel".
	Transport string `yaml:"transport"`

	// Name identifies this side to a data channel signaler. Unused by
	// the websocket transport.
	Name string `yaml:"name"`

	// ConnectTimeout bounds the connection attempt.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// CallTimeout is the default response deadline per command.
	CallTimeout Duration `yaml:"call_timeout"`

	// KeepaliveInterval is the websocket ping period. Zero disables
	// keepalive.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`
}

// RigOverrides is a named rig section. Zero-valued fields inherit from
// the base rig.
type RigOverrides struct {
	Target            string   `yaml:"target,omitempty"`
	Transport         string   `yaml:"transport,omitempty"`
	Name              string   `yaml:"name,omitempty"`
	ConnectTimeout    Duration `yaml:"connect_timeout,omitempty"`
	CallTimeout       Duration `yaml:"call_timeout,omitempty"`
	KeepaliveInterval Duration `yaml:"keepalive_interval,omitempty"`
}

// CaptureConfig configures session recording.
type CaptureConfig struct {
	// Directory is where capture files are written.
	Directory string `yaml:"directory"`

	// Compression selects the capture codec: "none", "lz4", or
	// "zstd".
	Compression string `yaml:"compression"`

	// IncludeBinary records binary frames alongside structured
	// messages. Disabling it keeps captures small when the rig
	// streams previews.
	IncludeBinary bool `yaml:"include_binary"`

	// Digests writes a content digest next to each capture file.
	Digests bool `yaml:"digests"`
}

// ConsoleConfig configures the interactive console.
type ConsoleConfig struct {
	// Highlight controls JSON syntax highlighting: "auto" (when
	// stdout is a terminal), "always", or "never".
	Highlight string `yaml:"highlight"`

	// HistorySize is how many transcript entries the console keeps.
	HistorySize int `yaml:"history_size"`
}

// Default returns the default configuration: a websocket rig on the
// local network, zstd-compressed captures under the home directory,
// and terminal-detected highlighting. These defaults are a base for
// the config file to override, not a substitute for one.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Rig: RigConfig{
			Target:            "ws://127.0.0.1:8765/channel",
			Transport:         TransportWebSocket,
			Name:              "operator",
			ConnectTimeout:    Duration(10 * time.Second),
			CallTimeout:       Duration(10 * time.Second),
			KeepaliveInterval: Duration(30 * time.Second),
		},
		Capture: CaptureConfig{
			Directory:     filepath.Join(homeDir, "lightbox", "captures"),
			Compression:   "zstd",
			IncludeBinary: true,
			Digests:       true,
		},
		Console: ConsoleConfig{
			Highlight:   "auto",
			HistorySize: 500,
		},
	}
}

// Load loads configuration from the file named by the LIGHTBOX_CONFIG
// environment variable.
//
// This is the only way to load configuration without an explicit path.
// If LIGHTBOX_CONFIG is not set, this fails; there is no fallback.
func Load() (*Config, error) {
	configPath := os.Getenv("LIGHTBOX_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LIGHTBOX_CONFIG environment variable not set; " +
			"set it to the path of your lightbox.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; the only expansion performed is
// ${HOME} and similar patterns in path and target fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// ResolveRig returns the rig settings to use. The empty name returns
// the base rig; otherwise the named section from Rigs is merged over
// the base, and an unknown name is an error.
func (c *Config) ResolveRig(name string) (RigConfig, error) {
	rig := c.Rig
	if name == "" {
		return rig, nil
	}

	overrides, ok := c.Rigs[name]
	if !ok {
		known := make([]string, 0, len(c.Rigs))
		for rigName := range c.Rigs {
			known = append(known, rigName)
		}
		return RigConfig{}, fmt.Errorf("unknown rig %q; configured rigs: %v", name, known)
	}

	if overrides.Target != "" {
		rig.Target = overrides.Target
	}
	if overrides.Transport != "" {
		rig.Transport = overrides.Transport
	}
	if overrides.Name != "" {
		rig.Name = overrides.Name
	}
	if overrides.ConnectTimeout != 0 {
		rig.ConnectTimeout = overrides.ConnectTimeout
	}
	if overrides.CallTimeout != 0 {
		rig.CallTimeout = overrides.CallTimeout
	}
	if overrides.KeepaliveInterval != 0 {
		rig.KeepaliveInterval = overrides.KeepaliveInterval
	}
	return rig, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// and target fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Rig.Target = expandVars(c.Rig.Target, vars)
	c.Capture.Directory = expandVars(c.Capture.Directory, vars)
	for name, overrides := range c.Rigs {
		overrides.Target = expandVars(overrides.Target, vars)
		c.Rigs[name] = overrides
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them
// at once.
func (c *Config) Validate() error {
	var errs []error

	if err := validateRig("rig", c.Rig); err != nil {
		errs = append(errs, err)
	}
	for name := range c.Rigs {
		merged, err := c.ResolveRig(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := validateRig(fmt.Sprintf("rigs.%s", name), merged); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Capture.Compression {
	case "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("capture.compression must be one of: none, lz4, zstd (got %q)", c.Capture.Compression))
	}
	if c.Capture.Directory == "" {
		errs = append(errs, fmt.Errorf("capture.directory is required"))
	}

	switch c.Console.Highlight {
	case "auto", "always", "never":
	default:
		errs = append(errs, fmt.Errorf("console.highlight must be one of: auto, always, never (got %q)", c.Console.Highlight))
	}
	if c.Console.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("console.history_size must be positive (got %d)", c.Console.HistorySize))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateRig(section string, rig RigConfig) error {
	var errs []error

	if rig.Target == "" {
		errs = append(errs, fmt.Errorf("%s.target is required", section))
	}
	switch rig.Transport {
	case TransportWebSocket:
		if rig.Target != "" {
			parsed, err := url.Parse(rig.Target)
			if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
				errs = append(errs, fmt.Errorf("%s.target must be a ws:// or wss:// URL for the websocket transport (got %q)", section, rig.Target))
			}
		}
	case TransportDataChannel:
		if rig.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required for the datachannel transport", section))
		}
	default:
		errs = append(errs, fmt.Errorf("%s.transport must be %q or %q (got %q)", section, TransportWebSocket, TransportDataChannel, rig.Transport))
	}
	if rig.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.connect_timeout must be positive", section))
	}
	if rig.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.call_timeout must be positive", section))
	}
	if rig.KeepaliveInterval < 0 {
		errs = append(errs, fmt.Errorf("%s.keepalive_interval must not be negative", section))
	}

	return errors.Join(errs...)
}

// EnsureCaptureDirectory creates the capture directory if it does not
// exist.
func (c *Config) EnsureCaptureDirectory() error {
	if c.Capture.Directory == "" {
		return nil
	}
	if err := os.MkdirAll(c.Capture.Directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Capture.Directory, err)
	}
	return nil
}
