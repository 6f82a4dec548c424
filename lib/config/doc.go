// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Lightbox
// commands.
//
// Configuration is loaded from a single file specified by either the
// LIGHTBOX_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The configuration file supports named rig sections that override the
// base rig settings; [Config.ResolveRig] merges a named section over
// the base. A photographer with a studio rig on the LAN and a field
// rig behind a data channel keeps both in one file and picks one with
// --rig.
//
// Variable expansion is performed on path and target fields after
// loading: ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Rig, Rigs, Capture, Console
//   - [Default] -- returns a Config with workable local defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Lightbox packages.
package config
