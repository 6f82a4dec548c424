// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all key bindings for the console TUI. Several keys
// are context-sensitive: the model routes by focus region first, so
// up/down mean prompt history at the prompt and line scrolling in
// the scrollback.
type KeyMap struct {
	// Scrollback navigation (scrollback focus).
	Up       key.Binding
	Down     key.Binding
	HalfUp   key.Binding
	HalfDown key.Binding
	Top      key.Binding
	Bottom   key.Binding

	// Page scrolling, available from either focus.
	PageUp   key.Binding
	PageDown key.Binding

	// Focus switching.
	FocusScrollback key.Binding // Leave the prompt for the scrollback.
	FocusPrompt     key.Binding // Return to the prompt.

	// Prompt.
	Submit          key.Binding
	HistoryPrevious key.Binding
	HistoryNext     key.Binding
	Complete        key.Binding // Open the completion popup / cycle down.
	CompleteBack    key.Binding // Cycle up in the completion popup.

	// Transcript.
	Clear key.Binding

	// Quit. QuitScrollback adds plain q, usable only where typing
	// doesn't need it.
	Quit           key.Binding
	QuitScrollback key.Binding
}

// DefaultKeyMap is the built-in key binding set. Readline-style
// editing at the prompt, vim-style navigation in the scrollback.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	HalfUp: key.NewBinding(
		key.WithKeys("ctrl+u"),
		key.WithHelp("C-u", "half page up"),
	),
	HalfDown: key.NewBinding(
		key.WithKeys("ctrl+d"),
		key.WithHelp("C-d", "half page down"),
	),
	Top: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "top"),
	),
	Bottom: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G", "bottom"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("PgUp", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("PgDn", "page down"),
	),
	FocusScrollback: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("Esc", "scrollback"),
	),
	FocusPrompt: key.NewBinding(
		key.WithKeys("esc", "i", "enter"),
		key.WithHelp("Esc", "prompt"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "send"),
	),
	HistoryPrevious: key.NewBinding(
		key.WithKeys("up"),
		key.WithHelp("↑", "older"),
	),
	HistoryNext: key.NewBinding(
		key.WithKeys("down"),
		key.WithHelp("↓", "newer"),
	),
	Complete: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("Tab", "complete"),
	),
	CompleteBack: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("S-Tab", "complete back"),
	),
	Clear: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("C-l", "clear"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "quit"),
	),
	QuitScrollback: key.NewBinding(
		key.WithKeys("q"),
		key.WithHelp("q", "quit"),
	),
}
