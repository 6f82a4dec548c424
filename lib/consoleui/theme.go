// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/lightbox-foundation/lightbox/channel"
)

// Theme defines the color palette for the console. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Connection state indicator in the status bar.
	StateConnected    lipgloss.Color
	StateConnecting   lipgloss.Color
	StateDisconnected lipgloss.Color
	StateClosed       lipgloss.Color

	// Transcript entry accents.
	PromptForeground lipgloss.Color // Echoed commands and the prompt glyph.
	ResultForeground lipgloss.Color // Successful command results.
	ErrorForeground  lipgloss.Color // Failed commands and undecodable frames.
	EventForeground  lipgloss.Color // Broadcast messages.
	BinaryForeground lipgloss.Color // Binary frame notices.

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Status bar log notices.
	LogWarn  lipgloss.Color
	LogError lipgloss.Color

	// Completion popup.
	PopupBackground    lipgloss.Color
	PopupForeground    lipgloss.Color
	PopupMatch         lipgloss.Color // Matched pattern characters.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color
}

// StateColor returns the indicator color for a connection state.
func (theme Theme) StateColor(state channel.State) lipgloss.Color {
	switch state {
	case channel.StateConnected:
		return theme.StateConnected
	case channel.StateConnecting:
		return theme.StateConnecting
	case channel.StateClosed:
		return theme.StateClosed
	default:
		return theme.StateDisconnected
	}
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed
// for 256-color terminals with a dark background.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	StateConnected:    lipgloss.Color("114"), // green
	StateConnecting:   lipgloss.Color("220"), // yellow/amber
	StateDisconnected: lipgloss.Color("245"), // gray
	StateClosed:       lipgloss.Color("196"), // red

	PromptForeground: lipgloss.Color("117"), // light blue
	ResultForeground: lipgloss.Color("252"), // same as NormalText
	ErrorForeground:  lipgloss.Color("196"), // red
	EventForeground:  lipgloss.Color("144"), // muted olive
	BinaryForeground: lipgloss.Color("141"), // light purple

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	LogWarn:  lipgloss.Color("220"),
	LogError: lipgloss.Color("196"),

	PopupBackground:    lipgloss.Color("237"),
	PopupForeground:    lipgloss.Color("252"),
	PopupMatch:         lipgloss.Color("220"),
	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),
}
