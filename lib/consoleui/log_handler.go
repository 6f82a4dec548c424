// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// logRecordMsg delivers a slog record to the model for display in
// the status bar.
type logRecordMsg struct {
	// Summary is the one-line "message (key=value, ...)" rendering.
	Summary string

	// Level styles the notice (warn vs error).
	Level slog.Level
}

// logRecordFadeMsg is sent after a delay to clear the notice from
// the status bar.
type logRecordFadeMsg struct{}

// logRecordFadeDelay is how long log notices stay visible in the
// status bar.
const logRecordFadeDelay = 5 * time.Second

// StatusLogHandler is a slog.Handler that routes log records into
// the console's status bar instead of stderr, which would corrupt
// the alt-screen display. Records below the configured level are
// dropped, as are records arriving before SetProgram.
//
// Handlers derived via WithAttrs/WithGroup share the same program
// pointer, so a single SetProgram call propagates to every derived
// handler.
type StatusLogHandler struct {
	level   slog.Level
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
	groups  []string
}

// NewStatusLogHandler creates a handler delivering records at or
// above the given level. Call SetProgram once the tea.Program
// exists.
func NewStatusLogHandler(level slog.Level) *StatusLogHandler {
	return &StatusLogHandler{
		level:   level,
		program: &atomic.Pointer[tea.Program]{},
	}
}

// SetProgram sets the program that receives log messages. Safe to
// call from any goroutine.
func (handler *StatusLogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

// Enabled implements slog.Handler.
func (handler *StatusLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

// Handle formats the record as a one-line summary and sends it to
// the program.
func (handler *StatusLogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}

	summary := record.Message
	var attrParts []string
	for _, attr := range handler.attrs {
		attrParts = append(attrParts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
	}
	record.Attrs(func(attr slog.Attr) bool {
		attrParts = append(attrParts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
		return true
	})
	if len(attrParts) > 0 {
		summary += " ("
		for index, part := range attrParts {
			if index > 0 {
				summary += ", "
			}
			summary += part
		}
		summary += ")"
	}

	program.Send(logRecordMsg{Summary: summary, Level: record.Level})
	return nil
}

// WithAttrs returns a derived handler with the attributes appended.
func (handler *StatusLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &StatusLogHandler{
		level:   handler.level,
		program: handler.program,
		attrs:   append(sliceClone(handler.attrs), attrs...),
		groups:  sliceClone(handler.groups),
	}
}

// WithGroup returns a derived handler with the group name appended.
func (handler *StatusLogHandler) WithGroup(name string) slog.Handler {
	return &StatusLogHandler{
		level:   handler.level,
		program: handler.program,
		attrs:   sliceClone(handler.attrs),
		groups:  append(sliceClone(handler.groups), name),
	}
}

// sliceClone returns a shallow copy of a slice, avoiding aliasing
// between derived handlers.
func sliceClone[T any](source []T) []T {
	if source == nil {
		return nil
	}
	result := make([]T, len(source))
	copy(result, source)
	return result
}
