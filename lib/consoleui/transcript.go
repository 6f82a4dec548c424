// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/lightbox-foundation/lightbox/channel"
)

// EntryKind classifies a transcript entry.
type EntryKind int

const (
	// EntryCommand is a command echoed as typed.
	EntryCommand EntryKind = iota + 1

	// EntryResult is a successful command response.
	EntryResult

	// EntryError is a failed command or an undecodable frame.
	EntryError

	// EntryEvent is a broadcast message from the rig.
	EntryEvent

	// EntryBinary is a raw binary frame notice.
	EntryBinary

	// EntryNotice is local status text: connection transitions,
	// dropped-event warnings, parse rejections.
	EntryNotice
)

// Entry is one transcript item: a head line plus an optional body
// (typically a payload rendered as indented JSON). Body text may
// carry ANSI color from syntax highlighting; head text is plain and
// styled at render time.
type Entry struct {
	Time time.Time
	Kind EntryKind
	Head string
	Body string
}

// Transcript is the console's bounded scrollback. Appending past the
// limit discards the oldest entries. Rendering is width-aware and
// ANSI-safe, so highlighted bodies wrap without corrupting escapes.
type Transcript struct {
	limit     int
	highlight bool
	formatter string
	entries   []Entry
}

// NewTranscript creates a transcript keeping at most limit entries.
// When highlight is true, JSON bodies are colored with the formatter
// matching the terminal's color profile.
func NewTranscript(limit int, highlight bool) *Transcript {
	if limit <= 0 {
		limit = 1
	}
	return &Transcript{
		limit:     limit,
		highlight: highlight,
		formatter: transcriptFormatter(),
	}
}

// transcriptFormatter picks the chroma formatter matching the
// terminal's color capability.
func transcriptFormatter() string {
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

// Append adds an entry, stamping the current time if unset, and
// drops the oldest entry beyond the limit.
func (t *Transcript) Append(entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.limit {
		overflow := len(t.entries) - t.limit
		t.entries = append(t.entries[:0], t.entries[overflow:]...)
	}
}

// AddCommand echoes a submitted prompt line.
func (t *Transcript) AddCommand(line string) {
	t.Append(Entry{Kind: EntryCommand, Head: line})
}

// AddResult records a successful command response.
func (t *Transcript) AddResult(action string, elapsed time.Duration, data json.RawMessage) {
	head := fmt.Sprintf("%s · %s", action, elapsed.Round(time.Millisecond))
	t.Append(Entry{Kind: EntryResult, Head: head, Body: t.renderJSON(data)})
}

// AddCallError records a failed command. A rig-reported failure may
// carry structured details; they become the body.
func (t *Transcript) AddCallError(elapsed time.Duration, err error) {
	head := fmt.Sprintf("%v · %s", err, elapsed.Round(time.Millisecond))
	var body string
	if commandErr, ok := channel.AsCommandError(err); ok && len(commandErr.Data) > 0 {
		body = t.renderJSON(commandErr.Data)
	}
	t.Append(Entry{Kind: EntryError, Head: head, Body: body})
}

// AddEvent records a broadcast message.
func (t *Transcript) AddEvent(message *channel.Message) {
	head := message.Action
	if head == "" {
		head = "(no action)"
	}
	if message.Error != "" {
		head += " · " + sanitize(message.Error)
	}
	t.Append(Entry{Kind: EntryEvent, Head: sanitize(head), Body: t.renderJSON(message.Data)})
}

// binaryPreviewBytes is how much of a binary frame the transcript
// shows as hex.
const binaryPreviewBytes = 8

// AddBinary records a binary frame notice: size plus a short hex
// preview, never the frame itself.
func (t *Transcript) AddBinary(frame []byte) {
	preview := frame
	truncated := ""
	if len(preview) > binaryPreviewBytes {
		preview = preview[:binaryPreviewBytes]
		truncated = "…"
	}
	head := fmt.Sprintf("binary frame · %d B · %s%s", len(frame), hex.EncodeToString(preview), truncated)
	t.Append(Entry{Kind: EntryBinary, Head: head})
}

// invalidExcerptLimit bounds how much of an undecodable frame the
// transcript shows.
const invalidExcerptLimit = 120

// AddInvalid records an undecodable text frame with a sanitized
// excerpt of the raw bytes.
func (t *Transcript) AddInvalid(err error) {
	head := fmt.Sprintf("undecodable frame · %v", err)
	var body string
	if parseErr, ok := channel.AsParseError(err); ok && len(parseErr.Raw) > 0 {
		excerpt := sanitize(string(parseErr.Raw))
		if len(excerpt) > invalidExcerptLimit {
			excerpt = excerpt[:invalidExcerptLimit] + "…"
		}
		body = excerpt
	}
	t.Append(Entry{Kind: EntryError, Head: head, Body: body})
}

// AddNotice records local status text.
func (t *Transcript) AddNotice(text string) {
	t.Append(Entry{Kind: EntryNotice, Head: text})
}

// AddDisconnect records the end of the connection.
func (t *Transcript) AddDisconnect(err error) {
	if err == nil {
		t.Append(Entry{Kind: EntryNotice, Head: "disconnected"})
		return
	}
	t.Append(Entry{Kind: EntryError, Head: fmt.Sprintf("disconnected · %v", err)})
}

// Clear discards all entries.
func (t *Transcript) Clear() {
	t.entries = nil
}

// Len reports the number of entries.
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Lines renders the transcript for a viewport of the given width:
// one timestamped head line per entry, body lines wrapped and
// indented beneath it.
func (t *Transcript) Lines(theme Theme, width int) []string {
	if width < 16 {
		width = 16
	}

	timeStyle := lipgloss.NewStyle().Foreground(theme.FaintText)
	var lines []string
	for _, entry := range t.entries {
		glyph, color := entryAccent(theme, entry.Kind)
		headStyle := lipgloss.NewStyle().Foreground(color)

		stamp := timeStyle.Render(entry.Time.Format("15:04:05"))
		head := stamp + " " + headStyle.Render(glyph+" "+entry.Head)
		lines = append(lines, strings.Split(ansi.Wrap(head, width, " ,.;-+|"), "\n")...)

		if entry.Body == "" {
			continue
		}
		wrapped := ansi.Wrap(entry.Body, width-2, " ,.;-+|")
		for _, bodyLine := range strings.Split(wrapped, "\n") {
			lines = append(lines, "  "+bodyLine)
		}
	}
	return lines
}

// entryAccent maps a kind to its glyph and head color.
func entryAccent(theme Theme, kind EntryKind) (string, lipgloss.Color) {
	switch kind {
	case EntryCommand:
		return "›", theme.PromptForeground
	case EntryResult:
		return "✓", theme.ResultForeground
	case EntryError:
		return "✗", theme.ErrorForeground
	case EntryEvent:
		return "•", theme.EventForeground
	case EntryBinary:
		return "◦", theme.BinaryForeground
	default:
		return "·", theme.FaintText
	}
}

// renderJSON pretty-prints a payload for the transcript body,
// syntax-highlighted when enabled. Anything that does not indent as
// JSON is sanitized and shown verbatim.
func (t *Transcript) renderJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return sanitize(string(data))
	}
	if t.highlight && t.formatter != "noop" {
		var colored strings.Builder
		if err := quick.Highlight(&colored, pretty.String(), "json", t.formatter, "monokai"); err == nil {
			return strings.TrimRight(colored.String(), "\n")
		}
	}
	return pretty.String()
}

// sanitize strips ANSI escape sequences and maps remaining control
// characters to spaces so rig-supplied text cannot corrupt the
// terminal. Newlines and tabs survive.
func sanitize(text string) string {
	stripped := ansi.Strip(text)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, stripped)
}
