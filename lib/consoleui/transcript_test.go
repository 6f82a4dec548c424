// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lightbox-foundation/lightbox/channel"
)

// transcriptText flattens the rendered lines for Contains checks.
func transcriptText(t *Transcript) string {
	return strings.Join(t.Lines(DefaultTheme, 100), "\n")
}

func TestTranscriptAppendBound(t *testing.T) {
	transcript := NewTranscript(3, false)
	for _, name := range []string{"one", "two", "three", "four", "five"} {
		transcript.AddNotice(name)
	}

	if transcript.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", transcript.Len())
	}
	text := transcriptText(transcript)
	if strings.Contains(text, "one") || strings.Contains(text, "two") {
		t.Errorf("oldest entries should be discarded: %q", text)
	}
	if !strings.Contains(text, "five") {
		t.Errorf("newest entry should remain: %q", text)
	}
}

func TestTranscriptAddResult(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.AddResult("get_status", 12*time.Millisecond, json.RawMessage(`{"iso": 800}`))

	text := transcriptText(transcript)
	if !strings.Contains(text, "get_status · 12ms") {
		t.Errorf("head should name the action and latency: %q", text)
	}
	if !strings.Contains(text, `"iso": 800`) {
		t.Errorf("body should carry the indented payload: %q", text)
	}
}

func TestTranscriptAddCallErrorWithData(t *testing.T) {
	transcript := NewTranscript(10, false)
	err := &channel.CommandError{
		Action:    "set_config",
		RequestID: "req_1_100",
		Reason:    "unsupported lens",
		Data:      json.RawMessage(`{"supported": ["f/2.8"]}`),
	}
	transcript.AddCallError(40*time.Millisecond, err)

	text := transcriptText(transcript)
	if !strings.Contains(text, "unsupported lens") {
		t.Errorf("head should carry the failure reason: %q", text)
	}
	if !strings.Contains(text, "40ms") {
		t.Errorf("head should carry the latency: %q", text)
	}
	if !strings.Contains(text, `"supported"`) {
		t.Errorf("body should carry the failure details: %q", text)
	}
}

func TestTranscriptAddEvent(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.AddEvent(&channel.Message{
		Action: "status_update",
		Data:   json.RawMessage(`{"recording": true}`),
	})

	text := transcriptText(transcript)
	if !strings.Contains(text, "status_update") {
		t.Errorf("head should name the action: %q", text)
	}
	if !strings.Contains(text, `"recording": true`) {
		t.Errorf("body should carry the data: %q", text)
	}
}

func TestTranscriptAddEventNoAction(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.AddEvent(&channel.Message{Error: "lens \x1b[31mfault"})

	text := transcriptText(transcript)
	if !strings.Contains(text, "(no action)") {
		t.Errorf("missing action should render a placeholder: %q", text)
	}
	if strings.Contains(text, "\x1b[31m") {
		t.Error("rig-supplied error text should be sanitized")
	}
	if !strings.Contains(text, "lens") {
		t.Errorf("error text should survive sanitization: %q", text)
	}
}

func TestTranscriptAddBinary(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.AddBinary([]byte{0x4c, 0x42, 0x58, 0x42, 0x00, 0x00, 0x00, 0x01, 0xff, 0xff, 0xff, 0xff})

	text := transcriptText(transcript)
	if !strings.Contains(text, "12 B") {
		t.Errorf("head should carry the size: %q", text)
	}
	if !strings.Contains(text, "4c42584200000001…") {
		t.Errorf("head should carry a truncated hex preview: %q", text)
	}
}

func TestTranscriptAddBinaryShortFrame(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.AddBinary([]byte{0xde, 0xad})

	text := transcriptText(transcript)
	if !strings.Contains(text, "2 B · dead") {
		t.Errorf("short frames show fully: %q", text)
	}
	if strings.Contains(text, "…") {
		t.Error("short frames should not carry a truncation marker")
	}
}

func TestTranscriptAddInvalid(t *testing.T) {
	transcript := NewTranscript(10, false)
	raw := "\x1b[2Jnot json at all " + strings.Repeat("z", 200)
	transcript.AddInvalid(&channel.ParseError{
		Err: json.Unmarshal([]byte("not json"), &struct{}{}),
		Raw: []byte(raw),
	})

	text := transcriptText(transcript)
	if !strings.Contains(text, "undecodable frame") {
		t.Errorf("head should flag the frame: %q", text)
	}
	if strings.Contains(text, "\x1b[2J") {
		t.Error("raw excerpt should be sanitized")
	}
	if !strings.Contains(text, "…") {
		t.Error("long excerpts should truncate")
	}
}

func TestTranscriptAddDisconnect(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.AddDisconnect(nil)

	text := transcriptText(transcript)
	if !strings.Contains(text, "disconnected") {
		t.Errorf("local close should render a plain notice: %q", text)
	}

	transcript.AddDisconnect(&channel.ConnectionError{Target: "ws://rig", Err: errors.New("read tcp: connection reset")})
	text = transcriptText(transcript)
	if !strings.Contains(text, "disconnected ·") {
		t.Errorf("failed close should carry the cause: %q", text)
	}
}

func TestTranscriptTimestamps(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.Append(Entry{
		Time: time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC),
		Kind: EntryNotice,
		Head: "connected",
	})

	text := transcriptText(transcript)
	if !strings.Contains(text, "12:30:45") {
		t.Errorf("head line should carry the entry time: %q", text)
	}
}

func TestTranscriptBodyIndentAndWrap(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.AddResult("get_config", time.Millisecond, json.RawMessage(`{"description": "a fairly long configuration string that needs wrapping"}`))

	lines := transcript.Lines(DefaultTheme, 30)
	if len(lines) < 3 {
		t.Fatalf("expected head plus wrapped body, got %d lines", len(lines))
	}
	foundIndent := false
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "  ") {
			foundIndent = true
		}
	}
	if !foundIndent {
		t.Error("body lines should be indented")
	}
}

func TestTranscriptRenderJSONFallback(t *testing.T) {
	transcript := NewTranscript(10, false)
	if got := transcript.renderJSON([]byte("plain\x07text")); got != "plain text" {
		t.Errorf("renderJSON() = %q, want sanitized verbatim text", got)
	}
	if got := transcript.renderJSON(nil); got != "" {
		t.Errorf("renderJSON(nil) = %q, want empty", got)
	}
}

func TestTranscriptClear(t *testing.T) {
	transcript := NewTranscript(10, false)
	transcript.AddNotice("connected")
	transcript.Clear()
	if transcript.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", transcript.Len())
	}
}

func TestSanitize(t *testing.T) {
	got := sanitize("\x1b[31mred\x1b[0m\tok\nnext\x00")
	if strings.Contains(got, "\x1b") {
		t.Errorf("escapes should be stripped: %q", got)
	}
	if !strings.Contains(got, "red\tok\nnext") {
		t.Errorf("text, tabs, and newlines should survive: %q", got)
	}
}
