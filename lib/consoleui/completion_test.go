// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"sort"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

func TestFuzzyMatchBasic(t *testing.T) {
	result := fuzzyMatch("get_camera_status", []rune("status"), nil)
	if result.Score <= 0 {
		t.Fatal("expected positive score for substring match")
	}
	if len(result.Positions) == 0 {
		t.Fatal("expected non-empty match positions")
	}
	if !sort.IntsAreSorted(result.Positions) {
		t.Errorf("positions should be ascending: %v", result.Positions)
	}
}

func TestFuzzyMatchNonContiguous(t *testing.T) {
	// "gcs" should match g from get, c from camera, s from status.
	result := fuzzyMatch("get_camera_status", []rune("gcs"), nil)
	if result.Score <= 0 {
		t.Fatal("expected positive score for non-contiguous fuzzy match")
	}
}

func TestFuzzyMatchNoMatch(t *testing.T) {
	result := fuzzyMatch("get_camera_status", []rune("xyz"), nil)
	if result.Score != 0 {
		t.Errorf("expected zero score for no match, got %d", result.Score)
	}
	if len(result.Positions) != 0 {
		t.Errorf("expected empty positions for no match, got %v", result.Positions)
	}
}

func TestFuzzyMatchCaseInsensitive(t *testing.T) {
	result := fuzzyMatch("STREAM_START", []rune("stream"), nil)
	if result.Score <= 0 {
		t.Fatalf("expected case-insensitive match, got score=%d", result.Score)
	}
}

func TestFuzzyMatchEmptyPattern(t *testing.T) {
	result := fuzzyMatch("anything", []rune{}, nil)
	if result.Score != 0 {
		t.Errorf("expected zero score for empty pattern, got %d", result.Score)
	}
}

func TestActionHistoryRecordMovesToFront(t *testing.T) {
	history := NewActionHistory()
	history.Record("ping")
	history.Record("get_status")
	history.Record("stream_start")
	history.Record("ping")

	if history.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", history.Len())
	}
	if history.actions[0] != "ping" {
		t.Errorf("front = %q, want ping", history.actions[0])
	}
	if history.actions[1] != "stream_start" {
		t.Errorf("second = %q, want stream_start", history.actions[1])
	}
}

func TestActionHistoryIgnoresEmpty(t *testing.T) {
	history := NewActionHistory()
	history.Record("")
	if history.Len() != 0 {
		t.Errorf("Len() = %d, want 0", history.Len())
	}
}

func TestActionHistoryRankEmptyQuery(t *testing.T) {
	history := NewActionHistory()
	history.Record("ping")
	history.Record("get_status")

	suggestions := history.Rank("")
	if len(suggestions) != 2 {
		t.Fatalf("len = %d, want 2", len(suggestions))
	}
	// Recency order: the latest action first.
	if suggestions[0].Action != "get_status" {
		t.Errorf("first = %q, want get_status", suggestions[0].Action)
	}
	if suggestions[0].Score != 0 || suggestions[0].Positions != nil {
		t.Error("empty query should carry no scores or positions")
	}
}

func TestActionHistoryRankFiltersAndSorts(t *testing.T) {
	history := NewActionHistory()
	history.Record("ping")
	history.Record("set_config")
	history.Record("get_config")
	history.Record("get_status")

	suggestions := history.Rank("get")
	if len(suggestions) != 2 {
		t.Fatalf("len = %d, want 2 (ping and set_config filtered out): %v", len(suggestions), suggestions)
	}
	for _, suggestion := range suggestions {
		if !strings.HasPrefix(suggestion.Action, "get_") {
			t.Errorf("unexpected suggestion %q", suggestion.Action)
		}
		if suggestion.Score <= 0 {
			t.Errorf("suggestion %q should have a positive score", suggestion.Action)
		}
		if len(suggestion.Positions) == 0 {
			t.Errorf("suggestion %q should carry match positions", suggestion.Action)
		}
	}
}

func TestCompletionOpenAndCycle(t *testing.T) {
	var completion Completion

	if completion.Open(nil) {
		t.Fatal("Open with no suggestions should stay closed")
	}
	if completion.Active() {
		t.Fatal("completion should be inactive")
	}

	suggestions := []Suggestion{
		{Action: "get_status"},
		{Action: "get_config"},
		{Action: "get_frame"},
	}
	if !completion.Open(suggestions) {
		t.Fatal("Open with suggestions should succeed")
	}
	if got := completion.Selected().Action; got != "get_status" {
		t.Errorf("initial selection = %q, want get_status", got)
	}

	completion.MoveDown()
	if got := completion.Selected().Action; got != "get_config" {
		t.Errorf("after MoveDown: %q, want get_config", got)
	}

	// Wrapping in both directions.
	completion.MoveUp()
	completion.MoveUp()
	if got := completion.Selected().Action; got != "get_frame" {
		t.Errorf("after wrap up: %q, want get_frame", got)
	}
	completion.MoveDown()
	if got := completion.Selected().Action; got != "get_status" {
		t.Errorf("after wrap down: %q, want get_status", got)
	}

	completion.Close()
	if completion.Active() {
		t.Error("completion should close")
	}
}

func TestCompletionOpenCapsVisible(t *testing.T) {
	var suggestions []Suggestion
	for index := 0; index < completionVisibleLimit+5; index++ {
		suggestions = append(suggestions, Suggestion{Action: strings.Repeat("a", index+1)})
	}

	var completion Completion
	completion.Open(suggestions)
	if len(completion.suggestions) != completionVisibleLimit {
		t.Errorf("visible = %d, want %d", len(completion.suggestions), completionVisibleLimit)
	}
}

func TestCompletionRender(t *testing.T) {
	var completion Completion
	completion.Open([]Suggestion{
		{Action: "get_status", Positions: []int{0, 1, 2}},
		{Action: "get_config"},
	})

	lines := completion.Render(DefaultTheme)
	if len(lines) != 2 {
		t.Fatalf("line count = %d, want 2", len(lines))
	}

	first := ansi.Strip(lines[0])
	if !strings.Contains(first, ">") {
		t.Errorf("selected row should carry the marker: %q", first)
	}
	if !strings.Contains(first, "get_status") {
		t.Errorf("first row should show get_status: %q", first)
	}
	if strings.Contains(ansi.Strip(lines[1]), ">") {
		t.Error("unselected row should not carry the marker")
	}

	// All rows render to the same visible width.
	if ansi.StringWidth(lines[0]) != ansi.StringWidth(lines[1]) {
		t.Errorf("row widths differ: %d vs %d",
			ansi.StringWidth(lines[0]), ansi.StringWidth(lines[1]))
	}
}
