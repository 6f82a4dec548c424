// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// Slab dimensions for fzf's scratch allocator, matching fzf's own
// defaults.
const (
	slabSize16 = 100 * 1024
	slabSize32 = 2048
)

func init() {
	// Configure fzf's boundary bonus tables. Calling algo directly
	// skips fzf's option parsing, which normally does this.
	algo.Init("default")
}

// fuzzyResult is one scored match. Score is zero when the pattern
// does not match; Positions are the matched rune indices in the
// text, ascending.
type fuzzyResult struct {
	Score     int
	Positions []int
}

// fuzzyMatch scores pattern against text with fzf's V2 algorithm.
// The pattern is lowercased and matching runs case-insensitively,
// the same fold fzf itself applies to a lowercase query.
func fuzzyMatch(text string, pattern []rune, slab *util.Slab) fuzzyResult {
	if len(pattern) == 0 {
		return fuzzyResult{}
	}

	lowered := []rune(strings.ToLower(string(pattern)))
	chars := util.ToChars([]byte(text))
	result, positions := algo.FuzzyMatchV2(false, true, true, &chars, lowered, true, slab)
	if result.Start < 0 {
		return fuzzyResult{}
	}

	matched := fuzzyResult{Score: result.Score}
	if positions != nil {
		matched.Positions = append(matched.Positions, *positions...)
		sort.Ints(matched.Positions)
	}
	return matched
}

// actionHistoryLimit bounds how many distinct actions the completion
// source remembers.
const actionHistoryLimit = 200

// ActionHistory remembers the actions issued this session, most
// recent first, and ranks them for prompt completion.
type ActionHistory struct {
	actions []string
	slab    *util.Slab
}

// NewActionHistory creates an empty history.
func NewActionHistory() *ActionHistory {
	return &ActionHistory{slab: util.MakeSlab(slabSize16, slabSize32)}
}

// Record moves the action to the front, inserting it if new.
func (h *ActionHistory) Record(action string) {
	if action == "" {
		return
	}
	for index, existing := range h.actions {
		if existing == action {
			copy(h.actions[1:index+1], h.actions[:index])
			h.actions[0] = action
			return
		}
	}
	h.actions = append([]string{action}, h.actions...)
	if len(h.actions) > actionHistoryLimit {
		h.actions = h.actions[:actionHistoryLimit]
	}
}

// Len reports how many distinct actions are remembered.
func (h *ActionHistory) Len() int {
	return len(h.actions)
}

// Suggestion is one ranked completion candidate.
type Suggestion struct {
	Action    string
	Score     int
	Positions []int
}

// Rank returns completion candidates for the query: fzf-ranked when
// the query is non-empty, recency order otherwise. Score ties keep
// recency order.
func (h *ActionHistory) Rank(query string) []Suggestion {
	if query == "" {
		suggestions := make([]Suggestion, 0, len(h.actions))
		for _, action := range h.actions {
			suggestions = append(suggestions, Suggestion{Action: action})
		}
		return suggestions
	}

	pattern := []rune(query)
	var suggestions []Suggestion
	for _, action := range h.actions {
		result := fuzzyMatch(action, pattern, h.slab)
		if result.Score <= 0 {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Action:    action,
			Score:     result.Score,
			Positions: result.Positions,
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	return suggestions
}

// completionVisibleLimit caps how many suggestions the popup shows.
const completionVisibleLimit = 8

// Completion is the popup listing ranked action suggestions above
// the prompt. The model owns it and routes keys to it while open.
type Completion struct {
	suggestions []Suggestion
	cursor      int
}

// Open fills the popup with the top suggestions and resets the
// cursor. Returns false (popup stays closed) when there is nothing
// to suggest.
func (c *Completion) Open(suggestions []Suggestion) bool {
	if len(suggestions) > completionVisibleLimit {
		suggestions = suggestions[:completionVisibleLimit]
	}
	c.suggestions = suggestions
	c.cursor = 0
	return len(suggestions) > 0
}

// Active reports whether the popup is open.
func (c *Completion) Active() bool {
	return len(c.suggestions) > 0
}

// Close dismisses the popup.
func (c *Completion) Close() {
	c.suggestions = nil
	c.cursor = 0
}

// MoveUp moves the cursor up by one, wrapping to the bottom.
func (c *Completion) MoveUp() {
	if len(c.suggestions) == 0 {
		return
	}
	c.cursor--
	if c.cursor < 0 {
		c.cursor = len(c.suggestions) - 1
	}
}

// MoveDown moves the cursor down by one, wrapping to the top.
func (c *Completion) MoveDown() {
	if len(c.suggestions) == 0 {
		return
	}
	c.cursor++
	if c.cursor >= len(c.suggestions) {
		c.cursor = 0
	}
}

// Selected returns the highlighted suggestion.
func (c *Completion) Selected() Suggestion {
	return c.suggestions[c.cursor]
}

// Render produces the popup lines for overlay splicing. Each line
// has the same visible width and a solid background; the highlighted
// suggestion uses a contrasting background and matched pattern runes
// get the accent color.
func (c *Completion) Render(theme Theme) []string {
	maxActionWidth := 0
	for _, suggestion := range c.suggestions {
		actionWidth := ansi.StringWidth(suggestion.Action)
		if actionWidth > maxActionWidth {
			maxActionWidth = actionWidth
		}
	}
	// Layout: " > action  " with one column of padding each side.
	innerWidth := 3 + maxActionWidth
	totalWidth := innerWidth + 2

	background := lipgloss.NewStyle().
		Background(theme.PopupBackground)
	normal := background.
		Foreground(theme.PopupForeground)
	match := background.
		Foreground(theme.PopupMatch).
		Bold(true)
	selectedBackground := lipgloss.NewStyle().
		Background(theme.SelectedBackground)
	selectedNormal := selectedBackground.
		Foreground(theme.SelectedForeground)
	selectedMatch := selectedBackground.
		Foreground(theme.PopupMatch).
		Bold(true)

	var lines []string
	for index, suggestion := range c.suggestions {
		rowBackground, rowNormal, rowMatch := background, normal, match
		marker := " "
		if index == c.cursor {
			rowBackground, rowNormal, rowMatch = selectedBackground, selectedNormal, selectedMatch
			marker = ">"
		}

		matched := make(map[int]bool, len(suggestion.Positions))
		for _, position := range suggestion.Positions {
			matched[position] = true
		}

		var label strings.Builder
		for runeIndex, r := range []rune(suggestion.Action) {
			if matched[runeIndex] {
				label.WriteString(rowMatch.Render(string(r)))
			} else {
				label.WriteString(rowNormal.Render(string(r)))
			}
		}

		padding := totalWidth - 4 - ansi.StringWidth(suggestion.Action)
		if padding < 0 {
			padding = 0
		}
		line := rowBackground.Render(" "+marker+" ") +
			label.String() +
			rowBackground.Render(strings.Repeat(" ", padding+1))
		lines = append(lines, line)
	}
	return lines
}
