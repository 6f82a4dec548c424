// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"strings"
	"unicode"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// promptHistoryLimit bounds how many submitted lines up/down recall.
const promptHistoryLimit = 100

// Prompt is the single-line command input at the bottom of the
// console: a rune buffer with readline-style cursor editing plus
// history recall. The model routes keystrokes to HandleKey and reads
// the text back via Value.
type Prompt struct {
	buffer []rune
	cursor int

	// Submitted lines, oldest first. historyIndex == len(history)
	// means not browsing; draft preserves the in-progress line while
	// browsing.
	history      []string
	historyIndex int
	draft        []rune
}

// NewPrompt creates an empty prompt.
func NewPrompt() Prompt {
	return Prompt{}
}

// Value returns the current line.
func (p *Prompt) Value() string {
	return string(p.buffer)
}

// SetValue replaces the line and moves the cursor to its end.
func (p *Prompt) SetValue(text string) {
	p.buffer = []rune(text)
	p.cursor = len(p.buffer)
}

// Clear empties the line and leaves history browsing.
func (p *Prompt) Clear() {
	p.buffer = nil
	p.cursor = 0
	p.draft = nil
	p.historyIndex = len(p.history)
}

// HandleKey processes an editing keystroke. Returns true if the line
// changed (cursor-only moves return false).
func (p *Prompt) HandleKey(message tea.KeyMsg) bool {
	switch message.Type {
	case tea.KeyRunes, tea.KeySpace:
		runes := message.Runes
		if message.Type == tea.KeySpace {
			runes = []rune{' '}
		}
		for _, character := range runes {
			p.insertRune(character)
		}
		return len(runes) > 0

	case tea.KeyBackspace:
		if p.cursor == 0 {
			return false
		}
		p.buffer = append(p.buffer[:p.cursor-1], p.buffer[p.cursor:]...)
		p.cursor--
		return true

	case tea.KeyDelete, tea.KeyCtrlD:
		if p.cursor >= len(p.buffer) {
			return false
		}
		p.buffer = append(p.buffer[:p.cursor], p.buffer[p.cursor+1:]...)
		return true

	case tea.KeyLeft:
		if p.cursor > 0 {
			p.cursor--
		}
		return false

	case tea.KeyRight:
		if p.cursor < len(p.buffer) {
			p.cursor++
		}
		return false

	case tea.KeyHome, tea.KeyCtrlA:
		p.cursor = 0
		return false

	case tea.KeyEnd, tea.KeyCtrlE:
		p.cursor = len(p.buffer)
		return false

	case tea.KeyCtrlU:
		if p.cursor == 0 {
			return false
		}
		p.buffer = append([]rune{}, p.buffer[p.cursor:]...)
		p.cursor = 0
		return true

	case tea.KeyCtrlK:
		if p.cursor >= len(p.buffer) {
			return false
		}
		p.buffer = p.buffer[:p.cursor]
		return true

	case tea.KeyCtrlW:
		return p.deleteWordBack()
	}

	return false
}

// insertRune inserts a single rune at the cursor position.
func (p *Prompt) insertRune(character rune) {
	line := make([]rune, len(p.buffer)+1)
	copy(line, p.buffer[:p.cursor])
	line[p.cursor] = character
	copy(line[p.cursor+1:], p.buffer[p.cursor:])
	p.buffer = line
	p.cursor++
}

// deleteWordBack removes the word before the cursor plus any spaces
// between it and the cursor.
func (p *Prompt) deleteWordBack() bool {
	if p.cursor == 0 {
		return false
	}
	start := p.cursor
	for start > 0 && unicode.IsSpace(p.buffer[start-1]) {
		start--
	}
	for start > 0 && !unicode.IsSpace(p.buffer[start-1]) {
		start--
	}
	p.buffer = append(p.buffer[:start], p.buffer[p.cursor:]...)
	p.cursor = start
	return true
}

// Push records a submitted line for history recall. Consecutive
// duplicates collapse; the oldest lines fall off past the limit.
// Browsing state resets.
func (p *Prompt) Push(line string) {
	if line != "" && (len(p.history) == 0 || p.history[len(p.history)-1] != line) {
		p.history = append(p.history, line)
		if len(p.history) > promptHistoryLimit {
			overflow := len(p.history) - promptHistoryLimit
			p.history = append(p.history[:0], p.history[overflow:]...)
		}
	}
	p.draft = nil
	p.historyIndex = len(p.history)
}

// HistoryPrevious recalls the previous submitted line, saving the
// in-progress draft on first use. Returns true if the line changed.
func (p *Prompt) HistoryPrevious() bool {
	if p.historyIndex == 0 || len(p.history) == 0 {
		return false
	}
	if p.historyIndex == len(p.history) {
		p.draft = append([]rune{}, p.buffer...)
	}
	p.historyIndex--
	p.SetValue(p.history[p.historyIndex])
	return true
}

// HistoryNext moves toward the present, restoring the saved draft
// past the newest entry. Returns true if the line changed.
func (p *Prompt) HistoryNext() bool {
	if p.historyIndex >= len(p.history) {
		return false
	}
	p.historyIndex++
	if p.historyIndex == len(p.history) {
		p.buffer = append([]rune{}, p.draft...)
		p.cursor = len(p.buffer)
		p.draft = nil
		return true
	}
	p.SetValue(p.history[p.historyIndex])
	return true
}

// ActionQuery returns the action token being typed (leading `!`
// stripped) and whether completion applies: the cursor must sit
// inside or at the end of the first word.
func (p *Prompt) ActionQuery() (string, bool) {
	end := 0
	for end < len(p.buffer) && !unicode.IsSpace(p.buffer[end]) {
		end++
	}
	if p.cursor > end {
		return "", false
	}
	token := string(p.buffer[:end])
	return strings.TrimPrefix(token, "!"), true
}

// AcceptAction replaces the action token with the completed action,
// keeping a `!` prefix and any payload text, and parks the cursor
// after the action.
func (p *Prompt) AcceptAction(action string) {
	end := 0
	for end < len(p.buffer) && !unicode.IsSpace(p.buffer[end]) {
		end++
	}
	prefix := ""
	if strings.HasPrefix(string(p.buffer[:end]), "!") {
		prefix = "!"
	}
	replaced := prefix + action
	rest := p.buffer[end:]
	p.buffer = append([]rune(replaced), rest...)
	p.cursor = len([]rune(replaced))
}

// View renders the prompt line: the glyph, the visible window of the
// buffer, and a reverse-video cursor when focused. Long lines scroll
// horizontally so the cursor stays visible.
func (p *Prompt) View(theme Theme, width int, focused bool) string {
	glyphStyle := lipgloss.NewStyle().Foreground(theme.PromptForeground).Bold(true)
	textStyle := lipgloss.NewStyle().Foreground(theme.NormalText)
	cursorStyle := lipgloss.NewStyle().Reverse(true)

	glyph := "› "
	available := width - 2 - 1 // glyph and the cursor cell
	if available < 1 {
		available = 1
	}

	// Slide the window so the cursor is always inside it.
	start := 0
	if p.cursor > available {
		start = p.cursor - available
	}
	end := start + available
	if end > len(p.buffer) {
		end = len(p.buffer)
	}

	var line strings.Builder
	line.WriteString(glyphStyle.Render(glyph))

	if !focused {
		line.WriteString(textStyle.Render(string(p.buffer[start:end])))
		return line.String()
	}

	cursorAt := p.cursor - start
	visible := p.buffer[start:end]
	if cursorAt >= len(visible) {
		line.WriteString(textStyle.Render(string(visible)))
		line.WriteString(cursorStyle.Render(" "))
		return line.String()
	}
	line.WriteString(textStyle.Render(string(visible[:cursorAt])))
	line.WriteString(cursorStyle.Render(string(visible[cursorAt : cursorAt+1])))
	line.WriteString(textStyle.Render(string(visible[cursorAt+1:])))
	return line.String()
}
