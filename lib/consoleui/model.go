// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/lightbox-foundation/lightbox/channel"
)

// FocusRegion identifies which surface has keyboard focus.
type FocusRegion int

const (
	// FocusPrompt routes keystrokes to the command input.
	FocusPrompt FocusRegion = iota
	// FocusScrollback routes navigation keys to the transcript
	// viewport.
	FocusScrollback
	// FocusCompletion routes keys to the completion popup; runes
	// still edit the prompt and re-rank the suggestions.
	FocusCompletion
)

// channelEventMsg wraps a broadcast for delivery through the
// bubbletea message loop.
type channelEventMsg struct {
	event channel.Event
}

// callResultMsg is sent when a dispatched command completes.
type callResultMsg struct {
	action  string
	notify  bool
	data    json.RawMessage
	err     error
	elapsed time.Duration
}

// DefaultHistoryLimit is the transcript bound applied when Options
// does not set one.
const DefaultHistoryLimit = 500

// Options configure the console model.
type Options struct {
	// HistoryLimit bounds the transcript scrollback. Zero means
	// DefaultHistoryLimit.
	HistoryLimit int

	// Highlight enables JSON syntax coloring in payload bodies.
	Highlight bool
}

// Model is the console's bubbletea model: a status bar, the
// transcript viewport, and the command prompt.
type Model struct {
	rig   Rig
	theme Theme
	keys  KeyMap

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	focusRegion FocusRegion

	transcript *Transcript
	viewport   viewport.Model

	// followTail keeps the viewport pinned to the newest entry until
	// the user scrolls away; scrolling back to the bottom re-pins.
	followTail bool

	prompt     Prompt
	actions    *ActionHistory
	completion Completion

	// inFlight counts commands awaiting a response, for the status
	// bar.
	inFlight int

	// sawDisconnect stops event re-arming once the stream ended.
	sawDisconnect bool

	// Status bar log notice, cleared after a fade delay.
	logNotice string
	logLevel  slog.Level
}

// NewModel creates a console connected to the given rig.
func NewModel(rig Rig, options Options) Model {
	limit := options.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	model := Model{
		rig:        rig,
		theme:      DefaultTheme,
		keys:       DefaultKeyMap,
		transcript: NewTranscript(limit, options.Highlight),
		viewport:   viewport.New(0, 0),
		followTail: true,
		prompt:     NewPrompt(),
		actions:    NewActionHistory(),
	}

	if rig.State() == channel.StateConnected {
		model.transcript.AddNotice(fmt.Sprintf("connected to %s", rig.Target()))
	} else {
		model.transcript.AddNotice(fmt.Sprintf("session opened for %s (%s)", rig.Target(), rig.State()))
	}
	return model
}

// Init implements tea.Model. Starts listening for channel events.
func (model Model) Init() tea.Cmd {
	return listenChannelEvent(model.rig.Events())
}

// listenChannelEvent returns a tea.Cmd that blocks until a broadcast
// arrives, then delivers it as a channelEventMsg.
func listenChannelEvent(events <-chan channel.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}
		return channelEventMsg{event: event}
	}
}

// Update implements tea.Model. Routes keyboard events by focus
// region and handles channel traffic.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit

		case key.Matches(message, model.keys.Clear):
			model.transcript.Clear()
			model.syncViewport()
			return model, nil
		}

		switch model.focusRegion {
		case FocusCompletion:
			return model.handleCompletionKeys(message)
		case FocusScrollback:
			return model.handleScrollbackKeys(message)
		default:
			return model.handlePromptKeys(message)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		model.viewport, cmd = model.viewport.Update(message)
		model.followTail = model.viewport.AtBottom()
		return model, cmd

	case channelEventMsg:
		return model.handleChannelEvent(message.event)

	case callResultMsg:
		return model.handleCallResult(message)

	case logRecordMsg:
		model.logNotice = message.Summary
		model.logLevel = message.Level
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{}
		})

	case logRecordFadeMsg:
		model.logNotice = ""

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.viewport.Width = message.Width
		model.viewport.Height = model.viewportHeight()
		model.syncViewport()
	}

	return model, nil
}

// viewportHeight is the terminal height minus the status bar,
// separator, prompt, and help lines.
func (model Model) viewportHeight() int {
	height := model.height - 4
	if height < 1 {
		height = 1
	}
	return height
}

// handlePromptKeys processes input while the prompt has focus.
func (model Model) handlePromptKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Submit):
		return model.submitPrompt()

	case key.Matches(message, model.keys.HistoryPrevious):
		model.prompt.HistoryPrevious()

	case key.Matches(message, model.keys.HistoryNext):
		model.prompt.HistoryNext()

	case key.Matches(message, model.keys.Complete):
		query, applies := model.prompt.ActionQuery()
		if applies && model.completion.Open(model.actions.Rank(query)) {
			model.focusRegion = FocusCompletion
		}

	case key.Matches(message, model.keys.FocusScrollback):
		model.focusRegion = FocusScrollback

	case key.Matches(message, model.keys.PageUp):
		model.viewport.ViewUp()
		model.followTail = model.viewport.AtBottom()

	case key.Matches(message, model.keys.PageDown):
		model.viewport.ViewDown()
		model.followTail = model.viewport.AtBottom()

	default:
		model.prompt.HandleKey(message)
	}

	return model, nil
}

// submitPrompt parses and dispatches the current prompt line.
func (model Model) submitPrompt() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(model.prompt.Value())
	if line == "" {
		return model, nil
	}

	model.prompt.Push(line)
	model.prompt.Clear()
	model.completion.Close()

	command, err := ParseCommand(line)
	if err != nil {
		model.transcript.Append(Entry{Kind: EntryError, Head: fmt.Sprintf("%s · %v", line, err)})
		model.syncViewport()
		return model, nil
	}

	model.transcript.AddCommand(line)
	model.actions.Record(command.Action)
	model.syncViewport()

	if command.Notify {
		return model, dispatchNotify(model.rig, command)
	}
	model.inFlight++
	return model, dispatchCall(model.rig, command)
}

// handleCompletionKeys processes input while the popup is open.
// Navigation keys move the selection; anything that edits the prompt
// re-ranks the suggestions live.
func (model Model) handleCompletionKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Complete):
		model.completion.MoveDown()
		return model, nil

	case key.Matches(message, model.keys.CompleteBack):
		model.completion.MoveUp()
		return model, nil

	case message.Type == tea.KeyDown:
		model.completion.MoveDown()
		return model, nil

	case message.Type == tea.KeyUp:
		model.completion.MoveUp()
		return model, nil

	case key.Matches(message, model.keys.Submit):
		model.prompt.AcceptAction(model.completion.Selected().Action)
		model.completion.Close()
		model.focusRegion = FocusPrompt
		return model, nil

	case message.Type == tea.KeyEsc:
		model.completion.Close()
		model.focusRegion = FocusPrompt
		return model, nil
	}

	if model.prompt.HandleKey(message) {
		query, applies := model.prompt.ActionQuery()
		if !applies || !model.completion.Open(model.actions.Rank(query)) {
			model.completion.Close()
			model.focusRegion = FocusPrompt
		}
	}
	return model, nil
}

// handleScrollbackKeys processes input while the scrollback has
// focus.
func (model Model) handleScrollbackKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.QuitScrollback):
		return model, tea.Quit

	case key.Matches(message, model.keys.FocusPrompt):
		model.focusRegion = FocusPrompt
		return model, nil

	case key.Matches(message, model.keys.Up):
		model.viewport.LineUp(1)

	case key.Matches(message, model.keys.Down):
		model.viewport.LineDown(1)

	case key.Matches(message, model.keys.HalfUp):
		model.viewport.HalfViewUp()

	case key.Matches(message, model.keys.HalfDown):
		model.viewport.HalfViewDown()

	case key.Matches(message, model.keys.PageUp):
		model.viewport.ViewUp()

	case key.Matches(message, model.keys.PageDown):
		model.viewport.ViewDown()

	case key.Matches(message, model.keys.Top):
		model.viewport.GotoTop()

	case key.Matches(message, model.keys.Bottom):
		model.viewport.GotoBottom()
	}

	model.followTail = model.viewport.AtBottom()
	return model, nil
}

// handleChannelEvent appends a broadcast to the transcript and
// re-arms the listener until the stream ends.
func (model Model) handleChannelEvent(event channel.Event) (tea.Model, tea.Cmd) {
	switch event.Kind {
	case channel.EventMessage:
		model.transcript.AddEvent(event.Message)
	case channel.EventBinary:
		model.transcript.AddBinary(event.Binary)
	case channel.EventInvalid:
		model.transcript.AddInvalid(event.Err)
	case channel.EventDisconnect:
		model.transcript.AddDisconnect(event.Err)
		model.sawDisconnect = true
	}
	model.syncViewport()

	if model.sawDisconnect {
		return model, nil
	}
	return model, listenChannelEvent(model.rig.Events())
}

// handleCallResult appends a command outcome to the transcript.
func (model Model) handleCallResult(message callResultMsg) (tea.Model, tea.Cmd) {
	if !message.notify {
		model.inFlight--
	}
	switch {
	case message.err != nil:
		model.transcript.AddCallError(message.elapsed, message.err)
	case message.notify:
		// The echo already shows the command; nothing came back.
	default:
		model.transcript.AddResult(message.action, message.elapsed, message.data)
	}
	model.syncViewport()
	return model, nil
}

// dispatchCall runs a command against the rig off the event loop.
func dispatchCall(rig Rig, command Command) tea.Cmd {
	return func() tea.Msg {
		started := time.Now()
		var payload any
		if len(command.Payload) > 0 {
			payload = command.Payload
		}
		data, err := rig.Call(context.Background(), command.Action, payload)
		return callResultMsg{
			action:  command.Action,
			data:    data,
			err:     err,
			elapsed: time.Since(started),
		}
	}
}

// dispatchNotify sends a fire-and-forget command.
func dispatchNotify(rig Rig, command Command) tea.Cmd {
	return func() tea.Msg {
		started := time.Now()
		var payload any
		if len(command.Payload) > 0 {
			payload = command.Payload
		}
		err := rig.Notify(command.Action, payload)
		return callResultMsg{
			action:  command.Action,
			notify:  true,
			err:     err,
			elapsed: time.Since(started),
		}
	}
}

// syncViewport rebuilds the viewport content from the transcript,
// keeping the tail pinned when following.
func (model *Model) syncViewport() {
	lines := model.transcript.Lines(model.theme, model.viewport.Width)
	model.viewport.SetContent(strings.Join(lines, "\n"))
	if model.followTail {
		model.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}

	sections := []string{
		model.renderStatusBar(),
		model.viewport.View(),
		lipgloss.NewStyle().
			Foreground(model.theme.BorderColor).
			Render(strings.Repeat("─", model.width)),
		model.prompt.View(model.theme, model.width, model.focusRegion != FocusScrollback),
		model.renderHelp(),
	}
	output := strings.Join(sections, "\n")

	if model.completion.Active() {
		popupLines := model.completion.Render(model.theme)
		// Anchor the popup so its bottom row sits just above the
		// prompt line, aligned with the prompt text.
		anchorY := model.height - 2 - len(popupLines)
		if anchorY < 1 {
			anchorY = 1
		}
		output = spliceOverlay(output, popupLines, 2, anchorY)
	}

	return output
}

// renderStatusBar renders the top line: program name, target, the
// connection state, in-flight count, and any log notice.
func (model Model) renderStatusBar() string {
	nameStyle := lipgloss.NewStyle().Foreground(model.theme.HeaderForeground).Bold(true)
	faintStyle := lipgloss.NewStyle().Foreground(model.theme.FaintText)

	state := model.rig.State()
	stateStyle := lipgloss.NewStyle().Foreground(model.theme.StateColor(state))

	left := nameStyle.Render(" lightbox") +
		faintStyle.Render(" · "+model.rig.Target()+" ") +
		stateStyle.Render("● "+state.String())

	if model.inFlight > 0 {
		left += faintStyle.Render(fmt.Sprintf(" · %d in flight", model.inFlight))
	}
	if counter, ok := model.rig.(DropCounter); ok {
		if dropped := counter.Dropped(); dropped > 0 {
			left += faintStyle.Render(fmt.Sprintf(" · %d dropped", dropped))
		}
	}

	if model.logNotice == "" {
		return left
	}

	noticeColor := model.theme.LogWarn
	if model.logLevel >= slog.LevelError {
		noticeColor = model.theme.LogError
	}
	notice := lipgloss.NewStyle().Foreground(noticeColor).Render(model.logNotice)

	gap := model.width - ansi.StringWidth(left) - ansi.StringWidth(notice) - 1
	if gap < 1 {
		notice = ansi.Truncate(notice, model.width-ansi.StringWidth(left)-2, "…")
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + notice
}

// renderHelp renders the bottom help bar with key hints and the
// scrollback position.
func (model Model) renderHelp() string {
	style := lipgloss.NewStyle().Foreground(model.theme.HelpText)

	var help string
	switch model.focusRegion {
	case FocusScrollback:
		help = " [SCROLL] j/k move  C-u/C-d half page  g/G ends  Esc prompt  q quit"
	case FocusCompletion:
		help = " [COMPLETE] Tab/↓ next  S-Tab/↑ previous  Enter accept  Esc dismiss"
	default:
		help = " [PROMPT] Enter send  !action notify  Tab complete  ↑/↓ history  Esc scrollback  C-l clear  C-c quit"
	}

	if position := model.scrollPosition(); position != "" {
		help += fmt.Sprintf("  [%s]", position)
	}
	return style.Render(help)
}

// scrollPosition describes where the viewport sits in the
// transcript, empty when everything fits.
func (model Model) scrollPosition() string {
	total := model.viewport.TotalLineCount()
	if total <= model.viewport.Height {
		return ""
	}
	if model.viewport.AtBottom() {
		return "bottom"
	}
	if model.viewport.YOffset == 0 {
		return "top"
	}
	percent := float64(model.viewport.YOffset) / float64(total-model.viewport.Height) * 100
	return fmt.Sprintf("%d%%", int(percent))
}
