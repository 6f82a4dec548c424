// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// Command is one parsed prompt line.
type Command struct {
	Action  string
	Payload json.RawMessage

	// Notify means fire-and-forget: send without a request id and
	// expect no response.
	Notify bool
}

// ParseCommand parses a prompt line. The grammar is `action {json}`:
// the first word is the action, the rest (optional) is the payload
// and must be valid JSON once JSONC comments and trailing commas are
// stripped. A leading `!` makes the command fire-and-forget.
func ParseCommand(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	var command Command
	if strings.HasPrefix(trimmed, "!") {
		command.Notify = true
		trimmed = strings.TrimSpace(trimmed[1:])
		if trimmed == "" {
			return Command{}, fmt.Errorf("empty command after !")
		}
	}

	action, rest, _ := strings.Cut(trimmed, " ")
	command.Action = action

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return command, nil
	}

	stripped := jsonc.ToJSON([]byte(rest))
	if !json.Valid(stripped) {
		return Command{}, fmt.Errorf("payload is not valid JSON")
	}
	command.Payload = json.RawMessage(stripped)
	return command, nil
}
