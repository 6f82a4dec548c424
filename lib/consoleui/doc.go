// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package consoleui implements the interactive rig console. Built on
// bubbletea (Elm architecture), it renders a scrollback transcript of
// everything the channel carries — command echoes, results, broadcast
// messages, binary frame notices, the end of the connection — above a
// prompt line that parses `action {json}` commands and dispatches them
// as calls. A leading `!` makes the command fire-and-forget.
//
// The [Rig] interface decouples the console from the live channel:
// [NewChannelRig] adapts a [channel.Channel], while tests drive the
// model with a scripted fake. Broadcast events arrive through the
// rig's event stream and are re-armed as bubbletea commands, so the
// transcript updates while the prompt stays responsive.
//
// Data flow:
//
//	[rig websocket / data channel]
//	        | (channel.Channel)
//	    [Rig adapter] -- events + call results
//	        |
//	    [Model] <- bubbletea event loop
//	        |
//	  [terminal output]
package consoleui
