// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/lightbox-foundation/lightbox/channel"
)

// Rig is the console's view of a command channel: dispatch commands,
// read connection state, and receive the broadcast stream. The model
// never touches a channel.Channel directly, so tests drive it with a
// scripted fake.
type Rig interface {
	// Call sends a command and blocks until its response, timeout,
	// or the end of the connection.
	Call(ctx context.Context, action string, payload any) (json.RawMessage, error)

	// Notify sends a fire-and-forget command.
	Notify(action string, payload any) error

	// State reports the connection lifecycle position.
	State() channel.State

	// Target is the address the channel dials, for the status bar.
	Target() string

	// Events streams broadcasts. The disconnect event is the last
	// one delivered; the console stops listening after it rather
	// than expecting the channel to close.
	Events() <-chan channel.Event
}

// DropCounter is optionally implemented by rigs that shed
// broadcasts under pressure. The status bar surfaces the count.
type DropCounter interface {
	Dropped() uint64
}

// eventBufferSize bounds the broadcast queue between the channel's
// dispatch and the bubbletea loop. A busy rig streaming status
// updates stays well under this; sustained overflow drops events
// and counts them.
const eventBufferSize = 256

// ChannelRig adapts a live channel.Channel to the Rig interface. It
// registers itself as a listener and forwards broadcasts into a
// buffered stream the model re-arms as a bubbletea command.
type ChannelRig struct {
	channel *channel.Channel
	events  chan channel.Event
	dropped atomic.Uint64
}

var _ Rig = (*ChannelRig)(nil)
var _ channel.Listener = (*ChannelRig)(nil)
var _ DropCounter = (*ChannelRig)(nil)

// NewChannelRig wraps the channel and registers for its broadcasts.
// Call Close when the console exits.
func NewChannelRig(ch *channel.Channel) *ChannelRig {
	rig := &ChannelRig{
		channel: ch,
		events:  make(chan channel.Event, eventBufferSize),
	}
	ch.AddListener(rig)
	return rig
}

// HandleEvent implements channel.Listener. It runs on the channel's
// read loop: the disconnect event ends the stream and may block, any
// other event drops under pressure rather than stalling the reader.
func (rig *ChannelRig) HandleEvent(event channel.Event) {
	if event.Kind == channel.EventDisconnect {
		rig.events <- event
		return
	}
	select {
	case rig.events <- event:
	default:
		rig.dropped.Add(1)
	}
}

// Call dispatches through the wrapped channel.
func (rig *ChannelRig) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	return rig.channel.Call(ctx, action, payload)
}

// Notify dispatches through the wrapped channel.
func (rig *ChannelRig) Notify(action string, payload any) error {
	return rig.channel.Notify(action, payload)
}

// State reports the wrapped channel's state.
func (rig *ChannelRig) State() channel.State {
	return rig.channel.State()
}

// Target reports the wrapped channel's target.
func (rig *ChannelRig) Target() string {
	return rig.channel.Target()
}

// Events returns the broadcast stream.
func (rig *ChannelRig) Events() <-chan channel.Event {
	return rig.events
}

// Dropped reports how many broadcasts were discarded because the
// console fell behind.
func (rig *ChannelRig) Dropped() uint64 {
	return rig.dropped.Load()
}

// Close unregisters from the channel. The event stream stays open:
// anything already queued drains, and the disconnect event (if one
// arrives first) remains the terminal signal.
func (rig *ChannelRig) Close() {
	rig.channel.RemoveListener(rig)
}
