// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import "sync"

// EventKind classifies a broadcast event.
type EventKind int

const (
	// EventMessage is a structured rig message that settled no
	// pending command: a push notification, or a response whose
	// command already settled.
	EventMessage EventKind = iota + 1

	// EventBinary is a raw binary frame, such as a preview image.
	EventBinary

	// EventInvalid is a text frame that failed to decode. Err holds
	// the ParseError.
	EventInvalid

	// EventDisconnect is the end of the connection. Err holds the
	// close cause, nil for a local Disconnect.
	EventDisconnect
)

// String returns the kind's wire-style name.
func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventBinary:
		return "binary"
	case EventInvalid:
		return "invalid"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one asynchronous notification delivered to listeners.
// Exactly one of Message, Binary, and Err is set, per Kind.
type Event struct {
	Kind EventKind

	// Message is the decoded envelope, set for EventMessage.
	Message *Message

	// Binary is the raw frame payload, set for EventBinary.
	Binary []byte

	// Err is set for EventInvalid and, when the connection failed
	// rather than being closed locally, for EventDisconnect.
	Err error
}

// Listener receives broadcast events. Delivery is synchronous on the
// channel's read loop, so handlers must not block; hand work to a
// goroutine or a buffered queue.
//
// Listener values are compared with ==, so implementations must be
// comparable; a pointer type is the usual choice.
type Listener interface {
	HandleEvent(event Event)
}

// listenerRegistry holds the registered listeners in registration
// order. Adding a listener already present and removing one not
// present are both no-ops.
type listenerRegistry struct {
	mu        sync.Mutex
	listeners []Listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{}
}

func (r *listenerRegistry) add(listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, registered := range r.listeners {
		if registered == listener {
			return
		}
	}
	r.listeners = append(r.listeners, listener)
}

func (r *listenerRegistry) remove(listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for index, registered := range r.listeners {
		if registered == listener {
			r.listeners = append(r.listeners[:index], r.listeners[index+1:]...)
			return
		}
	}
}

// snapshot returns the listeners in registration order. Dispatch
// iterates the snapshot without the lock, so a listener may add or
// remove listeners (itself included) while handling an event.
func (r *listenerRegistry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]Listener, len(r.listeners))
	copy(snapshot, r.listeners)
	return snapshot
}

func (r *listenerRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}
