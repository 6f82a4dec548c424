// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lightbox-foundation/lightbox/lib/clock"
)

// pendingEntry is one in-flight command waiting for its response.
// Whoever takes the entry out of the table settles it; an entry can be
// taken only once, so it settles exactly once.
type pendingEntry struct {
	id      string
	action  string
	created time.Time

	// timer fires the command's timeout; nil when the command has
	// none. take stops it, so a settled command never times out late.
	timer clock.Timer

	// done closes when the entry settles; data and err are valid
	// afterwards.
	done chan struct{}
	data json.RawMessage
	err  error
}

func (e *pendingEntry) settle(data json.RawMessage, err error) {
	e.data = data
	e.err = err
	close(e.done)
}

// pendingTable maps request ids to their in-flight commands. At most
// one entry exists per id.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

func (t *pendingTable) add(entry *pendingEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[entry.id] = entry
}

// take removes and returns the entry for id. Removal always stops the
// entry's timeout timer, whichever path triggered it: a response, the
// timeout itself, a failed send, or a drain.
func (t *pendingTable) take(id string) (*pendingEntry, bool) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
	return entry, ok
}

// drain removes every entry, stopping all timers. The caller settles
// the returned entries.
func (t *pendingTable) drain() []*pendingEntry {
	t.mu.Lock()
	drained := make([]*pendingEntry, 0, len(t.entries))
	for id, entry := range t.entries {
		delete(t.entries, id)
		drained = append(drained, entry)
	}
	t.mu.Unlock()

	for _, entry := range drained {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	return drained
}

func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
