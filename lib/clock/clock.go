// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that timer-driven code is
// deterministic under test. Production code injects Real(); tests
// inject Fake() and drive it with Advance.
//
// Any production path that would otherwise call time.Now, time.After,
// time.AfterFunc, or time.NewTicker takes a Clock instead, either as a
// parameter or as a struct field.
package clock

import "time"

// Clock is the subset of the time package that Lightbox code schedules
// against.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after d. The returned Timer cancels
	// the pending call via Stop. A non-positive d runs f immediately.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d is not positive.
	NewTicker(d time.Duration) Ticker
}

// Timer is a scheduled one-shot event created by AfterFunc.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented
	// the timer from firing; false means it already fired or was
	// already stopped. Stop is safe to call more than once.
	Stop() bool

	// Reset re-arms the timer to fire after d. It reports whether the
	// timer was still active when Reset was called.
	Reset(d time.Duration) bool
}

// Ticker delivers ticks at a fixed interval until stopped.
type Ticker interface {
	// Chan returns the tick channel. The channel has capacity 1; a
	// slow consumer loses ticks rather than queueing them.
	Chan() <-chan time.Time

	// Stop turns the ticker off. It does not close the tick channel.
	Stop()
}
