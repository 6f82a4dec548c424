// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock whose current time is start. The clock
// stands still until Advance moves it; timers and tickers registered
// against it fire deterministically, in deadline order, during the
// Advance call that crosses their deadline.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.registered = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, so a callback
// must not itself call Advance or block on another goroutine that
// needs the clock to move.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	schedule   []*fakeEvent
	registered *sync.Cond
}

// fakeEvent is one pending timer, tick source, or After channel.
type fakeEvent struct {
	when     time.Time
	ch       chan time.Time // After and Ticker events
	fn       func()         // AfterFunc events
	interval time.Duration  // non-zero for tickers; rescheduled after firing
	stopped  bool
	fired    bool
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock has advanced by
// at least d. A non-positive d delivers before After returns.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.add(&fakeEvent{when: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc schedules f to run when the clock advances past d from
// now. A non-positive d runs f synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		f()
		return expiredTimer{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	event := &fakeEvent{when: c.now.Add(d), fn: f}
	c.add(event)
	return &fakeTimer{clock: c, event: event}
}

// NewTicker returns a Ticker that fires on every Advance crossing a
// multiple of d. Panics if d is not positive, matching time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: NewTicker interval must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	event := &fakeEvent{when: c.now.Add(d), ch: make(chan time.Time, 1), interval: d}
	c.add(event)
	return &fakeTicker{clock: c, event: event}
}

// add appends an event and wakes WaitForTimers callers. Caller holds
// c.mu.
func (c *FakeClock) add(event *fakeEvent) {
	c.schedule = append(c.schedule, event)
	c.registered.Broadcast()
}

// Advance moves the clock forward by d, firing every pending event
// whose deadline falls within the new time, earliest deadline first.
// Tickers fire once per elapsed interval; ticks that would overflow
// the (capacity 1) channel are dropped, matching time.Ticker.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	// Loop because an AfterFunc callback may register new events that
	// are already due at the target time.
	for {
		event := c.nextDue(target)
		if event == nil {
			return
		}
		if event.fn != nil {
			event.fn()
			continue
		}
		select {
		case event.ch <- target:
		default:
		}
	}
}

// nextDue removes and returns the earliest event due at or before
// target, rescheduling tickers. Returns nil when nothing is due.
func (c *FakeClock) nextDue(target time.Time) *fakeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due *fakeEvent
	index := -1
	for i, event := range c.schedule {
		if event.stopped || event.when.After(target) {
			continue
		}
		if due == nil || event.when.Before(due.when) {
			due = event
			index = i
		}
	}
	if due == nil {
		return nil
	}

	if due.interval > 0 {
		due.when = due.when.Add(due.interval)
	} else {
		due.fired = true
		c.schedule = append(c.schedule[:index], c.schedule[index+1:]...)
	}
	return due
}

// WaitForTimers blocks until at least n events (timers, tickers, or
// After channels) are registered and not yet fired. Tests use it to
// close the race between a goroutine arming a timer and the test
// advancing the clock:
//
//	go channel.Call(ctx, "slow", nil)
//	fake.WaitForTimers(1) // Call has armed its timeout
//	fake.Advance(10 * time.Second)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.registered.Wait()
	}
}

// PendingCount returns the number of registered, unfired, unstopped
// events.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	n := 0
	for _, event := range c.schedule {
		if !event.stopped {
			n++
		}
	}
	return n
}

// fakeTimer implements Timer for AfterFunc events.
type fakeTimer struct {
	clock *FakeClock
	event *fakeEvent
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.event.stopped || t.event.fired {
		return false
	}
	t.event.stopped = true
	return true
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.event.stopped && !t.event.fired
	t.event.when = t.clock.now.Add(d)
	t.event.stopped = false
	if t.event.fired {
		t.event.fired = false
		t.clock.add(t.event)
	}
	return active
}

// expiredTimer is returned by AfterFunc when the callback already ran.
type expiredTimer struct{}

func (expiredTimer) Stop() bool               { return false }
func (expiredTimer) Reset(time.Duration) bool { return false }

// fakeTicker implements Ticker.
type fakeTicker struct {
	clock *FakeClock
	event *fakeEvent
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.event.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.event.stopped = true
}
