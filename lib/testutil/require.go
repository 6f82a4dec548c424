// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Lightbox packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap channel
// operations in a wall-clock safety valve so a broken test fails with
// a message instead of hanging the suite. They are the only sanctioned
// use of real time.After in tests; everything else goes through
// lib/clock.
//
// [UniqueID] generates monotonically increasing identifiers for tests
// that need distinguishable request ids or action names.
//
// All helpers call t.Fatalf on failure rather than returning errors;
// a failed channel step never leaves the test in a recoverable state.
//
// This package has no Lightbox-internal dependencies.
package testutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

// TB is the subset of testing.TB the helpers need. Declared locally so
// the package works with *testing.T and *testing.B without importing
// testing into non-test code.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout or fails the
// test.
//
//	event := testutil.RequireReceive(t, events, 5*time.Second, "waiting for broadcast")
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", message(msgAndArgs))
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, message(msgAndArgs))
	}
	panic("unreachable")
}

// RequireSend sends v on ch within timeout or fails the test.
func RequireSend[T any](t TB, ch chan<- T, v T, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case ch <- v:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, message(msgAndArgs))
	}
}

// RequireClosed waits for ch to close (or deliver) within timeout or
// fails the test. Use it for readiness and completion channels that
// signal by closing.
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for close: %s", timeout, message(msgAndArgs))
	}
}

// message renders the trailing msgAndArgs of a helper: a lone string
// is returned as-is, a format string with arguments is expanded.
func message(msgAndArgs []any) string {
	switch len(msgAndArgs) {
	case 0:
		return "(no message)"
	case 1:
		if s, ok := msgAndArgs[0].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprintf("%v", msgAndArgs)
}

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N monotonically increasing across
// the test binary. Use it instead of time-derived identifiers when a
// test needs ids that cannot collide.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
