// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Lightbox
// command-line tools: the one legitimate raw-stderr path that exists
// before the structured logger is installed.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors returned by run() where the structured logger may
// not be initialized yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
