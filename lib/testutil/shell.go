// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// PosixShell is the shell RequireShell looks for.
const PosixShell = "/bin/sh"

// RequireShell returns the path of a POSIX shell, or skips the test
// when the host has none. Tests that start real step processes call
// it first.
func RequireShell(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat(PosixShell); err == nil {
		return PosixShell
	}
	if path, err := exec.LookPath("sh"); err == nil {
		return path
	}
	t.Skip("no POSIX shell on this host")
	return ""
}
