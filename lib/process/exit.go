// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Exit codes of the agent binaries.
const (
	// ExitFailed reports an error before or outside any step, or a
	// failed job.
	ExitFailed = 1

	// ExitUsage reports bad flags or configuration.
	ExitUsage = 2

	// ExitCanceled reports a job stopped by a signal.
	ExitCanceled = 130
)

// Fatal writes "error: err" to stderr and exits with code 1. This is
// the standard entrypoint error handler. Use it in main() for errors
// from run() where the structured logger may not be initialized.
func Fatal(err error) {
	FatalCode(err, ExitFailed)
}

// FatalCode is Fatal with an explicit exit code.
func FatalCode(err error, code int) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}
