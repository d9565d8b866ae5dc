// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package execution holds the job-scoped state a step handler runs
// against: variables (public and secret), task variables, the PATH
// prepend list, the optional container target, the live environment
// shared across steps, the step log, the telemetry sink, and the
// result an embedded command may set before the process exits.
//
// It also defines the error kinds every step-execution package
// returns. Each kind is a struct type implementing error so callers
// can branch with errors.As:
//
//	var validationErr *execution.ArgumentValidationError
//	if errors.As(err, &validationErr) {
//	    // the step never spawned a process
//	}
//
// [Classify] maps an arbitrary error onto a [Kind] for reporting.
//
// A [Job] is created once per job run; [Job.NewStep] derives the
// per-step [Context] that handlers receive. Everything reachable from
// either is safe for concurrent use. State shared between steps is
// limited to the job variables, the PATH prepend list, and [Live].
package execution
