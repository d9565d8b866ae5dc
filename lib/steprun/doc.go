// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package steprun owns the child process of a step: it resolves the
// working directory and shell, builds the shell invocation, spawns the
// child in its own process group, streams its output into a
// [LineHandler], and computes the result.
//
// Cancellation walks a fixed escalation:
//
//	Running -> SignalSent (SIGINT, wait SigintTimeout)
//	        -> EscalatedSignalSent (SIGTERM, wait SigtermTimeout)
//	        -> TreeKillAttempted (SIGKILL to the group)
//	        -> Exited
//
// leaving the sequence as soon as the child exits. Waits go through an
// injected [clock.Clock] so tests can drive the grace periods.
//
// The result rule: error lines counted by the handler fail the step
// unless an embedded command already set a result; a non-zero exit
// code fails the step; otherwise the preset result or Succeeded
// stands.
package steprun
