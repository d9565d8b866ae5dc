// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stepoutput interprets a step's output streams.
//
// An [Interceptor] receives every line the child writes. Error lines
// are buffered and surface as one aggregated error when the next
// output line arrives or the process exits. Output lines are offered
// to a [CommandProcessor] for embedded commands and otherwise written
// to the step log.
//
// When a delimiter is configured, the first output line starting with
// it switches the interceptor into diff capture: every later line is a
// KEY=VALUE pair from the child's final environment and is applied to
// the job's live environment, where later steps see it. The build
// marker and job status keys are never overwritten this way.
package stepoutput
