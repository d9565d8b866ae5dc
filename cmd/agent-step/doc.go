// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// agent-step runs the steps of a CI job on this host.
//
// "agent-step run job.jsonc" reads a JSONC job file, opens the
// optional sealed secret-variable bundle, and runs each step through
// the process, script or container handler. Steps share one set of
// variables and one live environment: a step with modify_environment
// passes the variables it exports on to every later step, and
// ##vso[...] commands in step output set variables, results and PATH
// entries. After a failed or cancelled step the remaining steps are
// skipped unless the failed step sets continue_on_error.
//
// Step output is written to stdout as the step log, with secret
// values masked, and optionally archived (zstd or lz4). Agent
// diagnostics go to stderr through log/slog. Telemetry is written as
// a zstd-compressed CBOR sequence that "agent-step telemetry" prints.
//
// Configuration comes from the YAML file named by --config or
// AGENT_CONFIG; see lib/config.
//
// Exit codes: 0 when the job succeeded (with or without issues), 1
// when it failed or could not start, 2 for usage and configuration
// errors, 130 when it was cancelled.
package main
