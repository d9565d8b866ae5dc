// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package arguments decides how a step's argument string reaches the
// shell, trading variable-expansion convenience against injection
// risk.
//
// Three modes exist (see [Flags.Mode]):
//
//   - Inline: the raw string is appended to the command unchanged.
//   - File-args: references are expanded against the step environment
//     ([Expand]), the result is stored in a private variable named
//     AGENT_TEMP_INPUT_ARGS_<id>, and a generated script passes that
//     variable to the command without letting the shell re-parse it.
//   - Validated: the raw string is checked by [Validate] and rejected
//     before spawn if it contains chaining, substitution, redirection,
//     or references to credentials. A crash inside the validator is
//     reported as telemetry and does not block the step.
//
// Telemetry never contains argument text, only counts and a BLAKE3
// digest ([Digest]).
package arguments
