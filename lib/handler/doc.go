// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handler turns a step definition into a running process.
//
// [Handler] has three implementations, chosen by the step's handler
// kind: [ProcessHandler] runs a command with arguments,
// [ScriptHandler] runs an inline script from a temporary file, and
// [ContainerHandler] runs either inside the job container. None of them
// inherits from another. Each composes the same sequence:
//
//  1. assemble the step environment with a stepenv.Assembler
//  2. sanitize the argument string with an arguments.Sanitizer
//  3. run the shell through a steprun.Controller, feeding its output
//     to a stepoutput.Interceptor
//
// A ConfigurationError or ArgumentValidationError from the first two
// stages ends the step before any process is spawned.
package handler
