// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentcommand parses and executes embedded commands: single
// lines of step output the agent interprets instead of logging.
//
// The wire form is
//
//	##vso[area.event key=value;key=value]data
//
// Property values escape "%", ";", "]", CR and LF as %25, %3B, %5D,
// %0D and %0A. Data escapes "%", CR and LF the same way.
//
// The built-in commands are task.setvariable, task.setsecret,
// task.complete, task.logissue and task.prependpath. A line carrying
// the prefix is always consumed, even when it is malformed or names an
// unknown command; those produce a step warning.
package agentcommand
