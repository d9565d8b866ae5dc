// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arguments

import "runtime"

// Dialect selects the variable-reference syntax of the target shell.
type Dialect int

const (
	// DialectPosix covers sh-compatible shells: $NAME and ${NAME}.
	DialectPosix Dialect = iota
	// DialectCmd covers cmd.exe: %NAME%.
	DialectCmd
)

func (d Dialect) String() string {
	if d == DialectCmd {
		return "cmd"
	}
	return "posix"
}

// HostDialect returns the dialect of the host's default shell.
func HostDialect() Dialect {
	if runtime.GOOS == "windows" {
		return DialectCmd
	}
	return DialectPosix
}

// Flags are the job-level switches that govern argument handling.
type Flags struct {
	SecureArguments      bool
	SecureArgumentsAudit bool
	NewLogic             bool
	Telemetry            bool
}

// Mode is how the argument string reaches the shell.
type Mode int

const (
	// ModeInline passes the raw arguments unchanged.
	ModeInline Mode = iota
	// ModeFileArgs expands the arguments into private variables and
	// runs a generated script that references them indirectly.
	ModeFileArgs
	// ModeValidated checks the raw arguments for unsafe constructs and
	// passes them unchanged when they are clean.
	ModeValidated
)

var modeNames = []string{
	ModeInline:    "inline",
	ModeFileArgs:  "file-args",
	ModeValidated: "validated",
}

func (m Mode) String() string {
	if int(m) >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// FileArgs reports whether file-args mode applies.
func (f Flags) FileArgs(disableInlineExecution bool) bool {
	return disableInlineExecution && f.SecureArguments && !f.NewLogic
}

// Audit reports whether the expanded arguments should be logged for
// review without being used.
func (f Flags) Audit(disableInlineExecution bool) bool {
	return disableInlineExecution && f.SecureArgumentsAudit
}

// Mode returns the handling mode for a step.
func (f Flags) Mode(disableInlineExecution bool) Mode {
	switch {
	case f.FileArgs(disableInlineExecution):
		return ModeFileArgs
	case f.NewLogic:
		return ModeValidated
	default:
		return ModeInline
	}
}
