// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execution

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a step failure for reporting.
type Kind string

const (
	KindNone                    Kind = ""
	KindConfiguration           Kind = "ConfigurationError"
	KindArgumentValidation      Kind = "ArgumentValidationError"
	KindUnexpectedValidation    Kind = "UnexpectedValidationError"
	KindExecution               Kind = "ExecutionError"
	KindProcessTreeKill         Kind = "ProcessTreeKillError"
	KindEnvironmentValueTooLong Kind = "EnvironmentValueTooLong"
	KindCanceled                Kind = "Canceled"
	KindUnknown                 Kind = "Unknown"
)

// ConfigurationError reports a required context field or input that
// was missing before the process was spawned.
type ConfigurationError struct {
	// Field names the missing or invalid value (e.g., "inputs.target").
	Field string
	// Reason is a short human-readable explanation.
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s is required", e.Field)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Required returns a ConfigurationError for a missing value.
func Required(field string) error {
	return &ConfigurationError{Field: field}
}

// ArgumentValidationError reports that the argument string was rejected
// before spawn because it contains an unsafe construct.
type ArgumentValidationError struct {
	// Construct is the offending pattern as written in the arguments
	// (e.g., "&", "$(", "%PATH:~").
	Construct string
	// Offset is the byte offset of Construct in the raw arguments.
	Offset int
	// Reason explains which rule matched.
	Reason string
}

func (e *ArgumentValidationError) Error() string {
	return fmt.Sprintf("arguments rejected: %s at offset %d (%q)", e.Reason, e.Offset, e.Construct)
}

// UnexpectedValidationError wraps a failure inside the validator
// itself. It is never returned from a step; it is published as
// telemetry and the step proceeds.
type UnexpectedValidationError struct {
	Cause error
}

func (e *UnexpectedValidationError) Error() string {
	return fmt.Sprintf("argument validation failed unexpectedly: %v", e.Cause)
}

func (e *UnexpectedValidationError) Unwrap() error { return e.Cause }

// ExecutionError reports a process that exited non-zero, wrote to
// stderr while failOnStandardError was set, or both.
type ExecutionError struct {
	ExitCode   int
	ErrorCount int
}

func (e *ExecutionError) Error() string {
	if e.ErrorCount > 0 {
		return fmt.Sprintf("process completed with exit code %d and had %d error(s) written to the error stream", e.ExitCode, e.ErrorCount)
	}
	return fmt.Sprintf("process completed with exit code %d", e.ExitCode)
}

// ProcessTreeKillError reports that the forced kill of the process
// group failed after signal escalation.
type ProcessTreeKillError struct {
	PID   int
	Cause error
}

func (e *ProcessTreeKillError) Error() string {
	return fmt.Sprintf("killing process tree of pid %d: %v", e.PID, e.Cause)
}

func (e *ProcessTreeKillError) Unwrap() error { return e.Cause }

// EnvironmentValueTooLongWarning describes an environment value that
// exceeds the host's per-value limit. It is logged, never returned.
type EnvironmentValueTooLongWarning struct {
	Key     string
	Length  int
	Maximum int
}

func (e *EnvironmentValueTooLongWarning) Error() string {
	return fmt.Sprintf("environment variable %q is %d characters, exceeding the maximum of %d; the value is set but may be truncated by the platform",
		e.Key, e.Length, e.Maximum)
}

// Classify maps err onto a Kind. Wrapped errors are unwrapped.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		configurationErr *ConfigurationError
		validationErr    *ArgumentValidationError
		unexpectedErr    *UnexpectedValidationError
		executionErr     *ExecutionError
		killErr          *ProcessTreeKillError
		tooLongErr       *EnvironmentValueTooLongWarning
	)
	switch {
	case errors.As(err, &configurationErr):
		return KindConfiguration
	case errors.As(err, &validationErr):
		return KindArgumentValidation
	case errors.As(err, &unexpectedErr):
		return KindUnexpectedValidation
	case errors.As(err, &killErr):
		return KindProcessTreeKill
	case errors.As(err, &executionErr):
		return KindExecution
	case errors.As(err, &tooLongErr):
		return KindEnvironmentValueTooLong
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	return Classify(err) == KindConfiguration
}

// IsArgumentValidationError reports whether err is (or wraps) an
// ArgumentValidationError.
func IsArgumentValidationError(err error) bool {
	return Classify(err) == KindArgumentValidation
}
