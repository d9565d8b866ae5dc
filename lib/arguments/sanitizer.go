// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arguments

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepenv"
)

// Telemetry area and features published by the sanitizer.
const (
	TelemetryArea              = "ProcessHandler"
	TelemetryFeatureExpansion  = "SecureArgumentsExpansion"
	TelemetryFeatureValidation = "ArgumentValidation"
)

// VariablePrefix starts the names of the private variables that carry
// expanded arguments in file-args mode. They live only in the child's
// environment and must never be captured back into the job.
const VariablePrefix = "AGENT_TEMP_INPUT_ARGS_"

// ScriptPrefix starts the file name of generated file-args scripts.
const ScriptPrefix = "processHandlerScript_"

// digestKey separates argument digests from any other BLAKE3 use. The
// bytes are the ASCII domain name, zero-padded to 32.
var digestKey = [32]byte{
	'a', 'g', 'e', 'n', 't', '.', 'a', 'r', 'g', 'u', 'm', 'e', 'n', 't', 's', '.',
	'd', 'i', 'g', 'e', 's', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Digest returns the hex BLAKE3 keyed hash of args. Telemetry carries
// the digest so repeated argument strings can be correlated without
// publishing their text.
func Digest(args string) string {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("arguments: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(args))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Sanitizer decides how a step's arguments reach the shell.
type Sanitizer struct {
	Flags   Flags
	Dialect Dialect
	Context *execution.Context
	Logger  *slog.Logger

	// TempDirectory receives generated scripts. Empty means the
	// context's agent temp directory, then os.TempDir.
	TempDirectory string

	// newID returns the unique suffix for variables and scripts.
	newID func() string
	// validator replaces Validate in tests.
	validator func(args string, dialect Dialect) error
}

// Prepared is the outcome of Prepare.
type Prepared struct {
	Mode Mode

	// Arguments is the text to append to the command in inline and
	// validated modes.
	Arguments string

	// Script is the generated file-args script, and Variables the
	// private variables it reads: one per argument word for POSIX
	// shells, a single one holding the whole text for cmd.
	Script    string
	Variables []string

	// Expansion is set whenever the arguments were expanded, including
	// audit-only expansion.
	Expansion *ExpansionTelemetry
}

// Cleanup removes the generated script, if any.
func (p *Prepared) Cleanup() error {
	if p == nil || p.Script == "" {
		return nil
	}
	if err := os.Remove(p.Script); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing generated script: %w", err)
	}
	return nil
}

// Prepare applies the configured mode to args. In file-args mode the
// private variables are written to environment and a script invoking
// command is generated. A rejection in validated mode is returned as
// *execution.ArgumentValidationError; nothing should be spawned.
func (s *Sanitizer) Prepare(command, args string, environment *stepenv.Table, disableInlineExecution bool) (*Prepared, error) {
	if s.Context == nil {
		return nil, execution.Required("sanitizer.context")
	}
	if environment == nil {
		return nil, execution.Required("sanitizer.environment")
	}

	prepared := &Prepared{Mode: s.Flags.Mode(disableInlineExecution), Arguments: args}
	audit := s.Flags.Audit(disableInlineExecution)

	if prepared.Mode == ModeFileArgs || audit {
		lookup := childLookup{table: environment, live: s.Context.Live}
		expanded, telemetry := Expand(args, lookup, s.Dialect)
		prepared.Expansion = &telemetry
		s.logger().Debug("expanded arguments",
			"mode", prepared.Mode.String(),
			"variables_expanded", telemetry.VariablesExpanded,
			"suspicious", len(telemetry.Suspicious))

		if audit {
			s.Context.Warning("Arguments after expansion (audit only, not executed): " + expanded)
		}
		if s.Flags.Telemetry {
			data := telemetry.Map()
			data["digest"] = Digest(args)
			data["dialect"] = s.Dialect.String()
			data["mode"] = prepared.Mode.String()
			s.Context.PublishTelemetry(TelemetryArea, TelemetryFeatureExpansion, data)
		}

		if prepared.Mode == ModeFileArgs {
			if err := s.writeScript(prepared, command, args, expanded, lookup, environment); err != nil {
				return nil, err
			}
			prepared.Arguments = ""
			return prepared, nil
		}
	}

	if prepared.Mode == ModeValidated {
		err := s.validate(args)
		var validationErr *execution.ArgumentValidationError
		if errors.As(err, &validationErr) {
			s.logger().Warn("arguments rejected", "reason", validationErr.Reason, "offset", validationErr.Offset)
			if s.Flags.Telemetry {
				s.Context.PublishTelemetry(TelemetryArea, TelemetryFeatureValidation, map[string]any{
					"rejected": true,
					"reason":   validationErr.Reason,
					"digest":   Digest(args),
				})
			}
			return nil, err
		}
	}
	return prepared, nil
}

// validate runs Validate, converting a panic or unexpected error into
// telemetry. Only an *execution.ArgumentValidationError is returned.
func (s *Sanitizer) validate(args string) (result error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		s.reportUnexpected(args, fmt.Errorf("panic: %v", recovered))
		result = nil
	}()

	validator := s.validator
	if validator == nil {
		validator = Validate
	}
	err := validator(args, s.Dialect)
	if err == nil {
		return nil
	}
	var validationErr *execution.ArgumentValidationError
	if errors.As(err, &validationErr) {
		return err
	}
	s.reportUnexpected(args, err)
	return nil
}

func (s *Sanitizer) reportUnexpected(args string, cause error) {
	unexpected := &execution.UnexpectedValidationError{Cause: cause}
	s.logger().Error("argument validation failed, continuing", "error", unexpected)
	s.Context.PublishTelemetry(TelemetryArea, TelemetryFeatureValidation, map[string]any{
		"errorKind": string(execution.KindUnexpectedValidation),
		"error":     unexpected.Error(),
		"digest":    Digest(args),
	})
}

// writeScript stores the arguments in private variables of the child
// environment and writes a script that passes them to command without
// letting the shell interpret them again. For cmd the expanded text is
// kept whole, since cmd passes a command line rather than a vector.
// For POSIX shells the raw text is split into words once, here, and
// each word is referenced quoted so the argument vector matches what
// inline mode would produce minus any evaluation.
func (s *Sanitizer) writeScript(prepared *Prepared, command, args, expanded string, lookup Lookup, environment *stepenv.Table) error {
	id := s.id()
	if s.Dialect == DialectCmd {
		prepared.Variables = []string{VariablePrefix + id}
		environment.Set(prepared.Variables[0], expanded)
	} else {
		for index, word := range SplitWords(args, lookup) {
			name := fmt.Sprintf("%s%s_%d", VariablePrefix, id, index)
			prepared.Variables = append(prepared.Variables, name)
			environment.Set(name, word)
		}
	}

	directory := s.TempDirectory
	if directory == "" {
		directory = s.Context.TempDirectory()
	}
	if directory == "" {
		directory = os.TempDir()
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating script directory: %w", err)
	}

	var name, content string
	if s.Dialect == DialectCmd {
		name = ScriptPrefix + id + ".cmd"
		content = "@echo off\r\nsetlocal EnableDelayedExpansion\r\n" +
			command + " !" + prepared.Variables[0] + "!\r\n" +
			"exit /b !ERRORLEVEL!\r\n"
	} else {
		name = ScriptPrefix + id + ".sh"
		var line strings.Builder
		line.WriteString(command)
		for _, variable := range prepared.Variables {
			line.WriteString(` "${` + variable + `}"`)
		}
		content = "#!/bin/sh\nset -f\n" + line.String() + "\n"
	}

	prepared.Script = filepath.Join(directory, name)
	if err := os.WriteFile(prepared.Script, []byte(content), 0o700); err != nil {
		return fmt.Errorf("writing file-args script: %w", err)
	}
	s.logger().Debug("generated file-args script", "path", prepared.Script, "words", len(prepared.Variables))
	return nil
}

func (s *Sanitizer) id() string {
	if s.newID != nil {
		return s.newID()
	}
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (s *Sanitizer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}
