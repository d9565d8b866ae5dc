// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/arguments"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steprun"
)

// ScriptPrefix starts the file name of inline step scripts.
const ScriptPrefix = "inlineScript_"

// ScriptHandler writes an inline script to the agent temp directory
// and runs it through the host shell. The file is removed when the
// step ends.
type ScriptHandler struct {
	input   Input
	runtime Runtime
}

func (h *ScriptHandler) sealed() {}

// Run writes and executes the step's script.
func (h *ScriptHandler) Run(ctx context.Context, step *execution.Context) (steprun.Outcome, error) {
	failed := steprun.Outcome{Result: execution.Failed}
	if step == nil || step.Job == nil {
		return failed, execution.Required("context")
	}
	if strings.TrimSpace(h.input.Step.Script) == "" {
		return failed, execution.Required("inputs.script")
	}

	path, err := writeScript(step, h.input.Step.Script, arguments.HostDialect())
	if err != nil {
		return failed, err
	}
	return execute(ctx, step, h.input, h.runtime, plan{
		command:          steprun.QuoteCommand(path),
		workingDirectory: h.input.Step.WorkingDirectory,
		dialect:          arguments.HostDialect(),
		cleanup: func() error {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("removing inline script: %w", err)
			}
			return nil
		},
	})
}

// writeScript stores body as an executable script for dialect.
func writeScript(step *execution.Context, body string, dialect arguments.Dialect) (string, error) {
	directory := step.TempDirectory()
	if directory == "" {
		directory = os.TempDir()
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("creating script directory: %w", err)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	var name, content string
	if dialect == arguments.DialectCmd {
		name = ScriptPrefix + id + ".cmd"
		lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
		content = "@echo off\r\n" + strings.Join(lines, "\r\n") + "\r\n"
	} else {
		name = ScriptPrefix + id + ".sh"
		content = body
		if !strings.HasPrefix(body, "#!") {
			content = "#!/bin/sh\n" + body
		}
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
	}

	path := filepath.Join(directory, name)
	if err := os.WriteFile(path, []byte(content), 0o700); err != nil {
		return "", fmt.Errorf("writing inline script: %w", err)
	}
	return path, nil
}
