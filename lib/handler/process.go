// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/arguments"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steprun"
)

// ProcessHandler runs a command with an argument string through the
// host shell.
type ProcessHandler struct {
	input   Input
	runtime Runtime
}

func (h *ProcessHandler) sealed() {}

// Run executes the step's target.
func (h *ProcessHandler) Run(ctx context.Context, step *execution.Context) (steprun.Outcome, error) {
	definition := h.input.Step
	if definition.Target == "" {
		return steprun.Outcome{Result: execution.Failed}, execution.Required("inputs.target")
	}
	var flags arguments.Flags
	if step != nil {
		flags = flagsFor(step.Settings)
	}
	return execute(ctx, step, h.input, h.runtime, plan{
		command:          steprun.QuoteCommand(definition.Target),
		args:             definition.Arguments,
		workingDirectory: definition.WorkingDirectory,
		directoryTarget:  definition.Target,
		dialect:          arguments.HostDialect(),
		flags:            flags,
	})
}
