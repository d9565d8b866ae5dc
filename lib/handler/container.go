// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"strings"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/arguments"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepenv"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steprun"
)

// ContainerShell runs the step command inside the container.
const ContainerShell = "sh"

// ContainerHandler runs a command or inline script inside the job
// container with "<runtime> exec". The step environment reaches the
// container by name only: each entry is passed as "-e KEY", and the
// runtime reads the value from its own environment, so values never
// appear on a command line.
//
// Arguments are written in POSIX syntax whatever the host. File-args
// mode is not used because a generated script on the host is not
// visible inside the container; validation and audit still apply.
type ContainerHandler struct {
	input   Input
	runtime Runtime
}

func (h *ContainerHandler) sealed() {}

// Run executes the step inside the job container.
func (h *ContainerHandler) Run(ctx context.Context, step *execution.Context) (steprun.Outcome, error) {
	failed := steprun.Outcome{Result: execution.Failed}
	if step == nil || step.Job == nil {
		return failed, execution.Required("context")
	}
	if step.Container == nil || step.Container.ID == "" {
		return failed, execution.Required("job.container")
	}
	definition := h.input.Step
	command := definition.Target
	if command == "" {
		command = definition.Script
	}
	if strings.TrimSpace(command) == "" {
		return failed, execution.Required("inputs.target")
	}
	if definition.ModifyEnvironment {
		return failed, &execution.ConfigurationError{
			Field:  "modify_environment",
			Reason: "not supported for container steps",
		}
	}

	target := *step.Container
	step.Target = &target

	flags := flagsFor(step.Settings)
	flags.SecureArguments = false

	return execute(ctx, step, h.input, h.runtime, plan{
		command: command,
		args:    definition.Arguments,
		dialect: arguments.DialectPosix,
		flags:   flags,
		wrap: func(invocation string, table *stepenv.Table) (string, string) {
			return h.runtime.containerRuntime(), execArguments(&target, invocation, table, definition.WorkingDirectory)
		},
	})
}

// execArguments builds the argument string of the exec call. The
// working directory inside the container is only set when the step
// names one; host paths mean nothing there.
func execArguments(target *execution.ContainerTarget, invocation string, table *stepenv.Table, directory string) string {
	if target.PrependPath != "" {
		invocation = `export PATH="` + target.PrependPath + `:$PATH"; ` + invocation
	}

	dialect := arguments.HostDialect()
	words := []string{"exec", "-i"}
	if directory != "" {
		words = append(words, "-w", quoteWord(directory, dialect))
	}
	for _, key := range table.Keys() {
		if strings.EqualFold(key, execution.PathVariable) {
			continue
		}
		words = append(words, "-e", quoteWord(key, dialect))
	}
	words = append(words, quoteWord(target.ID, dialect), ContainerShell, "-c", quoteWord(invocation, dialect))
	return strings.Join(words, " ")
}

// quoteWord quotes word for the host shell when it is not a plain
// word already.
func quoteWord(word string, dialect arguments.Dialect) string {
	if word != "" && strings.IndexFunc(word, needsQuoting) < 0 {
		return word
	}
	if dialect == arguments.DialectCmd {
		return `"` + strings.ReplaceAll(word, `"`, `\"`) + `"`
	}
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("_-./:=@+,", r)
}
