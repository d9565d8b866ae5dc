// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/arguments"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepdef"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepenv"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepoutput"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steprun"
)

// Handler runs one step. The set of implementations is closed:
// ProcessHandler, ScriptHandler and ContainerHandler.
type Handler interface {
	// Run executes the step in step's context and returns how its
	// process ended. The error classifies a failure; see
	// execution.Classify.
	Run(ctx context.Context, step *execution.Context) (steprun.Outcome, error)

	sealed()
}

// Input is the job data a handler needs besides the step definition.
type Input struct {
	Step        stepdef.Step
	Endpoints   []stepenv.Endpoint
	SecureFiles []stepenv.SecureFile
}

// Runtime holds the collaborators shared by every handler of a job.
type Runtime struct {
	Controller *steprun.Controller
	Commands   stepoutput.CommandProcessor
	Logger     *slog.Logger

	// Getenv resolves shell overrides. Defaults to os.Getenv.
	Getenv func(string) string

	// ContainerRuntime is the executable container steps call.
	// Defaults to "docker".
	ContainerRuntime string
}

// New returns the handler for input.Step's kind.
func New(input Input, runtime Runtime) (Handler, error) {
	switch input.Step.Kind() {
	case stepdef.HandlerProcess:
		return &ProcessHandler{input: input, runtime: runtime}, nil
	case stepdef.HandlerScript:
		return &ScriptHandler{input: input, runtime: runtime}, nil
	case stepdef.HandlerContainer:
		return &ContainerHandler{input: input, runtime: runtime}, nil
	default:
		return nil, &execution.ConfigurationError{
			Field:  "handler",
			Reason: fmt.Sprintf("unknown handler %q", input.Step.Handler),
		}
	}
}

// plan is what a variant contributes to the shared run sequence.
type plan struct {
	// command is the quoted command the shell runs, and args its raw
	// argument string before sanitizing.
	command string
	args    string

	// workingDirectory is the explicit host directory, if any, and
	// directoryTarget the path consulted when it is empty.
	workingDirectory string
	directoryTarget  string

	// dialect is the syntax the arguments are written in. It differs
	// from the host's for container steps.
	dialect arguments.Dialect
	flags   arguments.Flags

	// wrap rewrites the sanitized invocation, for example to run it
	// inside a container. Nil leaves it unchanged.
	wrap func(invocation string, table *stepenv.Table) (command, args string)

	// cleanup runs after the process has exited.
	cleanup func() error
}

// execute is the sequence every handler shares: validate, assemble the
// environment, sanitize the arguments, then run the process through
// the controller with an output interceptor.
func execute(ctx context.Context, step *execution.Context, input Input, runtime Runtime, p plan) (steprun.Outcome, error) {
	outcome := steprun.Outcome{Result: execution.Failed}
	if step == nil || step.Job == nil {
		return outcome, execution.Required("context")
	}
	if p.cleanup != nil {
		defer func() {
			if err := p.cleanup(); err != nil {
				logger(step, runtime).Warn("step cleanup failed", "step", step.StepName, "error", err)
			}
		}()
	}
	definition := input.Step

	table, err := assemble(step, input)
	if err != nil {
		return outcome, err
	}

	directory, err := steprun.ResolveWorkingDirectory(p.workingDirectory, p.directoryTarget, definition.TaskDirectory)
	if err != nil {
		return outcome, err
	}

	shell := step.Settings.Shell
	if shell == "" {
		shell = steprun.ResolveShell(runtime.getenv())
	}

	prepared := &arguments.Prepared{Mode: arguments.ModeInline}
	if p.args != "" {
		sanitizer := &arguments.Sanitizer{
			Flags:   p.flags,
			Dialect: p.dialect,
			Context: step,
			Logger:  logger(step, runtime),
		}
		prepared, err = sanitizer.Prepare(p.command, p.args, table, definition.DisableInlineExecution)
		if err != nil {
			return outcome, err
		}
		defer func() {
			if err := prepared.Cleanup(); err != nil {
				logger(step, runtime).Warn("removing generated script failed", "error", err)
			}
		}()
	}

	request := steprun.Request{
		Target:                   p.command,
		Arguments:                prepared.Arguments,
		GeneratedScript:          prepared.Script,
		WorkingDirectory:         directory,
		Environment:              table,
		Shell:                    shell,
		Dialect:                  arguments.HostDialect(),
		ContinueAfterKillFailure: step.Settings.ContinueAfterKillFailure,
		SigintTimeout:            step.Settings.SigintTimeout,
		SigtermTimeout:           step.Settings.SigtermTimeout,
	}
	if p.wrap != nil {
		invocation := steprun.BuildInvocation(request.Target, request.Arguments, request.GeneratedScript, "", p.dialect)
		request.Target, request.Arguments = p.wrap(invocation, table)
		request.GeneratedScript = ""
	}
	if definition.ModifyEnvironment {
		request.Delimiter = steprun.NewDelimiter()
	}

	interceptor := stepoutput.New(step, stepoutput.Config{
		Commands:            runtime.Commands,
		Delimiter:           request.Delimiter,
		PrivatePrefixes:     []string{arguments.VariablePrefix},
		FailOnStandardError: definition.FailOnStandardError,
		Logger:              logger(step, runtime),
	})
	return runtime.controller(step).Run(ctx, step, request, interceptor)
}

// assemble builds the step environment in the order later entries
// depend on: PATH is merged last so it sees every earlier entry.
func assemble(step *execution.Context, input Input) (*stepenv.Table, error) {
	assembler := stepenv.NewAssembler(step)
	definition := input.Step
	steps := []func() error{
		func() error { return assembler.AddEndpoints(input.Endpoints) },
		func() error { return assembler.AddSecureFiles(input.SecureFiles) },
		func() error { return assembler.AddInputs(definition.Inputs) },
		func() error {
			return assembler.AddVariables(definition.ExcludeVariableNames, definition.ExcludeSecrets)
		},
		assembler.AddTaskVariables,
		assembler.AddPrependPath,
	}
	for _, add := range steps {
		if err := add(); err != nil {
			return nil, err
		}
	}
	return assembler.Table, nil
}

// flagsFor maps the job settings onto sanitizer flags.
func flagsFor(settings execution.Settings) arguments.Flags {
	return arguments.Flags{
		SecureArguments:      settings.SecureArguments,
		SecureArgumentsAudit: settings.SecureArgumentsAudit,
		NewLogic:             settings.ArgumentValidation,
		Telemetry:            settings.ProcessTelemetry,
	}
}

func logger(step *execution.Context, runtime Runtime) *slog.Logger {
	if runtime.Logger != nil {
		return runtime.Logger
	}
	if step != nil && step.Logger != nil {
		return step.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (r Runtime) controller(step *execution.Context) *steprun.Controller {
	if r.Controller != nil {
		return r.Controller
	}
	return steprun.NewController(logger(step, r))
}

func (r Runtime) getenv() func(string) string {
	if r.Getenv != nil {
		return r.Getenv
	}
	return os.Getenv
}

func (r Runtime) containerRuntime() string {
	if r.ContainerRuntime != "" {
		return r.ContainerRuntime
	}
	return "docker"
}
