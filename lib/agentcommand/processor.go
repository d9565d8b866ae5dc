// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentcommand

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
)

// Handler executes one kind of command against a step.
type Handler func(step *execution.Context, command Command) error

// Processor dispatches embedded commands found in step output. It
// implements stepoutput.CommandProcessor.
type Processor struct {
	logger   *slog.Logger
	handlers map[string]Handler
}

// NewProcessor returns a Processor with the built-in task commands
// registered.
func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	processor := &Processor{logger: logger, handlers: make(map[string]Handler)}
	processor.Register("task.setvariable", setVariable)
	processor.Register("task.setsecret", setSecret)
	processor.Register("task.complete", complete)
	processor.Register("task.logissue", logIssue)
	processor.Register("task.prependpath", prependPath)
	return processor
}

// Register installs handler for the command named "area.event",
// replacing any existing handler.
func (p *Processor) Register(name string, handler Handler) {
	p.handlers[strings.ToLower(name)] = handler
}

// TryProcessCommand handles line when it is an embedded command. Lines
// with the command prefix are always consumed: a malformed or unknown
// command becomes a step warning instead of log output.
func (p *Processor) TryProcessCommand(step *execution.Context, line string) bool {
	command, ok, err := Parse(line)
	if !ok {
		return false
	}
	if err != nil {
		step.Warning(err.Error())
		return true
	}
	handler, exists := p.handlers[command.Name()]
	if !exists {
		step.Warning(fmt.Sprintf("unknown command %q", command.Name()))
		return true
	}
	if err := handler(step, command); err != nil {
		step.Warning(fmt.Sprintf("%s: %v", command.Name(), err))
		return true
	}
	p.logger.Debug("processed command", "step", step.StepName, "command", command.Name())
	return true
}

// setVariable sets a job variable visible to later steps. Secret
// values are masked from the moment they are set.
func setVariable(step *execution.Context, command Command) error {
	name := strings.TrimSpace(command.Properties["variable"])
	if name == "" {
		return fmt.Errorf("missing variable name")
	}
	secret, err := parseBool(command.Properties["issecret"])
	if err != nil {
		return fmt.Errorf("issecret: %w", err)
	}
	if secret && command.Data != "" {
		step.Log.AddMask(command.Data)
	}
	step.Variables.Set(execution.Variable{
		Name:         name,
		Value:        command.Data,
		Secret:       secret,
		PreserveCase: true,
	})
	return nil
}

func setSecret(step *execution.Context, command Command) error {
	if command.Data == "" {
		return fmt.Errorf("missing secret value")
	}
	step.Log.AddMask(command.Data)
	return nil
}

// complete records the step result. It takes precedence over failure
// derived from error output.
func complete(step *execution.Context, command Command) error {
	result := execution.Succeeded
	if name := command.Properties["result"]; name != "" {
		parsed, err := execution.ParseResult(name)
		if err != nil {
			return err
		}
		result = parsed
	}
	switch result {
	case execution.Succeeded, execution.SucceededWithIssues, execution.Failed:
	default:
		return fmt.Errorf("result %s cannot be set by a step", result)
	}
	step.SetResult(result)
	if command.Data != "" {
		step.Output(command.Data)
	}
	return nil
}

func logIssue(step *execution.Context, command Command) error {
	switch execution.IssueType(strings.ToLower(command.Properties["type"])) {
	case execution.IssueError:
		step.Error(command.Data)
	case execution.IssueWarning:
		step.Warning(command.Data)
	default:
		return fmt.Errorf("issue type %q must be error or warning", command.Properties["type"])
	}
	return nil
}

func prependPath(step *execution.Context, command Command) error {
	directory := strings.TrimSpace(command.Data)
	if directory == "" {
		return fmt.Errorf("missing directory")
	}
	step.AddPrependPath(directory)
	return nil
}

func parseBool(text string) (bool, error) {
	if text == "" {
		return false, nil
	}
	return strconv.ParseBool(text)
}
