// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stepdef

import (
	"fmt"
	"time"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepenv"
)

// Handler kinds a step can name.
const (
	HandlerProcess   = "process"
	HandlerScript    = "script"
	HandlerContainer = "container"
)

// Job is a job definition: the shared state for its steps and the
// steps themselves, run in order.
type Job struct {
	// Name identifies the job in logs and telemetry. Defaults to the
	// file name without extension.
	Name string `json:"name,omitempty"`

	// Variables are job variables. Secret ones are exposed to steps as
	// SECRET_<NAME> and masked in the step log.
	Variables []execution.Variable `json:"variables,omitempty"`

	Endpoints   []stepenv.Endpoint   `json:"endpoints,omitempty"`
	SecureFiles []stepenv.SecureFile `json:"secure_files,omitempty"`

	// PrependPath lists directories put in front of PATH for every
	// step, in declaration order.
	PrependPath []string `json:"prepend_path,omitempty"`

	// Container is required by container steps.
	Container *Container `json:"container,omitempty"`

	Steps []Step `json:"steps"`
}

// Container names the container container steps run in.
type Container struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Step is one step of a job.
type Step struct {
	Name string `json:"name"`

	// Handler is one of "process" (the default), "script" or
	// "container".
	Handler string `json:"handler,omitempty"`

	// Target is the command a process or container step runs.
	Target string `json:"target,omitempty"`

	// Arguments is the raw argument string passed to Target.
	Arguments string `json:"arguments,omitempty"`

	// Script is the inline script body of a script step. A container
	// step may set Script instead of Target.
	Script string `json:"script,omitempty"`

	WorkingDirectory string `json:"working_directory,omitempty"`

	// TaskDirectory holds the default working directory when neither
	// WorkingDirectory nor an absolute Target resolves one.
	TaskDirectory string `json:"task_directory,omitempty"`

	// Inputs become INPUT_<NAME> entries.
	Inputs map[string]string `json:"inputs,omitempty"`

	// TaskVariables become VSTS_TASKVARIABLE_<NAME> entries.
	TaskVariables []execution.Variable `json:"task_variables,omitempty"`

	// FailOnStandardError fails the step when it writes to stderr
	// and no result was set by an embedded command.
	FailOnStandardError bool `json:"fail_on_standard_error,omitempty"`

	// ModifyEnvironment captures the environment the step leaves
	// behind and applies it to every later step.
	ModifyEnvironment bool `json:"modify_environment,omitempty"`

	// DisableInlineExecution stops arguments from being spliced into
	// the shell command line when secure arguments are enabled.
	DisableInlineExecution bool `json:"disable_inline_execution,omitempty"`

	// ExcludeVariableNames omits the VSTS_*_VARIABLES name lists.
	ExcludeVariableNames bool `json:"exclude_variable_names,omitempty"`

	// ExcludeSecrets omits SECRET_<NAME> entries.
	ExcludeSecrets bool `json:"exclude_secrets,omitempty"`

	// ContinueOnError lets the job go on after this step fails. The
	// step then counts as SucceededWithIssues.
	ContinueOnError bool `json:"continue_on_error,omitempty"`

	// Timeout cancels the step after this duration, in
	// time.ParseDuration syntax.
	Timeout string `json:"timeout,omitempty"`
}

// Kind returns the handler kind with the default applied.
func (s Step) Kind() string {
	if s.Handler == "" {
		return HandlerProcess
	}
	return s.Handler
}

// TimeoutDuration parses Timeout. Zero means no timeout.
func (s Step) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("step %q: invalid timeout %q: %w", s.Name, s.Timeout, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("step %q: timeout must be positive, got %q", s.Name, s.Timeout)
	}
	return duration, nil
}
