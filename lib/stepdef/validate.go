// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stepdef

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks a Job for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the job is
// valid.
//
// Structural checks include:
//   - At least one step is required
//   - Step names are required and unique
//   - Handler must be process, script or container
//   - Process steps need a target; script steps need a script and no
//     target; container steps need exactly one of them and a job
//     container
//   - Timeout (when present) must be parseable by time.ParseDuration
//   - Variables, inputs and prepend directories must have names
func Validate(job *Job) []string {
	var issues []string

	if len(job.Steps) == 0 {
		issues = append(issues, "job has no steps (at least one step is required)")
	}

	stepNames := make(map[string]int, len(job.Steps))
	for index, step := range job.Steps {
		if step.Name == "" {
			continue
		}
		key := strings.ToLower(step.Name)
		if firstIndex, exists := stepNames[key]; exists {
			issues = append(issues, fmt.Sprintf(
				"steps[%d] %q: duplicate step name (first used at steps[%d])",
				index, step.Name, firstIndex,
			))
		} else {
			stepNames[key] = index
		}
	}

	for index, variable := range job.Variables {
		if strings.TrimSpace(variable.Name) == "" {
			issues = append(issues, fmt.Sprintf("variables[%d]: name is required", index))
		}
	}
	for index, directory := range job.PrependPath {
		if strings.TrimSpace(directory) == "" {
			issues = append(issues, fmt.Sprintf("prepend_path[%d]: directory is empty", index))
		}
	}
	if job.Container != nil && job.Container.ID == "" {
		issues = append(issues, "container.id is required when container is set")
	}

	for index, step := range job.Steps {
		prefix := fmt.Sprintf("steps[%d]", index)
		issues = append(issues, validateStep(job, step, prefix)...)
	}

	return issues
}

// validateStep checks a single step. The prefix identifies the step's
// position for error messages.
func validateStep(job *Job, step Step, prefix string) []string {
	var issues []string

	if step.Name == "" {
		issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
	} else {
		prefix = fmt.Sprintf("%s %q", prefix, step.Name)
	}

	hasTarget := strings.TrimSpace(step.Target) != ""
	hasScript := strings.TrimSpace(step.Script) != ""

	switch step.Kind() {
	case HandlerProcess:
		if !hasTarget {
			issues = append(issues, fmt.Sprintf("%s: target is required for process steps", prefix))
		}
		if hasScript {
			issues = append(issues, fmt.Sprintf("%s: script is only valid on script and container steps", prefix))
		}
	case HandlerScript:
		if !hasScript {
			issues = append(issues, fmt.Sprintf("%s: script is required for script steps", prefix))
		}
		if hasTarget {
			issues = append(issues, fmt.Sprintf("%s: target is not valid on script steps", prefix))
		}
	case HandlerContainer:
		if hasTarget == hasScript {
			issues = append(issues, fmt.Sprintf("%s: container steps must set exactly one of target or script", prefix))
		}
		if job.Container == nil {
			issues = append(issues, fmt.Sprintf("%s: container steps require a job container", prefix))
		}
		if step.ModifyEnvironment {
			issues = append(issues, fmt.Sprintf("%s: modify_environment is not supported on container steps", prefix))
		}
	default:
		issues = append(issues, fmt.Sprintf("%s: handler must be %q, %q or %q, got %q",
			prefix, HandlerProcess, HandlerScript, HandlerContainer, step.Handler))
	}

	if step.Arguments != "" && step.Kind() == HandlerScript {
		issues = append(issues, fmt.Sprintf("%s: arguments are not valid on script steps", prefix))
	}

	for name := range step.Inputs {
		if strings.TrimSpace(name) == "" {
			issues = append(issues, fmt.Sprintf("%s: inputs: empty input name", prefix))
		}
	}
	for index, variable := range step.TaskVariables {
		if strings.TrimSpace(variable.Name) == "" {
			issues = append(issues, fmt.Sprintf("%s: task_variables[%d]: name is required", prefix, index))
		}
	}

	if step.Timeout != "" {
		if duration, err := time.ParseDuration(step.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid timeout %q: %v", prefix, step.Timeout, err))
		} else if duration <= 0 {
			issues = append(issues, fmt.Sprintf("%s: timeout must be positive, got %q", prefix, step.Timeout))
		}
	}

	return issues
}
