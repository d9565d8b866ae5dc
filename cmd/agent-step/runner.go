// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/agentcommand"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/clock"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/handler"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepdef"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steprun"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/version"
)

// Telemetry published by the runner.
const (
	telemetryArea           = "StepRunner"
	telemetryFeatureJob     = "JobStarted"
	telemetryFeatureStep    = "StepCompleted"
	telemetryFeatureSummary = "JobCompleted"
)

// runner executes the steps of one job in order. Every step shares
// the job's variables, live environment and prepend list, so a step
// sees what earlier steps exported or set.
type runner struct {
	settings         execution.Settings
	tempDirectory    string
	taskDirectory    string
	containerRuntime string

	// environ seeds the live environment.
	environ []string

	controller *steprun.Controller
	log        execution.StepLog
	telemetry  execution.TelemetrySink
	clock      clock.Clock
	logger     *slog.Logger
}

// stepReport is the outcome of one step.
type stepReport struct {
	Name     string
	Result   execution.Result
	ExitCode int
	Duration time.Duration
	Err      error
}

// jobReport is the outcome of a job.
type jobReport struct {
	Result execution.Result
	Steps  []stepReport
}

// run executes job. secrets are added to the job variables as secret
// variables and masked in the step log. The returned error reports a
// job that could not start; step failures are in the report.
func (r *runner) run(ctx context.Context, job *stepdef.Job, secrets []execution.Variable) (*jobReport, error) {
	if issues := stepdef.Validate(job); len(issues) > 0 {
		return nil, fmt.Errorf("job %q has validation errors:\n  %s", job.Name, strings.Join(issues, "\n  "))
	}

	state := r.newJob(job, secrets)
	commands := agentcommand.NewProcessor(r.logger)
	runtime := handler.Runtime{
		Controller:       r.controller,
		Commands:         commands,
		Logger:           r.logger,
		ContainerRuntime: r.containerRuntime,
	}

	data := version.Fields()
	data["job"] = job.Name
	data["steps"] = len(job.Steps)
	r.telemetry.Publish(telemetryArea, telemetryFeatureJob, data)

	report := &jobReport{Result: execution.Succeeded}
	for _, definition := range job.Steps {
		if report.Result == execution.Failed || report.Result == execution.Canceled {
			report.Steps = append(report.Steps, stepReport{Name: definition.Name, Result: execution.Skipped})
			r.logger.Info("step skipped", "step", definition.Name, "job_result", report.Result.String())
			continue
		}

		step := r.runStep(ctx, state, job, definition, runtime)
		report.Steps = append(report.Steps, step)
		report.Result = execution.Merge(report.Result, step.Result)
		state.Variables.Set(execution.Variable{Name: execution.JobStatusVariable, Value: report.Result.String()})
	}

	r.telemetry.Publish(telemetryArea, telemetryFeatureSummary, map[string]any{
		"job":    job.Name,
		"result": report.Result.String(),
	})
	return report, nil
}

// newJob builds the execution state shared by every step.
func (r *runner) newJob(job *stepdef.Job, secrets []execution.Variable) *execution.Job {
	state := execution.NewJob(r.environ)
	state.Live.Set(execution.BuildMarkerVariable, "True")
	state.Settings = r.settings
	state.Logger = r.logger
	state.Log = r.log
	state.Telemetry = r.telemetry

	for _, variable := range job.Variables {
		state.Variables.Set(variable)
	}
	for _, variable := range secrets {
		variable.Secret = true
		state.Variables.Set(variable)
	}
	for _, value := range state.Variables.SecretValues() {
		r.log.AddMask(value)
	}
	if r.tempDirectory != "" {
		state.Variables.Set(execution.Variable{Name: execution.TempDirectoryVariable, Value: r.tempDirectory})
	}
	state.Variables.Set(execution.Variable{Name: execution.JobStatusVariable, Value: execution.Succeeded.String()})

	for _, directory := range job.PrependPath {
		state.AddPrependPath(directory)
	}
	if job.Container != nil {
		state.Container = &execution.ContainerTarget{ID: job.Container.ID, Name: job.Container.Name}
	}
	return state
}

func (r *runner) runStep(ctx context.Context, state *execution.Job, job *stepdef.Job, definition stepdef.Step, runtime handler.Runtime) stepReport {
	report := stepReport{Name: definition.Name, Result: execution.Failed}
	logger := r.logger.With("step", definition.Name)

	if definition.TaskDirectory == "" {
		definition.TaskDirectory = r.taskDirectory
	}
	var taskVariables *execution.Variables
	if len(definition.TaskVariables) > 0 {
		taskVariables = execution.NewVariables(definition.TaskVariables...)
		for _, value := range taskVariables.SecretValues() {
			r.log.AddMask(value)
		}
	}
	step := state.NewStep(definition.Name, taskVariables)

	stepHandler, err := handler.New(handler.Input{
		Step:        definition,
		Endpoints:   job.Endpoints,
		SecureFiles: job.SecureFiles,
	}, runtime)
	if err != nil {
		step.Error(err.Error())
		report.Err = err
		return report
	}

	stepContext, cancel := context.WithCancel(ctx)
	defer cancel()
	timeout, err := definition.TimeoutDuration()
	if err != nil {
		step.Error(err.Error())
		report.Err = err
		return report
	}
	var timedOut atomic.Bool
	if timeout > 0 {
		timer := r.clock.AfterFunc(timeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	started := r.clock.Now()
	logger.Info("step starting", "handler", definition.Kind())
	outcome, err := stepHandler.Run(stepContext, step)
	report.Duration = r.clock.Now().Sub(started)
	report.ExitCode = outcome.ExitCode
	report.Result = outcome.Result
	report.Err = err

	switch {
	case err == nil:
	case timedOut.Load() && ctx.Err() == nil:
		report.Result = execution.Failed
		step.Error(fmt.Sprintf("The step exceeded its timeout of %s and was stopped.", timeout))
	case errors.Is(err, context.Canceled):
		report.Result = execution.Canceled
	default:
		step.Error(err.Error())
		if report.Result == execution.Succeeded || report.Result == execution.SucceededWithIssues {
			report.Result = execution.Failed
		}
	}
	if report.Result == execution.Failed && definition.ContinueOnError {
		logger.Info("step failed, continuing on error")
		report.Result = execution.SucceededWithIssues
	}

	logger.Info("step finished",
		"result", report.Result.String(),
		"exit_code", report.ExitCode,
		"duration", report.Duration,
		"error_kind", string(execution.Classify(err)))
	step.PublishTelemetry(telemetryArea, telemetryFeatureStep, map[string]any{
		"step":       definition.Name,
		"handler":    definition.Kind(),
		"result":     report.Result.String(),
		"exitCode":   report.ExitCode,
		"durationMs": report.Duration.Milliseconds(),
		"errorKind":  string(execution.Classify(err)),
	})
	return report
}
