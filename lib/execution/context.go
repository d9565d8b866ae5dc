// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execution

import (
	"log/slog"
	"sync"
	"time"
)

// Default grace periods for cancellation. SIGINT first, then SIGTERM,
// then a forced kill of the process group.
const (
	DefaultSigintTimeout  = 7500 * time.Millisecond
	DefaultSigtermTimeout = 2500 * time.Millisecond
)

// IssueType distinguishes errors from warnings in the step log.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
)

// Issue is an error or warning recorded against a step.
type Issue struct {
	Type    IssueType
	Message string
}

// StepLog receives everything a step shows to the user. Implementations
// must be safe for concurrent use.
type StepLog interface {
	// Output writes one line of plain step output.
	Output(step, line string)
	// Issue writes an error or warning.
	Issue(step string, issue Issue)
	// AddMask registers a value that must never appear in the log.
	AddMask(value string)
}

// TelemetrySink receives structured telemetry. Implementations must be
// safe for concurrent use and must not block on slow storage for long.
type TelemetrySink interface {
	Publish(area, feature string, data map[string]any)
}

// Settings are the job-scoped knobs that govern process handling.
type Settings struct {
	// SecureArguments enables file-args mode when the step also sets
	// DisableInlineExecution.
	SecureArguments bool
	// SecureArgumentsAudit logs the expanded arguments without using
	// them.
	SecureArgumentsAudit bool
	// ArgumentValidation validates raw arguments before spawn instead
	// of rewriting them. Mutually exclusive with file-args mode.
	ArgumentValidation bool
	// ProcessTelemetry publishes argument expansion counts.
	ProcessTelemetry bool

	SigintTimeout  time.Duration
	SigtermTimeout time.Duration

	// ContinueAfterKillFailure keeps a step from failing solely because
	// the forced kill of its process tree failed.
	ContinueAfterKillFailure bool

	// Shell overrides the shell executable. Empty means resolve from
	// the environment.
	Shell string
}

// ContainerTarget describes a container the step runs inside.
type ContainerTarget struct {
	// ID is the container ID or name passed to docker exec.
	ID string
	// Name is the user-facing name.
	Name string
	// PrependPath is the joined PATH prefix for the container. Host
	// steps merge prepend directories into PATH directly; container
	// steps hand them to the container runtime through this field.
	PrependPath string
}

// Job is the state shared by every step of one job run.
type Job struct {
	Variables *Variables
	Live      *Live
	// Container is the job container. Container steps run in a copy
	// of it; see Context.Target.
	Container *ContainerTarget
	Settings  Settings
	Logger    *slog.Logger
	Telemetry TelemetrySink
	Log       StepLog

	mu          sync.Mutex
	prependPath []string
}

// NewJob returns a Job with empty variables, a Live seeded from
// environ, and discarding log and telemetry sinks. Callers replace the
// fields they need before starting steps.
func NewJob(environ []string) *Job {
	return &Job{
		Variables: NewVariables(),
		Live:      NewLive(environ),
		Settings: Settings{
			SigintTimeout:  DefaultSigintTimeout,
			SigtermTimeout: DefaultSigtermTimeout,
		},
		Logger:    slog.New(slog.DiscardHandler),
		Telemetry: discardTelemetry{},
		Log:       discardLog{},
	}
}

// PrependPath returns a copy of the directories registered for PATH
// prepending, in declaration order.
func (j *Job) PrependPath() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.prependPath...)
}

// AddPrependPath registers a directory to put in front of PATH for
// every later step.
func (j *Job) AddPrependPath(directory string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.prependPath = append(j.prependPath, directory)
}

// NewStep returns the per-step context for a step named name.
// taskVariables may be nil.
func (j *Job) NewStep(name string, taskVariables *Variables) *Context {
	if taskVariables == nil {
		taskVariables = NewVariables()
	}
	return &Context{
		Job:           j,
		StepName:      name,
		TaskVariables: taskVariables,
	}
}

// Context is the execution context of a single step.
type Context struct {
	*Job

	StepName      string
	TaskVariables *Variables

	// Target is the container the step runs in, nil for a step that
	// runs on the host.
	Target *ContainerTarget

	mu     sync.Mutex
	result *Result
	issues []Issue
}

// Output writes a line of plain output to the step log.
func (c *Context) Output(line string) {
	c.Log.Output(c.StepName, line)
}

// Warning records a warning issue.
func (c *Context) Warning(message string) {
	c.addIssue(Issue{Type: IssueWarning, Message: message})
}

// Error records an error issue.
func (c *Context) Error(message string) {
	c.addIssue(Issue{Type: IssueError, Message: message})
}

func (c *Context) addIssue(issue Issue) {
	c.mu.Lock()
	c.issues = append(c.issues, issue)
	c.mu.Unlock()
	c.Log.Issue(c.StepName, issue)
}

// Issues returns the issues recorded so far.
func (c *Context) Issues() []Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Issue(nil), c.issues...)
}

// SetResult records a result explicitly, typically from an embedded
// task.complete command. It takes precedence over failure derived from
// stderr output.
func (c *Context) SetResult(result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = &result
}

// Result returns the explicitly set result, if any.
func (c *Context) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return 0, false
	}
	return *c.result, true
}

// PublishTelemetry sends data to the job's telemetry sink.
func (c *Context) PublishTelemetry(area, feature string, data map[string]any) {
	c.Telemetry.Publish(area, feature, data)
}

// TempDirectory returns the agent temp directory from the job
// variables, or "" when unset.
func (c *Context) TempDirectory() string {
	return c.Variables.Get(TempDirectoryVariable)
}

type discardTelemetry struct{}

func (discardTelemetry) Publish(string, string, map[string]any) {}

type discardLog struct{}

func (discardLog) Output(string, string) {}
func (discardLog) Issue(string, Issue)   {}
func (discardLog) AddMask(string)        {}
