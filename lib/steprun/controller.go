// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steprun

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/arguments"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/clock"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepenv"
)

// DefaultDrainTimeout bounds how long output is still read after the
// child exits. A background process that inherited the streams can
// otherwise hold them open forever.
const DefaultDrainTimeout = 5 * time.Second

// Request is everything needed to run one step's process.
type Request struct {
	// Target is the command text, already quoted with QuoteCommand.
	Target    string
	Arguments string
	// GeneratedScript replaces Target and Arguments in file-args mode.
	GeneratedScript string

	WorkingDirectory string
	Environment      *stepenv.Table
	Shell            string
	Dialect          arguments.Dialect

	// Delimiter enables environment diff capture when set. The same
	// token must be given to the output handler.
	Delimiter string

	ContinueAfterKillFailure bool
	SigintTimeout            time.Duration
	SigtermTimeout           time.Duration
}

// LineHandler consumes the child's output. OnOutput and OnError are
// never called concurrently. Flush is called once after the last line.
type LineHandler interface {
	OnOutput(line string)
	OnError(line string)
	Flush()
	ErrorCount() int
}

// State is a stage of a process run.
type State int

const (
	Running State = iota
	SignalSent
	EscalatedSignalSent
	TreeKillAttempted
	Exited
)

var stateNames = []string{
	Running:             "Running",
	SignalSent:          "SignalSent",
	EscalatedSignalSent: "EscalatedSignalSent",
	TreeKillAttempted:   "TreeKillAttempted",
	Exited:              "Exited",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome describes a finished run.
type Outcome struct {
	PID        int
	ExitCode   int
	ErrorCount int
	Result     execution.Result
	// States lists every stage the run passed through, in order.
	States []State
}

// Controller spawns step processes and drives their cancellation.
type Controller struct {
	Clock        clock.Clock
	Spawner      Spawner
	Logger       *slog.Logger
	DrainTimeout time.Duration
}

// NewController returns a Controller that starts real processes.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		Clock:        clock.Real(),
		Spawner:      ExecSpawner{},
		Logger:       logger,
		DrainTimeout: DefaultDrainTimeout,
	}
}

type exitStatus struct {
	code int
	err  error
}

// Run starts exactly one child for request, streams its output into
// lines, and waits for it to exit. Cancelling ctx starts the
// interrupt, terminate, kill escalation.
//
// The returned error is nil on success, an *execution.ExecutionError
// for a failing process, an *execution.ProcessTreeKillError when the
// forced kill failed, or a wrapped ctx.Err() when the run was
// cancelled. A spawn failure is returned as is; it is never retried.
func (c *Controller) Run(ctx context.Context, step *execution.Context, request Request, lines LineHandler) (Outcome, error) {
	outcome := Outcome{Result: execution.Failed}
	if err := validate(step, request, lines); err != nil {
		return outcome, err
	}
	if err := ctx.Err(); err != nil {
		outcome.Result = execution.Canceled
		return outcome, fmt.Errorf("step canceled before start: %w", err)
	}

	invocation := BuildInvocation(request.Target, request.Arguments, request.GeneratedScript, request.Delimiter, request.Dialect)
	argv, commandLine := shellSpec(request.Shell, invocation, request.Dialect)
	spec := Spec{
		Path:        request.Shell,
		Args:        argv,
		CommandLine: commandLine,
		Dir:         request.WorkingDirectory,
		Env:         childEnvironment(step.Live, request.Environment),
	}

	logger := c.logger().With("step", step.StepName)
	process, err := c.spawner().Start(spec)
	if err != nil {
		return outcome, err
	}
	outcome.PID = process.PID()
	outcome.States = append(outcome.States, Running)
	logger.Info("process started", "pid", outcome.PID, "shell", request.Shell, "directory", request.WorkingDirectory)

	pumpDone := pump(process, lines)

	exited := make(chan exitStatus, 1)
	go func() {
		code, err := process.Wait()
		exited <- exitStatus{code: code, err: err}
	}()

	var (
		status   exitStatus
		gone     = true
		canceled bool
		killErr  error
	)
	select {
	case status = <-exited:
	case <-ctx.Done():
		canceled = true
		logger.Info("cancellation requested", "pid", outcome.PID)
		status, gone, killErr = c.escalate(process, exited, request, &outcome, logger)
	}
	if gone {
		outcome.States = append(outcome.States, Exited)
	}
	c.drain(process, pumpDone, gone, logger)

	lines.Flush()
	outcome.ExitCode = status.code
	outcome.ErrorCount = lines.ErrorCount()

	if canceled {
		outcome.Result = execution.Canceled
		if killErr != nil {
			if !request.ContinueAfterKillFailure {
				return outcome, killErr
			}
			logger.Warn("process tree kill failed, continuing", "error", killErr)
			step.Warning(killErr.Error())
		}
		return outcome, fmt.Errorf("step canceled: %w", ctx.Err())
	}
	if status.err != nil {
		return outcome, fmt.Errorf("waiting for process %d: %w", outcome.PID, status.err)
	}

	logger.Info("process exited", "pid", outcome.PID, "exit_code", status.code, "error_lines", outcome.ErrorCount)
	preset, hasPreset := step.Result()
	switch {
	case outcome.ErrorCount > 0 && !hasPreset:
		return outcome, &execution.ExecutionError{ExitCode: status.code, ErrorCount: outcome.ErrorCount}
	case status.code != 0:
		return outcome, &execution.ExecutionError{ExitCode: status.code}
	case hasPreset:
		outcome.Result = preset
	default:
		outcome.Result = execution.Succeeded
	}
	return outcome, nil
}

// escalate walks the cancellation state machine. gone is false only
// when the forced kill failed and the process may still be running.
func (c *Controller) escalate(process Process, exited <-chan exitStatus, request Request, outcome *Outcome, logger *slog.Logger) (exitStatus, bool, error) {
	stages := []struct {
		state   State
		send    func() error
		timeout time.Duration
	}{
		{SignalSent, process.Interrupt, request.SigintTimeout},
		{EscalatedSignalSent, process.Terminate, request.SigtermTimeout},
	}
	for _, stage := range stages {
		outcome.States = append(outcome.States, stage.state)
		if err := stage.send(); err != nil {
			logger.Warn("signal delivery failed, escalating", "state", stage.state.String(), "error", err)
			continue
		}
		select {
		case status := <-exited:
			return status, true, nil
		case <-c.clock().After(stage.timeout):
		}
	}

	outcome.States = append(outcome.States, TreeKillAttempted)
	logger.Warn("process outlived grace periods, killing process tree", "pid", process.PID())
	if err := process.Kill(); err != nil {
		return exitStatus{code: -1}, false, &execution.ProcessTreeKillError{PID: process.PID(), Cause: err}
	}
	return <-exited, true, nil
}

// drain waits for the line pump. Output that is still open once the
// drain timeout passes, or once the process could not be killed, is
// abandoned.
func (c *Controller) drain(process Process, pumpDone <-chan struct{}, gone bool, logger *slog.Logger) {
	if gone {
		timeout := c.DrainTimeout
		if timeout <= 0 {
			timeout = DefaultDrainTimeout
		}
		select {
		case <-pumpDone:
			return
		case <-c.clock().After(timeout):
			logger.Warn("output streams still open after exit, closing", "pid", process.PID())
		}
	}
	process.Stdout().Close()
	process.Stderr().Close()
	<-pumpDone
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

func (c *Controller) clock() clock.Clock {
	if c.Clock == nil {
		return clock.Real()
	}
	return c.Clock
}

func (c *Controller) spawner() Spawner {
	if c.Spawner == nil {
		return ExecSpawner{}
	}
	return c.Spawner
}

func validate(step *execution.Context, request Request, lines LineHandler) error {
	switch {
	case step == nil || step.Job == nil:
		return execution.Required("context")
	case lines == nil:
		return execution.Required("output handler")
	case request.Target == "" && request.GeneratedScript == "":
		return execution.Required("target")
	case request.Environment == nil:
		return execution.Required("environment")
	case request.Shell == "":
		return execution.Required("shell")
	case request.WorkingDirectory == "":
		return execution.Required("working directory")
	}
	return nil
}

// childEnvironment overlays the step table on the live environment.
func childEnvironment(live *execution.Live, table *stepenv.Table) []string {
	merged := stepenv.NewTable()
	if live != nil {
		for _, entry := range live.Environ() {
			key, value, _ := strings.Cut(entry, "=")
			merged.Set(key, value)
		}
	}
	for _, key := range table.Keys() {
		merged.Set(key, table.Get(key))
	}
	return merged.Environ()
}

type stream int

const (
	streamOutput stream = iota
	streamError
)

type lineEvent struct {
	stream stream
	text   string
}

// pump reads both streams line by line into a single queue consumed
// by one goroutine, so lines never reach the handler concurrently. The
// returned channel closes after the last line has been handled.
func pump(process Process, lines LineHandler) <-chan struct{} {
	events := make(chan lineEvent, 64)
	var readers sync.WaitGroup
	readers.Add(2)
	go readLines(process.Stdout(), streamOutput, events, &readers)
	go readLines(process.Stderr(), streamError, events, &readers)
	go func() {
		readers.Wait()
		close(events)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range events {
			if event.stream == streamError {
				lines.OnError(event.text)
			} else {
				lines.OnOutput(event.text)
			}
		}
	}()
	return done
}

// readLines has no line length limit: a child blocked on a full pipe
// because the reader gave up would never exit.
func readLines(reader io.Reader, source stream, events chan<- lineEvent, readers *sync.WaitGroup) {
	defer readers.Done()
	buffered := bufio.NewReader(reader)
	for {
		line, err := buffered.ReadString('\n')
		if line != "" {
			events <- lineEvent{stream: source, text: strings.TrimRight(line, "\r\n")}
		}
		if err != nil {
			return
		}
	}
}
