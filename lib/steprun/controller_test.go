// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steprun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/arguments"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/clock"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepenv"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/testutil"
)

// fakeProcess is an in-memory child. script runs when it starts and
// may write lines and finish; the signal hooks decide how it reacts
// to cancellation.
type fakeProcess struct {
	stdoutReader, stderrReader *io.PipeReader
	stdoutWriter, stderrWriter *io.PipeWriter

	exit       chan int
	finishOnce sync.Once

	mu    sync.Mutex
	calls []string

	onInterrupt func(*fakeProcess)
	onTerminate func(*fakeProcess)
	onKill      func(*fakeProcess) error
}

func newFakeProcess() *fakeProcess {
	process := &fakeProcess{exit: make(chan int, 1)}
	process.stdoutReader, process.stdoutWriter = io.Pipe()
	process.stderrReader, process.stderrWriter = io.Pipe()
	return process
}

func (p *fakeProcess) out(line string) { fmt.Fprintln(p.stdoutWriter, line) }
func (p *fakeProcess) err(line string) { fmt.Fprintln(p.stderrWriter, line) }

func (p *fakeProcess) finish(code int) {
	p.finishOnce.Do(func() {
		p.stdoutWriter.Close()
		p.stderrWriter.Close()
		p.exit <- code
	})
}

func (p *fakeProcess) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProcess) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProcess) PID() int              { return 4242 }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutReader }
func (p *fakeProcess) Stderr() io.ReadCloser { return p.stderrReader }

func (p *fakeProcess) Interrupt() error {
	p.record("interrupt")
	if p.onInterrupt != nil {
		p.onInterrupt(p)
	}
	return nil
}

func (p *fakeProcess) Terminate() error {
	p.record("terminate")
	if p.onTerminate != nil {
		p.onTerminate(p)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.record("kill")
	if p.onKill != nil {
		return p.onKill(p)
	}
	p.finish(-1)
	return nil
}

func (p *fakeProcess) Wait() (int, error) {
	return <-p.exit, nil
}

type fakeSpawner struct {
	process  *fakeProcess
	script   func(*fakeProcess)
	startErr error

	mu      sync.Mutex
	specs   []Spec
	started chan struct{}
}

func (s *fakeSpawner) Start(spec Spec) (Process, error) {
	s.mu.Lock()
	s.specs = append(s.specs, spec)
	s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	if s.script != nil {
		go s.script(s.process)
	}
	if s.started != nil {
		close(s.started)
	}
	return s.process, nil
}

// recorder is a LineHandler that counts every error line.
type recorder struct {
	mu      sync.Mutex
	output  []string
	errors  []string
	flushes int
}

func (r *recorder) OnOutput(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, line)
}

func (r *recorder) OnError(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, line)
}

func (r *recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

func (r *recorder) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func newTestStep() *execution.Context {
	job := execution.NewJob([]string{"HOME=/home/agent", "PATH=/usr/bin"})
	return job.NewStep("test", nil)
}

func newTestRequest() Request {
	table := stepenv.NewTable()
	table.Set("INPUT_NAME", "world")
	return Request{
		Target:           "echo",
		Arguments:        "hi",
		WorkingDirectory: "/work",
		Environment:      table,
		Shell:            "sh",
		Dialect:          arguments.DialectPosix,
		SigintTimeout:    7500 * time.Millisecond,
		SigtermTimeout:   2500 * time.Millisecond,
	}
}

type runResult struct {
	outcome Outcome
	err     error
}

func TestRun_ExitCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		script     func(*fakeProcess)
		preset     *execution.Result
		wantResult execution.Result
		wantErr    *execution.ExecutionError
	}{
		{
			name:       "exit zero without errors succeeds",
			script:     func(p *fakeProcess) { p.out("hello"); p.finish(0) },
			wantResult: execution.Succeeded,
		},
		{
			name:       "stderr with exit zero fails",
			script:     func(p *fakeProcess) { p.err("warning: bad"); p.finish(0) },
			wantResult: execution.Failed,
			wantErr:    &execution.ExecutionError{ExitCode: 0, ErrorCount: 1},
		},
		{
			name:       "non-zero exit fails",
			script:     func(p *fakeProcess) { p.finish(3) },
			wantResult: execution.Failed,
			wantErr:    &execution.ExecutionError{ExitCode: 3},
		},
		{
			name:       "preset result wins over error lines",
			script:     func(p *fakeProcess) { p.err("noise"); p.finish(0) },
			preset:     resultPointer(execution.SucceededWithIssues),
			wantResult: execution.SucceededWithIssues,
		},
		{
			name:       "preset result does not hide a non-zero exit",
			script:     func(p *fakeProcess) { p.finish(1) },
			preset:     resultPointer(execution.Succeeded),
			wantResult: execution.Failed,
			wantErr:    &execution.ExecutionError{ExitCode: 1},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			step := newTestStep()
			if test.preset != nil {
				step.SetResult(*test.preset)
			}
			spawner := &fakeSpawner{process: newFakeProcess(), script: test.script}
			controller := &Controller{Clock: clock.Fake(time.Unix(0, 0)), Spawner: spawner}
			lines := &recorder{}

			outcome, err := controller.Run(context.Background(), step, newTestRequest(), lines)

			if outcome.Result != test.wantResult {
				t.Errorf("Result = %s, want %s", outcome.Result, test.wantResult)
			}
			if test.wantErr == nil {
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
			} else {
				var executionErr *execution.ExecutionError
				if !errors.As(err, &executionErr) {
					t.Fatalf("expected ExecutionError, got %v", err)
				}
				if *executionErr != *test.wantErr {
					t.Errorf("error = %+v, want %+v", executionErr, test.wantErr)
				}
			}
			if lines.flushes != 1 {
				t.Errorf("Flush called %d times, want 1", lines.flushes)
			}
			if !slices.Equal(outcome.States, []State{Running, Exited}) {
				t.Errorf("States = %v", outcome.States)
			}
		})
	}
}

func resultPointer(result execution.Result) *execution.Result { return &result }

func TestRun_SpawnSpec(t *testing.T) {
	t.Parallel()

	step := newTestStep()
	step.Live.Apply("FROM_PREVIOUS_STEP", "yes")
	spawner := &fakeSpawner{process: newFakeProcess(), script: func(p *fakeProcess) { p.finish(0) }}
	controller := &Controller{Clock: clock.Fake(time.Unix(0, 0)), Spawner: spawner}

	request := newTestRequest()
	request.Environment.Set("HOME", "/override")
	request.Delimiter = "__DELIM__"
	if _, err := controller.Run(context.Background(), step, request, &recorder{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(spawner.specs) != 1 {
		t.Fatalf("expected exactly one spawn, got %d", len(spawner.specs))
	}
	spec := spawner.specs[0]
	wantArgs := []string{"sh", "-c", "echo hi; __agent_rc=$?; echo __DELIM__; env; exit $__agent_rc"}
	if !slices.Equal(spec.Args, wantArgs) {
		t.Errorf("Args = %q, want %q", spec.Args, wantArgs)
	}
	if spec.Dir != "/work" {
		t.Errorf("Dir = %q", spec.Dir)
	}
	for _, want := range []string{"HOME=/override", "PATH=/usr/bin", "FROM_PREVIOUS_STEP=yes", "INPUT_NAME=world"} {
		if !slices.Contains(spec.Env, want) {
			t.Errorf("environment missing %q: %v", want, spec.Env)
		}
	}
}

func TestRun_LinesReachHandler(t *testing.T) {
	t.Parallel()

	spawner := &fakeSpawner{process: newFakeProcess(), script: func(p *fakeProcess) {
		p.out("one")
		p.out("two\r")
		p.err("oops")
		p.finish(0)
	}}
	controller := &Controller{Clock: clock.Fake(time.Unix(0, 0)), Spawner: spawner}
	lines := &recorder{}
	step := newTestStep()
	step.SetResult(execution.Succeeded)

	if _, err := controller.Run(context.Background(), step, newTestRequest(), lines); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(lines.output, []string{"one", "two"}) {
		t.Errorf("output = %q", lines.output)
	}
	if !slices.Equal(lines.errors, []string{"oops"}) {
		t.Errorf("errors = %q", lines.errors)
	}
}

// runCanceled starts a run, waits for the spawn, and cancels it. The
// returned channel delivers the run's result.
func runCanceled(t *testing.T, controller *Controller, spawner *fakeSpawner, request Request) (<-chan runResult, *execution.Context) {
	t.Helper()
	spawner.started = make(chan struct{})
	step := newTestStep()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan runResult, 1)
	go func() {
		outcome, err := controller.Run(ctx, step, request, &recorder{})
		done <- runResult{outcome, err}
	}()
	testutil.RequireClosed(t, spawner.started, 5*time.Second, "process start")
	cancel()
	return done, step
}

func TestRun_CancelExitsDuringTerminateGrace(t *testing.T) {
	t.Parallel()

	process := newFakeProcess()
	process.onTerminate = func(p *fakeProcess) { p.finish(143) }
	spawner := &fakeSpawner{process: process}
	fakeClock := clock.Fake(time.Unix(0, 0))
	controller := &Controller{Clock: fakeClock, Spawner: spawner}
	request := newTestRequest()

	done, _ := runCanceled(t, controller, spawner, request)

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(request.SigintTimeout)
	result := testutil.RequireReceive(t, done, 5*time.Second, "run to finish")

	if execution.Classify(result.err) != execution.KindCanceled {
		t.Errorf("expected canceled error, got %v", result.err)
	}
	if result.outcome.Result != execution.Canceled {
		t.Errorf("Result = %s", result.outcome.Result)
	}
	wantStates := []State{Running, SignalSent, EscalatedSignalSent, Exited}
	if !slices.Equal(result.outcome.States, wantStates) {
		t.Errorf("States = %v, want %v", result.outcome.States, wantStates)
	}
	if calls := process.recorded(); !slices.Equal(calls, []string{"interrupt", "terminate"}) {
		t.Errorf("calls = %v; no tree kill expected", calls)
	}
}

func TestRun_CancelExitsOnInterrupt(t *testing.T) {
	t.Parallel()

	process := newFakeProcess()
	process.onInterrupt = func(p *fakeProcess) { p.finish(130) }
	spawner := &fakeSpawner{process: process}
	controller := &Controller{Clock: clock.Fake(time.Unix(0, 0)), Spawner: spawner}

	done, _ := runCanceled(t, controller, spawner, newTestRequest())
	result := testutil.RequireReceive(t, done, 5*time.Second, "run to finish")

	if !slices.Equal(result.outcome.States, []State{Running, SignalSent, Exited}) {
		t.Errorf("States = %v", result.outcome.States)
	}
	if result.outcome.ExitCode != 130 {
		t.Errorf("ExitCode = %d", result.outcome.ExitCode)
	}
}

func TestRun_CancelEscalatesToTreeKill(t *testing.T) {
	t.Parallel()

	process := newFakeProcess()
	spawner := &fakeSpawner{process: process}
	fakeClock := clock.Fake(time.Unix(0, 0))
	controller := &Controller{Clock: fakeClock, Spawner: spawner}
	request := newTestRequest()

	done, _ := runCanceled(t, controller, spawner, request)

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(request.SigintTimeout)
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(request.SigtermTimeout)
	result := testutil.RequireReceive(t, done, 5*time.Second, "run to finish")

	wantStates := []State{Running, SignalSent, EscalatedSignalSent, TreeKillAttempted, Exited}
	if !slices.Equal(result.outcome.States, wantStates) {
		t.Errorf("States = %v, want %v", result.outcome.States, wantStates)
	}
	if calls := process.recorded(); !slices.Equal(calls, []string{"interrupt", "terminate", "kill"}) {
		t.Errorf("calls = %v", calls)
	}
	if execution.Classify(result.err) != execution.KindCanceled {
		t.Errorf("expected canceled error, got %v", result.err)
	}
}

func TestRun_TreeKillFailure(t *testing.T) {
	t.Parallel()

	for _, continueAfterFailure := range []bool{false, true} {
		t.Run(fmt.Sprintf("continue=%v", continueAfterFailure), func(t *testing.T) {
			t.Parallel()
			process := newFakeProcess()
			process.onKill = func(*fakeProcess) error { return errors.New("operation not permitted") }
			t.Cleanup(func() { process.finish(-1) })
			spawner := &fakeSpawner{process: process}
			fakeClock := clock.Fake(time.Unix(0, 0))
			controller := &Controller{Clock: fakeClock, Spawner: spawner}
			request := newTestRequest()
			request.ContinueAfterKillFailure = continueAfterFailure

			done, step := runCanceled(t, controller, spawner, request)
			fakeClock.WaitForTimers(1)
			fakeClock.Advance(request.SigintTimeout)
			fakeClock.WaitForTimers(1)
			fakeClock.Advance(request.SigtermTimeout)
			result := testutil.RequireReceive(t, done, 5*time.Second, "run to finish")

			if slices.Contains(result.outcome.States, Exited) {
				t.Errorf("States = %v; process never exited", result.outcome.States)
			}
			kind := execution.Classify(result.err)
			if continueAfterFailure {
				if kind != execution.KindCanceled {
					t.Errorf("expected canceled error, got %v", result.err)
				}
				if len(step.Issues()) != 1 {
					t.Errorf("expected a warning for the kill failure, got %v", step.Issues())
				}
			} else if kind != execution.KindProcessTreeKill {
				t.Errorf("expected ProcessTreeKillError, got %v", result.err)
			}
		})
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	t.Parallel()

	spawner := &fakeSpawner{startErr: errors.New("exec format error")}
	controller := &Controller{Clock: clock.Fake(time.Unix(0, 0)), Spawner: spawner}
	outcome, err := controller.Run(context.Background(), newTestStep(), newTestRequest(), &recorder{})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if len(spawner.specs) != 1 {
		t.Errorf("spawn attempted %d times, want exactly 1", len(spawner.specs))
	}
	if outcome.Result != execution.Failed || len(outcome.States) != 0 {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing target", func(r *Request) { r.Target = "" }},
		{"missing environment", func(r *Request) { r.Environment = nil }},
		{"missing shell", func(r *Request) { r.Shell = "" }},
		{"missing directory", func(r *Request) { r.WorkingDirectory = "" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			spawner := &fakeSpawner{process: newFakeProcess()}
			controller := &Controller{Clock: clock.Fake(time.Unix(0, 0)), Spawner: spawner}
			request := newTestRequest()
			test.mutate(&request)

			_, err := controller.Run(context.Background(), newTestStep(), request, &recorder{})
			if !execution.IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if len(spawner.specs) != 0 {
				t.Error("process spawned despite configuration error")
			}
		})
	}
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	spawner := &fakeSpawner{process: newFakeProcess()}
	controller := &Controller{Clock: clock.Fake(time.Unix(0, 0)), Spawner: spawner}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := controller.Run(ctx, newTestStep(), newTestRequest(), &recorder{})
	if execution.Classify(err) != execution.KindCanceled || outcome.Result != execution.Canceled {
		t.Errorf("got %s, %v", outcome.Result, err)
	}
	if len(spawner.specs) != 0 {
		t.Error("process spawned after cancellation")
	}
}
