// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stepoutput

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
)

// CommandProcessor recognizes embedded commands in output lines. A
// line it handles is consumed and never written to the step log.
type CommandProcessor interface {
	TryProcessCommand(step *execution.Context, line string) bool
}

// Config selects the optional behaviors of an Interceptor.
type Config struct {
	// Commands interprets embedded commands. Nil disables command
	// interpretation.
	Commands CommandProcessor

	// Delimiter starts the environment dump. Empty disables diff
	// capture.
	Delimiter string

	// PrivatePrefixes names keys that exist only for the child, such
	// as generated argument variables. Dumped keys starting with one of
	// them, compared case-insensitively, are never captured.
	PrivatePrefixes []string

	// FailOnStandardError reports buffered error lines as step errors
	// and counts them. When false they are forwarded as plain output.
	FailOnStandardError bool

	Logger *slog.Logger
}

// Interceptor is the per-run output state machine. It implements
// steprun.LineHandler and is safe for concurrent use.
type Interceptor struct {
	step   *execution.Context
	config Config
	logger *slog.Logger

	mu            sync.Mutex
	inDiffCapture bool
	errorBuffer   []string
	errorCount    int
	applied       int
}

// New returns an Interceptor for one run of step.
func New(step *execution.Context, config Config) *Interceptor {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Interceptor{step: step, config: config, logger: logger}
}

// OnError buffers a line from the error stream. Buffered lines surface
// at the next output line or at Flush.
func (i *Interceptor) OnError(line string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.errorBuffer = append(i.errorBuffer, line)
}

// OnOutput handles a line from the output stream. Pending error lines
// are flushed first so they keep their position relative to output.
func (i *Interceptor) OnOutput(line string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.flushLocked()
	if i.inDiffCapture {
		i.captureLocked(line)
		return
	}
	if i.config.Delimiter != "" && strings.HasPrefix(line, i.config.Delimiter) {
		i.inDiffCapture = true
		i.logger.Debug("environment capture started", "step", i.step.StepName)
		return
	}
	if i.config.Commands != nil && i.config.Commands.TryProcessCommand(i.step, line) {
		return
	}
	i.step.Output(line)
}

// Flush surfaces any buffered error lines. It is called once when the
// process has exited.
func (i *Interceptor) Flush() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.flushLocked()
	if i.inDiffCapture {
		i.logger.Debug("environment capture finished", "step", i.step.StepName, "applied", i.applied)
	}
}

// ErrorCount returns the number of aggregated error events reported.
func (i *Interceptor) ErrorCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.errorCount
}

// InDiffCapture reports whether the delimiter has been seen.
func (i *Interceptor) InDiffCapture() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.inDiffCapture
}

func (i *Interceptor) flushLocked() {
	if len(i.errorBuffer) == 0 {
		return
	}
	if i.config.FailOnStandardError {
		i.step.Error(ansi.Strip(strings.Join(i.errorBuffer, "\n")))
		i.errorCount++
	} else {
		for _, line := range i.errorBuffer {
			i.step.Output(line)
		}
	}
	i.errorBuffer = i.errorBuffer[:0]
}

// captureLocked applies one KEY=VALUE line of the environment dump to
// the live environment. The dump is newline separated, so a multi-line
// value arrives as several lines: only its first line is kept, a
// continuation line without "=" is dropped, and a continuation line
// that contains "=" is applied as a key of its own.
func (i *Interceptor) captureLocked(line string) {
	key, value, found := strings.Cut(line, "=")
	if !found || key == "" {
		return
	}
	if i.private(key) {
		i.logger.Debug("ignored private environment key", "step", i.step.StepName, "key", key)
		return
	}
	if !i.step.Live.Apply(key, value) {
		i.logger.Debug("ignored protected environment key", "step", i.step.StepName, "key", key)
		return
	}
	i.applied++
}

func (i *Interceptor) private(key string) bool {
	for _, prefix := range i.config.PrivatePrefixes {
		if len(key) >= len(prefix) && strings.EqualFold(key[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}
