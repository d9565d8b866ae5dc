// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steplog

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/clock"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
)

// TimestampFormat prefixes every log line.
const TimestampFormat = "2006-01-02T15:04:05.0000000Z"

// Log is the user-facing step log. Each line is written as
//
//	<timestamp> [<step>] <text>
//
// with issues rendered as ##[error] or ##[warning] text. Registered
// secrets are masked before anything reaches the writer. Log
// implements execution.StepLog and is safe for concurrent use.
type Log struct {
	clock  clock.Clock
	masker Masker

	mu     sync.Mutex
	writer io.Writer
	err    error
	lines  int
}

// New returns a Log writing to writer. A nil clock uses the real
// clock.
func New(writer io.Writer, logClock clock.Clock) *Log {
	if logClock == nil {
		logClock = clock.Real()
	}
	return &Log{clock: logClock, writer: writer}
}

// Output writes one line of plain output.
func (l *Log) Output(step, line string) {
	l.write(step, line)
}

// Issue writes an error or warning. A multi-line message keeps the
// issue marker on its first line only.
func (l *Log) Issue(step string, issue execution.Issue) {
	l.write(step, fmt.Sprintf("##[%s]%s", issue.Type, issue.Message))
}

// AddMask registers a secret value.
func (l *Log) AddMask(value string) {
	l.masker.Add(value)
}

// Err returns the first write error. Later writes are dropped once a
// write has failed.
func (l *Log) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Lines returns the number of lines written.
func (l *Log) Lines() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

func (l *Log) write(step, text string) {
	masked := l.masker.Mask(text)
	timestamp := l.clock.Now().UTC().Format(TimestampFormat)

	var builder strings.Builder
	for line := range strings.SplitSeq(masked, "\n") {
		builder.WriteString(timestamp)
		builder.WriteString(" [")
		builder.WriteString(step)
		builder.WriteString("] ")
		builder.WriteString(strings.TrimSuffix(line, "\r"))
		builder.WriteByte('\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	if _, err := io.WriteString(l.writer, builder.String()); err != nil {
		l.err = fmt.Errorf("writing step log: %w", err)
		return
	}
	l.lines += strings.Count(masked, "\n") + 1
}

var _ execution.StepLog = (*Log)(nil)
