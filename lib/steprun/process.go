// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steprun

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Spec describes the child process to start.
type Spec struct {
	// Path is the executable, resolved through PATH when it has no
	// separator.
	Path string
	// Args includes argv[0].
	Args []string
	// CommandLine, when set, is passed verbatim to the OS on platforms
	// that take a single command-line string. cmd.exe needs this: its
	// quoting rules differ from the ones Args would be escaped with.
	CommandLine string
	Dir         string
	Env         []string
}

// Process is a started child and the process group it leads.
type Process interface {
	PID() int
	// Stdout and Stderr yield the child's output until it, and every
	// process that inherited the streams, has closed them.
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Interrupt and Terminate deliver the graceful and the escalated
	// stop request to the whole group.
	Interrupt() error
	Terminate() error
	// Kill forcibly ends the whole process tree.
	Kill() error
	// Wait blocks until the child exits and returns its exit code.
	Wait() (int, error)
}

// Spawner starts processes.
type Spawner interface {
	Start(spec Spec) (Process, error)
}

// ExecSpawner starts real OS processes, each in its own process group.
type ExecSpawner struct{}

// Start launches spec with stdout and stderr connected to pipes.
func (ExecSpawner) Start(spec Spec) (Process, error) {
	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving shell %q: %w", spec.Path, err)
	}

	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		stdoutReader.Close()
		stdoutWriter.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	cmd := &exec.Cmd{
		Path:   path,
		Args:   spec.Args,
		Dir:    spec.Dir,
		Env:    spec.Env,
		Stdout: stdoutWriter,
		Stderr: stderrWriter,
	}
	cmd.SysProcAttr = sysProcAttr(spec)

	startErr := cmd.Start()
	// The child holds its own copies; the parent must drop the write
	// ends or the readers never see EOF.
	stdoutWriter.Close()
	stderrWriter.Close()
	if startErr != nil {
		stdoutReader.Close()
		stderrReader.Close()
		return nil, fmt.Errorf("starting %s: %w", spec.Path, startErr)
	}

	return &execProcess{cmd: cmd, stdout: stdoutReader, stderr: stderrReader}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File
}

func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}
	return -1, err
}
