// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/process"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := &cli{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		environ: os.Environ(),
		getenv:  os.Getenv,
	}
	if err := command.run(ctx, os.Args[1:]); err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			process.FatalCode(err, coder.ExitCode())
		}
		process.Fatal(err)
	}
}

// cli holds the process surroundings so tests can replace them.
type cli struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	environ []string
	getenv  func(string) string
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return usageError("subcommand required")
	}

	subcommand := args[0]
	switch subcommand {
	case "run":
		return c.runJob(ctx, args[1:])
	case "telemetry":
		return c.runTelemetry(args[1:])
	case "log":
		return c.runLog(args[1:])
	case "secrets":
		return c.runSecrets(args[1:])
	case "version", "--version":
		fmt.Fprintf(c.stdout, "agent-step %s\n", version.Full())
		return nil
	case "-h", "--help", "help":
		c.printUsage()
		return nil
	default:
		c.printUsage()
		return usageError("unknown subcommand: %q", subcommand)
	}
}

func (c *cli) printUsage() {
	fmt.Fprintf(c.stderr, `Usage: agent-step <subcommand> [flags]

Subcommands:
  run         Run the steps of a job file
  telemetry   Print the records of a telemetry file
  log         Print a step log archive
  secrets     Generate agent keys and seal secret variables
  version     Print version information

Run 'agent-step <subcommand> --help' for subcommand flags.
`)
}

// exitError carries the exit code for main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func usageError(format string, args ...any) error {
	return &exitError{code: process.ExitUsage, err: fmt.Errorf(format, args...)}
}

// resultError reports a job that ran but did not succeed.
func resultError(name string, result execution.Result) error {
	code := process.ExitFailed
	if result == execution.Canceled {
		code = process.ExitCanceled
	}
	return &exitError{code: code, err: fmt.Errorf("job %q finished with result %s", name, result)}
}
