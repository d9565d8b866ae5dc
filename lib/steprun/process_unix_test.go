// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package steprun

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/testutil"
)

func startShell(t *testing.T, script string, env ...string) Process {
	t.Helper()
	shell := testutil.RequireShell(t)
	process, err := ExecSpawner{}.Start(Spec{
		Path: shell,
		Args: []string{shell, "-c", script},
		Dir:  t.TempDir(),
		Env:  env,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return process
}

func readAll(t *testing.T, stream io.ReadCloser) <-chan string {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		defer stream.Close()
		data, _ := io.ReadAll(stream)
		done <- string(data)
	}()
	return done
}

func TestExecSpawner_StreamsAndExitCode(t *testing.T) {
	t.Parallel()

	process := startShell(t, `echo "out $GREETING"; echo err >&2; exit 4`, "GREETING=hello")
	stdout := readAll(t, process.Stdout())
	stderr := readAll(t, process.Stderr())

	code, err := process.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
	if got := testutil.RequireReceive(t, stdout, 5*time.Second, "stdout"); got != "out hello\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := testutil.RequireReceive(t, stderr, 5*time.Second, "stderr"); got != "err\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestExecSpawner_MissingShell(t *testing.T) {
	t.Parallel()

	_, err := ExecSpawner{}.Start(Spec{Path: "no-such-shell-for-agent-tests", Args: []string{"x"}})
	if err == nil || !strings.Contains(err.Error(), "resolving shell") {
		t.Errorf("expected resolve error, got %v", err)
	}
}

func TestExecSpawner_SignalsReachGroup(t *testing.T) {
	t.Parallel()

	// The shell waits on a grandchild; killing only the shell would
	// leave sleep holding stdout open.
	process := startShell(t, `sleep 30 & wait`)
	stdout := readAll(t, process.Stdout())
	readAll(t, process.Stderr())

	exited := make(chan int, 1)
	go func() {
		code, _ := process.Wait()
		exited <- code
	}()

	if err := process.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	testutil.RequireReceive(t, exited, 10*time.Second, "shell exit after SIGTERM")
	testutil.RequireReceive(t, stdout, 10*time.Second, "stdout closed by every group member")

	if err := process.Kill(); err != nil {
		t.Errorf("Kill after exit: %v", err)
	}
}
