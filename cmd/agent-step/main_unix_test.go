// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/process"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/testutil"
)

const endToEndJob = `{
	// Builds, then reports the artifact it produced.
	"variables": [{"name": "build.configuration", "value": "release"}],
	"steps": [
		{
			"name": "build",
			"handler": "script",
			"script": "echo building $BUILD_CONFIGURATION with $SECRET_DEPLOY_TOKEN\necho '##vso[task.setvariable variable=artifact]app.tgz'",
		},
		{"name": "report", "target": "echo", "arguments": "artifact=$ARTIFACT"},
	],
}`

// agentWorkspace writes a config for a job run under one temp
// directory and returns the cli and paths the test inspects.
type agentWorkspace struct {
	directory  string
	configPath string
	telemetry  string
	archive    string
}

func newAgentWorkspace(t *testing.T, compression string) agentWorkspace {
	t.Helper()
	shell := testutil.RequireShell(t)
	directory := t.TempDir()
	workspace := agentWorkspace{
		directory:  directory,
		configPath: filepath.Join(directory, "agent.yaml"),
		telemetry:  filepath.Join(directory, "telemetry.cbor.zst"),
		archive:    filepath.Join(directory, "steps.log"),
	}
	writeFile(t, workspace.configPath, fmt.Sprintf(`environment: development
paths:
  root: %[1]s/root
  temp: %[1]s/root/temp
  tasks: %[1]s/root/tasks
process:
  shell: %[2]s
  sigint_timeout: 1s
  sigterm_timeout: 1s
telemetry:
  path: %[3]s
log:
  level: debug
  format: json
  archive: %[4]s
  compression: %[5]s
`, directory, shell, workspace.telemetry, workspace.archive, compression))
	return workspace
}

func TestCLIRunJobEndToEnd(t *testing.T) {
	t.Parallel()

	workspace := newAgentWorkspace(t, "lz4")
	identityPath := filepath.Join(workspace.directory, "agent.key")
	jobPath := filepath.Join(workspace.directory, "nightly.jsonc")
	writeFile(t, jobPath, endToEndJob)

	command, stdout, stderr := testCLI(`{"deploy.token": "hunter2"}`, map[string]string{
		"AGENT_CONFIG": workspace.configPath,
		"PATH":         os.Getenv("PATH"),
	})
	ctx := context.Background()

	if err := command.run(ctx, []string{"secrets", "keygen", "-o", identityPath}); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	publicKey := strings.TrimSpace(stdout.String())
	stdout.Reset()
	if err := command.run(ctx, []string{"secrets", "seal", "-r", publicKey}); err != nil {
		t.Fatalf("seal: %v", err)
	}
	bundlePath := filepath.Join(workspace.directory, "secrets.age")
	writeFile(t, bundlePath, stdout.String())
	stdout.Reset()

	if err := command.run(ctx, []string{"run", "--secrets", bundlePath, "--identity", identityPath, jobPath}); err != nil {
		t.Fatalf("run: %v\nstderr:\n%s", err, stderr)
	}
	stepOutput := stdout.String()
	for _, want := range []string{"[build] building release with ***", "[report] artifact=app.tgz"} {
		if !strings.Contains(stepOutput, want) {
			t.Errorf("step output missing %q:\n%s", want, stepOutput)
		}
	}
	if strings.Contains(stepOutput+stderr.String(), "hunter2") {
		t.Error("secret value leaked")
	}
	assertJSONLines(t, stderr.String())

	stdout.Reset()
	if err := command.run(ctx, []string{"log", workspace.archive}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if stdout.String() != stepOutput {
		t.Errorf("archive differs from step output:\n%s\nwant:\n%s", stdout, stepOutput)
	}

	stdout.Reset()
	if err := command.run(ctx, []string{"telemetry", "--feature", telemetryFeatureStep, workspace.telemetry}); err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	var steps []telemetryLine
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		var record telemetryLine
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("telemetry line %q: %v", line, err)
		}
		steps = append(steps, record)
	}
	if len(steps) != 2 || steps[0].Job != "nightly" || steps[1].Data["result"] != "Succeeded" {
		t.Errorf("step telemetry = %+v", steps)
	}

	stdout.Reset()
	if err := command.run(ctx, []string{"telemetry", "--diagnostic", workspace.telemetry}); err != nil {
		t.Fatalf("telemetry --diagnostic: %v", err)
	}
	if !strings.Contains(stdout.String(), `"JobStarted"`) {
		t.Errorf("diagnostic output:\n%s", stdout)
	}
}

func TestCLIRunFailingJob(t *testing.T) {
	t.Parallel()

	workspace := newAgentWorkspace(t, "zstd")
	jobPath := filepath.Join(workspace.directory, "broken.jsonc")
	writeFile(t, jobPath, `{"steps": [{"name": "fail", "target": "exit", "arguments": "4"}]}`)
	command, stdout, _ := testCLI("", map[string]string{"PATH": os.Getenv("PATH")})

	err := command.run(context.Background(), []string{"run", "--config", workspace.configPath, jobPath})
	if err == nil || !strings.Contains(err.Error(), `job "broken" finished with result Failed`) {
		t.Fatalf("expected failed job, got %v", err)
	}
	if code := exitCode(t, err); code != process.ExitFailed {
		t.Errorf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "exit code 4") {
		t.Errorf("step output:\n%s", stdout)
	}
}

func TestCLIRunSecretsNeedIdentity(t *testing.T) {
	t.Parallel()

	workspace := newAgentWorkspace(t, "none")
	jobPath := filepath.Join(workspace.directory, "job.jsonc")
	writeFile(t, jobPath, `{"steps": [{"name": "a", "target": "true"}]}`)
	command, _, _ := testCLI("", nil)

	err := command.run(context.Background(), []string{"run", "--config", workspace.configPath, "--secrets", "bundle", jobPath})
	if err == nil || !strings.Contains(err.Error(), "requires an identity") {
		t.Fatalf("expected identity error, got %v", err)
	}
}

func assertJSONLines(t *testing.T, output string) {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Errorf("log line is not JSON: %q", scanner.Text())
			continue
		}
		if _, ok := entry["msg"]; !ok {
			t.Errorf("log line without msg: %q", scanner.Text())
		}
	}
}
