// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/clock"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/config"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/sealed"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/secret"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepdef"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steplog"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steprun"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/telemetry"
)

func (c *cli) runJob(ctx context.Context, args []string) error {
	var (
		configPath   string
		secretsPath  string
		identityPath string
	)
	flagSet := pflag.NewFlagSet("agent-step run", pflag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $AGENT_CONFIG)")
	flagSet.StringVar(&secretsPath, "secrets", "", "sealed secret-variable bundle, or - for stdin")
	flagSet.StringVar(&identityPath, "identity", "", "age identity that opens the bundle (default: secrets.identity from the config)")
	flagSet.Usage = func() {
		fmt.Fprintf(c.stderr, "Usage: agent-step run [flags] <job.jsonc>\n\nFlags:\n%s", flagSet.FlagUsages())
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError("%v", err)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return usageError("exactly one job file required")
	}

	cfg, err := c.loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.LogLevel()
	job, err := stepdef.ReadFile(flagSet.Arg(0))
	if err != nil {
		return err
	}
	logger := newLogger(c.stderr, cfg.Log.Format, level).With("job", job.Name)

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	if identityPath == "" {
		identityPath = cfg.Secrets.Identity
	}
	secrets, err := openSecrets(secretsPath, identityPath)
	if err != nil {
		return err
	}

	stepOutput, closeArchive, err := openArchive(c.stdout, cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeArchive(); err != nil {
			logger.Warn("closing step log archive failed", "error", err)
		}
	}()
	stepLog := steplog.New(stepOutput, clock.Real())

	var sink execution.TelemetrySink = telemetry.Tee(nil)
	if cfg.Telemetry.Path != "" {
		fileSink, err := telemetry.OpenFileSink(telemetry.SinkConfig{
			Path:   cfg.Telemetry.Path,
			Job:    job.Name,
			Clock:  clock.Real(),
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := fileSink.Close(); err != nil {
				logger.Warn("closing telemetry file failed", "error", err)
			}
		}()
		sink = fileSink
	}

	settings, err := cfg.Settings()
	if err != nil {
		return usageError("%v", err)
	}
	drainTimeout, err := cfg.DrainTimeout()
	if err != nil {
		return usageError("process.drain_timeout: %v", err)
	}
	controller := steprun.NewController(logger)
	controller.DrainTimeout = drainTimeout

	jobRunner := &runner{
		settings:         settings,
		tempDirectory:    cfg.Paths.Temp,
		taskDirectory:    cfg.Paths.Tasks,
		containerRuntime: cfg.Process.ContainerRuntime,
		environ:          c.environ,
		controller:       controller,
		log:              stepLog,
		telemetry:        sink,
		clock:            clock.Real(),
		logger:           logger,
	}
	report, err := jobRunner.run(ctx, job, secrets)
	if err != nil {
		return err
	}

	for _, step := range report.Steps {
		logger.Info("step result", "step", step.Name, "result", step.Result.String(), "duration", step.Duration)
	}
	if err := stepLog.Err(); err != nil {
		logger.Warn("step log incomplete", "error", err)
	}
	logger.Info("job finished", "result", report.Result.String(), "log_lines", stepLog.Lines())

	switch report.Result {
	case execution.Succeeded, execution.SucceededWithIssues:
		return nil
	default:
		return resultError(job.Name, report.Result)
	}
}

// loadConfig loads the file named by --config, else by AGENT_CONFIG,
// and validates it.
func (c *cli) loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = c.getenv(config.EnvironmentVariable)
	}
	if path == "" {
		return nil, usageError("%s environment variable not set; "+
			"set it to the path of your agent.yaml config file, or use --config flag", config.EnvironmentVariable)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, usageError("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError("invalid config %s:\n%v", path, err)
	}
	return cfg, nil
}

// openSecrets opens the sealed bundle at path with the identity file.
// No path means no secrets.
func openSecrets(path, identityPath string) ([]execution.Variable, error) {
	if path == "" {
		return nil, nil
	}
	if identityPath == "" {
		return nil, usageError("--secrets requires an identity (--identity or secrets.identity)")
	}
	bundle, err := sealed.ReadBundle(path)
	if err != nil {
		return nil, err
	}
	identity, err := secret.ReadFromPath(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	defer identity.Close()

	variables, err := sealed.OpenVariables(bundle, identity)
	if err != nil {
		return nil, fmt.Errorf("opening secret bundle: %w", err)
	}
	return variables, nil
}

// openArchive returns the writer step log lines go to: stdout, plus
// the archive file when one is configured. The returned function
// flushes and closes the archive.
func openArchive(stdout io.Writer, logConfig config.LogConfig) (io.Writer, func() error, error) {
	if logConfig.Archive == "" {
		return stdout, func() error { return nil }, nil
	}
	compression, err := steplog.ParseCompression(logConfig.Compression)
	if err != nil {
		return nil, nil, usageError("%v", err)
	}
	file, err := os.Create(logConfig.Archive)
	if err != nil {
		return nil, nil, fmt.Errorf("creating step log archive: %w", err)
	}
	archive, err := steplog.NewArchiveWriter(file, compression)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	closeArchive := func() error {
		return errors.Join(archive.Close(), file.Close())
	}
	return io.MultiWriter(stdout, archive), closeArchive, nil
}
