// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steplog"
)

// EnvironmentVariable names the configuration file when no --config
// flag is given.
const EnvironmentVariable = "AGENT_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production agents.
	Production Environment = "production"
)

// Config is the agent's step-execution configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Process configures how step processes are started and stopped.
	Process ProcessConfig `yaml:"process"`

	// Arguments configures how step arguments reach the shell.
	Arguments ArgumentsConfig `yaml:"arguments"`

	// Telemetry configures the telemetry file.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Log configures the agent log and the step log archive.
	Log LogConfig `yaml:"log"`

	// Secrets configures decryption of sealed secret variables.
	Secrets SecretsConfig `yaml:"secrets"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment. Booleans are pointers so an override can turn a flag
// off.
type ConfigOverrides struct {
	Paths     *PathsConfig       `yaml:"paths,omitempty"`
	Process   *ProcessConfig     `yaml:"process,omitempty"`
	Arguments *ArgumentOverrides `yaml:"arguments,omitempty"`
	Log       *LogConfig         `yaml:"log,omitempty"`
}

// ArgumentOverrides overrides individual argument flags.
type ArgumentOverrides struct {
	Secure     *bool `yaml:"secure,omitempty"`
	Audit      *bool `yaml:"audit,omitempty"`
	Validation *bool `yaml:"validation,omitempty"`
	Telemetry  *bool `yaml:"telemetry,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for agent data.
	Root string `yaml:"root"`

	// Work holds per-job working data.
	Work string `yaml:"work"`

	// Temp receives generated scripts and inline step scripts. It is
	// exposed to steps as agent.tempdirectory.
	Temp string `yaml:"temp"`

	// Tasks is the task directory used by steps that do not name
	// their own. A step without a working directory runs in a
	// subdirectory of it.
	Tasks string `yaml:"tasks"`
}

// ProcessConfig configures step processes.
type ProcessConfig struct {
	// SigintTimeout is how long a cancelled step has to exit after
	// the interrupt signal.
	// Default: 7.5s
	SigintTimeout string `yaml:"sigint_timeout"`

	// SigtermTimeout is how long it has after the terminate signal
	// before the process tree is killed.
	// Default: 2.5s
	SigtermTimeout string `yaml:"sigterm_timeout"`

	// DrainTimeout bounds the wait for output after the shell exits,
	// since grandchildren may still hold the pipes.
	// Default: 5s
	DrainTimeout string `yaml:"drain_timeout"`

	// ContinueAfterKillFailure keeps a cancelled step from failing
	// only because killing its process tree failed.
	ContinueAfterKillFailure bool `yaml:"continue_after_kill_failure"`

	// Shell overrides the shell. Empty resolves it from the
	// environment.
	Shell string `yaml:"shell"`

	// ContainerRuntime is the executable container steps call.
	// Default: docker
	ContainerRuntime string `yaml:"container_runtime"`
}

// ArgumentsConfig selects the argument handling mode.
type ArgumentsConfig struct {
	// Secure enables file-args mode for steps that disable inline
	// execution.
	Secure bool `yaml:"secure"`

	// Audit logs expanded arguments without using them.
	Audit bool `yaml:"audit"`

	// Validation rejects unsafe raw arguments before spawn.
	Validation bool `yaml:"validation"`

	// Telemetry publishes expansion and validation records.
	Telemetry bool `yaml:"telemetry"`
}

// TelemetryConfig configures the telemetry file.
type TelemetryConfig struct {
	// Path is the telemetry file. Empty disables telemetry.
	Path string `yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the agent log level: debug, info, warn or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is "json", "text", or empty to choose text on a terminal
	// and JSON otherwise.
	Format string `yaml:"format"`

	// Archive is the step log archive file. Empty disables the
	// archive.
	Archive string `yaml:"archive"`

	// Compression is the archive compression: none, zstd or lz4.
	// Default: zstd
	Compression string `yaml:"compression"`
}

// SecretsConfig configures sealed secret variables.
type SecretsConfig struct {
	// Identity is the age identity file that opens sealed bundles.
	Identity string `yaml:"identity"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "agent")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			Work:  filepath.Join(defaultRoot, "work"),
			Temp:  filepath.Join(defaultRoot, "temp"),
			Tasks: filepath.Join(defaultRoot, "tasks"),
		},
		Process: ProcessConfig{
			SigintTimeout:    execution.DefaultSigintTimeout.String(),
			SigtermTimeout:   execution.DefaultSigtermTimeout.String(),
			DrainTimeout:     "5s",
			ContainerRuntime: "docker",
		},
		Log: LogConfig{
			Level:       "info",
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the AGENT_CONFIG environment variable.
//
// There are no fallbacks or defaults - if AGENT_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your agent.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: raw arguments are validated.
		if overrides == nil {
			validation := true
			overrides = &ConfigOverrides{
				Arguments: &ArgumentOverrides{Validation: &validation},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		override(&c.Paths.Root, overrides.Paths.Root)
		override(&c.Paths.Work, overrides.Paths.Work)
		override(&c.Paths.Temp, overrides.Paths.Temp)
		override(&c.Paths.Tasks, overrides.Paths.Tasks)
	}

	if overrides.Process != nil {
		override(&c.Process.SigintTimeout, overrides.Process.SigintTimeout)
		override(&c.Process.SigtermTimeout, overrides.Process.SigtermTimeout)
		override(&c.Process.DrainTimeout, overrides.Process.DrainTimeout)
		override(&c.Process.Shell, overrides.Process.Shell)
		override(&c.Process.ContainerRuntime, overrides.Process.ContainerRuntime)
		if overrides.Process.ContinueAfterKillFailure {
			c.Process.ContinueAfterKillFailure = true
		}
	}

	if arguments := overrides.Arguments; arguments != nil {
		overrideBool(&c.Arguments.Secure, arguments.Secure)
		overrideBool(&c.Arguments.Audit, arguments.Audit)
		overrideBool(&c.Arguments.Validation, arguments.Validation)
		overrideBool(&c.Arguments.Telemetry, arguments.Telemetry)
	}

	if overrides.Log != nil {
		override(&c.Log.Level, overrides.Log.Level)
		override(&c.Log.Format, overrides.Log.Format)
		override(&c.Log.Archive, overrides.Log.Archive)
		override(&c.Log.Compression, overrides.Log.Compression)
	}
}

func override(field *string, value string) {
	if value != "" {
		*field = value
	}
}

func overrideBool(field *bool, value *bool) {
	if value != nil {
		*field = *value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"AGENT_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["AGENT_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Work = expandVars(c.Paths.Work, vars)
	c.Paths.Temp = expandVars(c.Paths.Temp, vars)
	c.Paths.Tasks = expandVars(c.Paths.Tasks, vars)
	c.Telemetry.Path = expandVars(c.Telemetry.Path, vars)
	c.Log.Archive = expandVars(c.Log.Archive, vars)
	c.Secrets.Identity = expandVars(c.Secrets.Identity, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Temp == "" {
		errs = append(errs, fmt.Errorf("paths.temp is required"))
	}

	for name, value := range map[string]string{
		"process.sigint_timeout":  c.Process.SigintTimeout,
		"process.sigterm_timeout": c.Process.SigtermTimeout,
		"process.drain_timeout":   c.Process.DrainTimeout,
	} {
		if _, err := parseTimeout(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Arguments.Secure && c.Arguments.Validation {
		errs = append(errs, fmt.Errorf("arguments.secure and arguments.validation are mutually exclusive"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if format := c.Log.Format; format != "" && format != "json" && format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be one of: [json text]"))
	}
	if _, err := steplog.ParseCompression(c.Log.Compression); err != nil {
		errs = append(errs, fmt.Errorf("log.compression: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Settings returns the job settings this configuration selects. Call
// Validate first; unparsable timeouts are reported as errors here too.
func (c *Config) Settings() (execution.Settings, error) {
	sigint, err := parseTimeout(c.Process.SigintTimeout)
	if err != nil {
		return execution.Settings{}, fmt.Errorf("process.sigint_timeout: %w", err)
	}
	sigterm, err := parseTimeout(c.Process.SigtermTimeout)
	if err != nil {
		return execution.Settings{}, fmt.Errorf("process.sigterm_timeout: %w", err)
	}
	return execution.Settings{
		SecureArguments:          c.Arguments.Secure,
		SecureArgumentsAudit:     c.Arguments.Audit,
		ArgumentValidation:       c.Arguments.Validation,
		ProcessTelemetry:         c.Arguments.Telemetry,
		SigintTimeout:            sigint,
		SigtermTimeout:           sigterm,
		ContinueAfterKillFailure: c.Process.ContinueAfterKillFailure,
		Shell:                    c.Process.Shell,
	}, nil
}

// DrainTimeout parses Process.DrainTimeout.
func (c *Config) DrainTimeout() (time.Duration, error) {
	return parseTimeout(c.Process.DrainTimeout)
}

func parseTimeout(value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", value)
	}
	return duration, nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Work,
		c.Paths.Temp,
		c.Paths.Tasks,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
