// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steprun

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/arguments"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
)

// DefaultWorkingDirectoryName is created under the task directory when
// a step names no working directory and its target is not an existing
// absolute path.
const DefaultWorkingDirectoryName = "DefaultTaskWorkingDirectory"

// Shell override variables and defaults.
const (
	WindowsShellVariable = "ComSpec"
	WindowsDefaultShell  = "cmd.exe"
	PosixShellVariable   = "AGENT_SHELL"
	PosixDefaultShell    = "sh"
)

// delimiterPrefix starts every diff-capture delimiter. It can never be
// mistaken for an embedded command, which starts with "##".
const delimiterPrefix = "__AGENT_ENVIRONMENT_DUMP_"

// NewDelimiter returns a fresh delimiter token for one step invocation.
func NewDelimiter() string {
	return delimiterPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + "__"
}

// ResolveWorkingDirectory picks the directory a step runs in: the
// explicit input when given, else the directory of target when target
// is an absolute path that exists, else a default directory under
// taskDirectory, created if absent.
func ResolveWorkingDirectory(input, target, taskDirectory string) (string, error) {
	if input != "" {
		return input, nil
	}
	if target != "" && filepath.IsAbs(target) {
		if _, err := os.Stat(target); err == nil {
			return filepath.Dir(target), nil
		}
	}
	if taskDirectory == "" {
		return "", &execution.ConfigurationError{
			Field:  "task_directory",
			Reason: "required when no working directory is given and the target is not an existing absolute path",
		}
	}
	directory := filepath.Join(taskDirectory, DefaultWorkingDirectoryName)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("creating default working directory: %w", err)
	}
	return directory, nil
}

// ResolveShell returns the shell executable for the host: the
// platform override variable when set, else the platform default. The
// default is left for PATH lookup at spawn time.
func ResolveShell(getenv func(string) string) string {
	variable, fallback := PosixShellVariable, PosixDefaultShell
	if runtime.GOOS == "windows" {
		variable, fallback = WindowsShellVariable, WindowsDefaultShell
	}
	if shell := getenv(variable); shell != "" {
		return shell
	}
	return fallback
}

// QuoteCommand wraps text in double quotes when it contains a space or
// a percent sign and no double quote. This is a heuristic, not general
// escaping: a target that already carries quotes is passed as is, and
// other special characters are not considered. Tasks depend on this
// exact behavior.
func QuoteCommand(text string) string {
	if strings.ContainsAny(text, " %") && !strings.Contains(text, `"`) {
		return `"` + text + `"`
	}
	return text
}

// BuildInvocation returns the command line the shell executes. script
// replaces command and args when set. With a delimiter, the
// invocation ends by printing it and dumping the environment.
func BuildInvocation(command, args, script, delimiter string, dialect arguments.Dialect) string {
	var invocation string
	if script != "" {
		invocation = QuoteCommand(script)
	} else {
		invocation = command
		if args != "" {
			invocation += " " + args
		}
	}
	if delimiter == "" {
		return invocation
	}
	if dialect == arguments.DialectCmd {
		return invocation + " && echo " + delimiter + " && set"
	}
	return invocation + "; __agent_rc=$?; echo " + delimiter + "; env; exit $__agent_rc"
}

// shellSpec returns the argv and raw command line that run invocation
// under shell.
func shellSpec(shell, invocation string, dialect arguments.Dialect) (args []string, commandLine string) {
	if dialect == arguments.DialectCmd {
		commandLine = fmt.Sprintf(`%s /d /s /c "%s"`, QuoteCommand(shell), invocation)
		return []string{shell, "/d", "/s", "/c", invocation}, commandLine
	}
	return []string{shell, "-c", invocation}, ""
}
