// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the step
// runner.
//
// Configuration is loaded from a single file specified by either the
// AGENT_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter: raw
// step arguments are validated before spawn unless the production
// section says otherwise.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${AGENT_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Process, Arguments,
//     Telemetry, Log and Secrets
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Settings] -- the execution.Settings for a job
package config
