// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version describes the agent build.
//
// Release builds inject [GitCommit], [GitDirty], [BuildTime] and
// [Version] with -ldflags -X:
//
//	go build -ldflags "-X github.com/skolbin-ssi/azure-pipelines-agent/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When GitCommit is not injected the commit and dirty state come from
// the VCS stamp the go command embeds, if any.
//
// [Full] is the --version text. [Fields] is the same information as
// telemetry data; the job runner publishes it with every JobStarted
// record.
package version
