// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags -X at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// build is the commit and dirty state in effect: the -ldflags values,
// or the VCS stamp the go command embeds when those were not set.
var build = sync.OnceValue(func() (stamp struct {
	commit string
	dirty  bool
}) {
	stamp.commit, stamp.dirty = GitCommit, GitDirty == "true"
	if stamp.commit != "unknown" {
		return stamp
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return stamp
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			stamp.commit = setting.Value
			if len(stamp.commit) > 12 {
				stamp.commit = stamp.commit[:12]
			}
		case "vcs.modified":
			stamp.dirty = setting.Value == "true"
		}
	}
	return stamp
})

// Info returns "<version> (<commit>[-dirty], <build time>)".
func Info() string {
	stamp := build()
	dirty := ""
	if stamp.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, stamp.commit, dirty, BuildTime)
}

// Full returns Info plus the Go version and platform, for --version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Fields returns the build information as telemetry data, so records
// from different agent builds can be told apart.
func Fields() map[string]any {
	stamp := build()
	return map[string]any{
		"version":  Version,
		"commit":   stamp.commit,
		"dirty":    stamp.dirty,
		"go":       runtime.Version(),
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
	}
}
