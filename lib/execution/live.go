// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execution

import (
	"sort"
	"strings"
	"sync"
)

// protectedKeys may never be written by environment diff capture.
// Comparison is case-insensitive.
var protectedKeys = []string{BuildMarkerVariable, JobStatusVariable}

// IsProtected reports whether key is one of the keys diff capture
// must not overwrite.
func IsProtected(key string) bool {
	for _, protected := range protectedKeys {
		if strings.EqualFold(key, protected) {
			return true
		}
	}
	return false
}

// Live is the agent's ambient environment for the duration of a job.
// It is seeded from the agent's process environment, mutated by the
// environment diff capture of a step, and read when building the
// environment of every later step. Keys compare case-insensitively;
// the first spelling seen is kept.
//
// Live stands in for the OS process environment: mutations never
// reach os.Setenv, so concurrent jobs in one agent process cannot see
// each other's diffs.
type Live struct {
	mu     sync.RWMutex
	values map[string]liveEntry
}

type liveEntry struct {
	name  string
	value string
}

// NewLive returns a Live seeded from environ, a list of KEY=VALUE
// strings as returned by os.Environ. Entries without "=" are ignored.
func NewLive(environ []string) *Live {
	live := &Live{values: make(map[string]liveEntry, len(environ))}
	for _, entry := range environ {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			continue
		}
		live.set(key, value)
	}
	return live
}

// Apply sets key to value unless key is protected. Returns false when
// the write was refused.
func (l *Live) Apply(key, value string) bool {
	if key == "" || IsProtected(key) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(key, value)
	return true
}

// Set writes key unconditionally. The job runner uses it to maintain
// the protected keys themselves.
func (l *Live) Set(key, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(key, value)
}

func (l *Live) set(key, value string) {
	folded := strings.ToLower(key)
	if existing, exists := l.values[folded]; exists {
		existing.value = value
		l.values[folded] = existing
		return
	}
	l.values[folded] = liveEntry{name: key, value: value}
}

// Lookup returns the value for key and whether it is set.
func (l *Live) Lookup(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, exists := l.values[strings.ToLower(key)]
	return entry.value, exists
}

// Get returns the value for key, or "".
func (l *Live) Get(key string) string {
	value, _ := l.Lookup(key)
	return value
}

// Environ returns the environment as sorted KEY=VALUE strings.
func (l *Live) Environ() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]string, 0, len(l.values))
	for _, entry := range l.values {
		result = append(result, entry.name+"="+entry.value)
	}
	sort.Strings(result)
	return result
}
