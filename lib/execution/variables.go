// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execution

import (
	"strings"
	"sync"
)

// Well-known variable names.
const (
	// JobStatusVariable carries the aggregate job result. It is exposed
	// to steps both under this literal name and as AGENT_JOBSTATUS.
	JobStatusVariable = "agent.jobstatus"

	// BuildMarkerVariable is set to "True" for every step so scripts can
	// detect they run under the agent.
	BuildMarkerVariable = "TF_BUILD"

	// TempDirectoryVariable names the agent temp directory where
	// generated scripts are written.
	TempDirectoryVariable = "agent.tempdirectory"

	// PathVariable is the job variable consulted first when computing
	// the original PATH for prepend operations.
	PathVariable = "PATH"
)

// Variable is a named value available to a step.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	// Secret variables are exposed only as SECRET_<NAME> and are masked
	// in the step log.
	Secret bool `json:"secret,omitempty"`
	// PreserveCase keeps the name's casing when the variable is
	// written back by an embedded command.
	PreserveCase bool `json:"preserve_case,omitempty"`
}

// Variables is an insertion-ordered, case-insensitive set of
// variables partitioned into public and secret by each variable's
// Secret flag. Setting an existing name replaces its value and flags
// but keeps its position.
type Variables struct {
	mu      sync.RWMutex
	entries []Variable
	index   map[string]int
}

// NewVariables returns a Variables populated from initial, in order.
func NewVariables(initial ...Variable) *Variables {
	variables := &Variables{index: make(map[string]int)}
	for _, variable := range initial {
		variables.Set(variable)
	}
	return variables
}

// Set adds or replaces a variable. A variable that was secret stays
// secret even if the replacement is not, so a value once masked is
// never exposed in the clear.
func (v *Variables) Set(variable Variable) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := strings.ToLower(variable.Name)
	if position, exists := v.index[key]; exists {
		existing := v.entries[position]
		if existing.Secret {
			variable.Secret = true
		}
		if !variable.PreserveCase {
			variable.Name = existing.Name
		}
		v.entries[position] = variable
		return
	}
	v.index[key] = len(v.entries)
	v.entries = append(v.entries, variable)
}

// Get returns the value of name, or "" when absent.
func (v *Variables) Get(name string) string {
	value, _ := v.Lookup(name)
	return value
}

// Lookup returns the value of name and whether it exists.
func (v *Variables) Lookup(name string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	position, exists := v.index[strings.ToLower(name)]
	if !exists {
		return "", false
	}
	return v.entries[position].Value, true
}

// Public returns the non-secret variables in insertion order.
func (v *Variables) Public() []Variable {
	return v.filter(false)
}

// Secret returns the secret variables in insertion order.
func (v *Variables) Secret() []Variable {
	return v.filter(true)
}

// SecretValues returns the non-empty values of all secret variables,
// for registration with a log masker.
func (v *Variables) SecretValues() []string {
	var values []string
	for _, variable := range v.Secret() {
		if variable.Value != "" {
			values = append(values, variable.Value)
		}
	}
	return values
}

// Len returns the number of variables.
func (v *Variables) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

func (v *Variables) filter(secret bool) []Variable {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var result []Variable
	for _, variable := range v.entries {
		if variable.Secret == secret {
			result = append(result, variable)
		}
	}
	return result
}
