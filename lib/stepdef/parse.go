// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stepdef reads and validates job definitions. Jobs are
// authored on disk as JSONC files (JSON extended with comments and
// trailing commas).
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Job
//  2. Validate: structural checks (handler kinds, required fields,
//     durations)
//  3. the runner in cmd/agent-step turns each Step into a handler
package stepdef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Job. Unknown fields are rejected so a
// misspelled option fails loudly instead of being ignored.
func Parse(data []byte) (*Job, error) {
	stripped := jsonc.ToJSON(data)

	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()
	var job Job
	if err := decoder.Decode(&job); err != nil {
		return nil, fmt.Errorf("parsing job: %w", err)
	}
	return &job, nil
}

// ReadFile reads a JSONC job file from disk and parses it. A job
// without a name is named after the file.
func ReadFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	job, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if job.Name == "" {
		job.Name = NameFromPath(path)
	}
	return job, nil
}

// NameFromPath extracts a job name from a file path by stripping the
// directory prefix and the file extension. For example,
// "jobs/build-linux.jsonc" returns "build-linux".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}
