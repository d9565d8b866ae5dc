// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stepenv

import "strings"

// SystemConnectionName is the well-known name of the agent's own
// service connection. Endpoints with this name and no ID are exposed
// under SystemConnectionKey.
const (
	SystemConnectionName = "SystemVssConnection"
	SystemConnectionKey  = "SYSTEMVSSCONNECTION"
)

// repositoryIDKey is the data entry used as a partial key for
// repository endpoints that carry no ID of their own.
const repositoryIDKey = "repositoryId"

// Endpoint is a service connection available to a step.
type Endpoint struct {
	ID            string            `json:"id,omitempty"`
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Authorization *Authorization    `json:"authorization,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
}

// Authorization is the credential material for an endpoint.
type Authorization struct {
	Scheme     string            `json:"scheme"`
	Parameters map[string]string `json:"parameters"`
}

// partialKey returns the suffix used in ENDPOINT_* names and whether
// the endpoint has a real ID. An empty key means the endpoint is
// skipped.
func (e *Endpoint) partialKey() (key string, hasID bool) {
	if e.ID != "" {
		return e.ID, true
	}
	if strings.EqualFold(e.Name, SystemConnectionName) {
		return SystemConnectionKey, false
	}
	if repositoryID := e.Data[repositoryIDKey]; repositoryID != "" {
		return repositoryID, false
	}
	return "", false
}

// SecureFile is a ticket-protected file reference.
type SecureFile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Ticket string `json:"ticket"`
}
