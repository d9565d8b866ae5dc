// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steplog

import (
	"sort"
	"strings"
	"sync"
)

// Redacted replaces every masked value.
const Redacted = "***"

// Masker replaces registered secret values in text. It is safe for
// concurrent use.
type Masker struct {
	mu       sync.RWMutex
	values   []string
	replacer *strings.Replacer
}

// Add registers value for masking. Empty values and duplicates are
// ignored.
func (m *Masker) Add(value string) {
	if value == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.values {
		if existing == value {
			return
		}
	}
	m.values = append(m.values, value)

	// Longest first, so a secret containing another secret is
	// replaced whole.
	sort.SliceStable(m.values, func(i, j int) bool {
		return len(m.values[i]) > len(m.values[j])
	})
	pairs := make([]string, 0, 2*len(m.values))
	for _, secret := range m.values {
		pairs = append(pairs, secret, Redacted)
	}
	m.replacer = strings.NewReplacer(pairs...)
}

// Mask returns text with every registered value replaced.
func (m *Masker) Mask(text string) string {
	m.mu.RLock()
	replacer := m.replacer
	m.mu.RUnlock()
	if replacer == nil {
		return text
	}
	return replacer.Replace(text)
}

// Len returns the number of registered values.
func (m *Masker) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
