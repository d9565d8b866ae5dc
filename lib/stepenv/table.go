// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stepenv

import "strings"

// Table is an insertion-ordered environment with case-insensitive
// keys. The first spelling of a key is kept; later writes replace the
// value only. Not safe for concurrent use: a Table belongs to one step
// invocation.
type Table struct {
	names  []string
	values map[string]string
	index  map[string]int
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		values: make(map[string]string),
		index:  make(map[string]int),
	}
}

// Set assigns value to key.
func (t *Table) Set(key, value string) {
	folded := strings.ToLower(key)
	if _, exists := t.index[folded]; !exists {
		t.index[folded] = len(t.names)
		t.names = append(t.names, key)
	}
	t.values[folded] = value
}

// Lookup returns the value for key and whether it is set.
func (t *Table) Lookup(key string) (string, bool) {
	value, exists := t.values[strings.ToLower(key)]
	return value, exists
}

// Get returns the value for key, or "".
func (t *Table) Get(key string) string {
	return t.values[strings.ToLower(key)]
}

// Keys returns the keys in insertion order with their first spelling.
func (t *Table) Keys() []string {
	return append([]string(nil), t.names...)
}

// Len returns the number of keys.
func (t *Table) Len() int {
	return len(t.names)
}

// Environ returns KEY=VALUE strings in insertion order, the form
// exec.Cmd.Env expects.
func (t *Table) Environ() []string {
	result := make([]string, 0, len(t.names))
	for _, name := range t.names {
		result = append(result, name+"="+t.values[strings.ToLower(name)])
	}
	return result
}

// Map returns a copy of the table keyed by first spelling.
func (t *Table) Map() map[string]string {
	result := make(map[string]string, len(t.names))
	for _, name := range t.names {
		result[name] = t.values[strings.ToLower(name)]
	}
	return result
}

// FormatName converts a variable or input name to environment-key
// form: dots and spaces become underscores, and the result is
// upper-cased unless preserveCase is set.
func FormatName(name string, preserveCase bool) string {
	formatted := strings.NewReplacer(".", "_", " ", "_").Replace(name)
	if preserveCase {
		return formatted
	}
	return strings.ToUpper(formatted)
}
