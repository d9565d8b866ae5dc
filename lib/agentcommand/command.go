// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentcommand

import (
	"fmt"
	"sort"
	"strings"
)

// Prefix starts every embedded command line.
const Prefix = "##vso["

// Command is one parsed embedded command.
type Command struct {
	// Area and Event come from the dotted name, e.g. "task" and
	// "setvariable" for task.setvariable. Both are lower-cased.
	Area  string
	Event string

	// Properties holds the unescaped key=value pairs. Keys are
	// lower-cased.
	Properties map[string]string

	// Data is the unescaped text after the closing bracket.
	Data string
}

// Name returns "area.event".
func (c Command) Name() string {
	return c.Area + "." + c.Event
}

// String renders the command back into its wire form with escaped
// values. Properties are written in key order.
func (c Command) String() string {
	var builder strings.Builder
	builder.WriteString(Prefix)
	builder.WriteString(c.Name())
	keys := make([]string, 0, len(c.Properties))
	for key := range c.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for index, key := range keys {
		if index == 0 {
			builder.WriteByte(' ')
		} else {
			builder.WriteByte(';')
		}
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(escapeProperty(c.Properties[key]))
	}
	builder.WriteByte(']')
	builder.WriteString(escapeData(c.Data))
	return builder.String()
}

// MalformedError describes a line that starts with the command prefix
// but cannot be parsed.
type MalformedError struct {
	Line   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed command %q: %s", e.Line, e.Reason)
}

// Parse parses line as an embedded command. ok is false when the line
// does not carry the command prefix; err is set when it does but is
// malformed. The prefix may be preceded by whitespace.
func Parse(line string) (command Command, ok bool, err error) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, Prefix) {
		return Command{}, false, nil
	}
	body := trimmed[len(Prefix):]
	end := strings.IndexByte(body, ']')
	if end < 0 {
		return Command{}, true, &MalformedError{Line: line, Reason: "missing closing bracket"}
	}
	header, data := body[:end], body[end+1:]

	name, properties, _ := strings.Cut(strings.TrimSpace(header), " ")
	area, event, found := strings.Cut(name, ".")
	if !found || area == "" || event == "" {
		return Command{}, true, &MalformedError{Line: line, Reason: "command name must be area.event"}
	}
	command = Command{
		Area:       strings.ToLower(area),
		Event:      strings.ToLower(event),
		Properties: make(map[string]string),
		Data:       unescapeData(data),
	}
	for pair := range strings.SplitSeq(properties, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return Command{}, true, &MalformedError{Line: line, Reason: "property with empty name"}
		}
		command.Properties[key] = unescapeProperty(value)
	}
	return command, true, nil
}

var (
	propertyEscapes = []string{
		"%", "%25",
		";", "%3B",
		"]", "%5D",
		"\r", "%0D",
		"\n", "%0A",
	}
	dataEscapes = []string{
		"%", "%25",
		"\r", "%0D",
		"\n", "%0A",
	}

	propertyEscaper   = strings.NewReplacer(propertyEscapes...)
	propertyUnescaper = strings.NewReplacer(reversePairs(propertyEscapes)...)
	dataEscaper       = strings.NewReplacer(dataEscapes...)
	dataUnescaper     = strings.NewReplacer(reversePairs(dataEscapes)...)
)

func reversePairs(pairs []string) []string {
	reversed := make([]string, 0, len(pairs))
	for index := 0; index < len(pairs); index += 2 {
		reversed = append(reversed, pairs[index+1], pairs[index])
	}
	return reversed
}

func escapeProperty(value string) string   { return propertyEscaper.Replace(value) }
func unescapeProperty(value string) string { return propertyUnescaper.Replace(value) }
func escapeData(value string) string       { return dataEscaper.Replace(value) }
func unescapeData(value string) string     { return dataUnescaper.Replace(value) }
