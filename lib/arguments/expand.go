// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arguments

import (
	"strings"
)

// Lookup resolves a variable name. *stepenv.Table satisfies it.
type Lookup interface {
	Lookup(key string) (string, bool)
}

// ExpansionTelemetry counts what Expand saw. None of the fields carry
// argument text or values.
type ExpansionTelemetry struct {
	// FoundPrefixes counts reference introducers ("%" or "$").
	FoundPrefixes int
	// VariablesExpanded counts references replaced by a value.
	VariablesExpanded int
	// UnresolvedReferences counts well-formed references to names not
	// in the environment. They are left as written.
	UnresolvedReferences int
	// EscapedReferences counts "%%", "$$" and "\$".
	EscapedReferences int
	// BracedReferences counts ${NAME} forms.
	BracedReferences int
	// UnclosedBraces counts "${" with no closing brace.
	UnclosedBraces int
	// UnclosedQuotes is set when a quote character has no partner.
	UnclosedQuotes bool
	// Suspicious names patterns that expansion left in place but that
	// a shell would interpret, such as "$(" or "%NAME:~".
	Suspicious []string
}

// Map returns the counts in the form telemetry sinks accept.
func (t ExpansionTelemetry) Map() map[string]any {
	return map[string]any{
		"foundPrefixes":        t.FoundPrefixes,
		"variablesExpanded":    t.VariablesExpanded,
		"unresolvedReferences": t.UnresolvedReferences,
		"escapedReferences":    t.EscapedReferences,
		"bracedReferences":     t.BracedReferences,
		"unclosedBraces":       t.UnclosedBraces,
		"unclosedQuotes":       t.UnclosedQuotes,
		"suspicious":           append([]string{}, t.Suspicious...),
	}
}

func (t *ExpansionTelemetry) flag(pattern string) {
	for _, existing := range t.Suspicious {
		if existing == pattern {
			return
		}
	}
	t.Suspicious = append(t.Suspicious, pattern)
}

// Expand replaces variable references in args with values from
// environment. Unresolved references are left as written.
func Expand(args string, environment Lookup, dialect Dialect) (string, ExpansionTelemetry) {
	var telemetry ExpansionTelemetry
	telemetry.UnclosedQuotes = hasUnclosedQuote(args, dialect)

	var expanded string
	if dialect == DialectCmd {
		expanded = expandCmd(args, environment, &telemetry)
	} else {
		expanded = expandPosix(args, environment, &telemetry)
	}
	return expanded, telemetry
}

func expandCmd(args string, environment Lookup, telemetry *ExpansionTelemetry) string {
	var builder strings.Builder
	builder.Grow(len(args))

	rest := args
	for {
		start := strings.IndexByte(rest, '%')
		if start < 0 {
			builder.WriteString(rest)
			break
		}
		telemetry.FoundPrefixes++
		builder.WriteString(rest[:start])
		rest = rest[start+1:]

		end := strings.IndexByte(rest, '%')
		if end < 0 {
			builder.WriteByte('%')
			builder.WriteString(rest)
			break
		}
		name := rest[:end]
		switch {
		case name == "":
			telemetry.EscapedReferences++
			builder.WriteByte('%')
			rest = rest[1:]
		case strings.Contains(name, ":"):
			telemetry.flag("%NAME:")
			builder.WriteByte('%')
			builder.WriteString(name)
			builder.WriteByte('%')
			rest = rest[end+1:]
		case !isCmdName(name):
			// The closing "%" may open the next reference.
			builder.WriteByte('%')
			builder.WriteString(name)
			rest = rest[end:]
		default:
			value, exists := environment.Lookup(name)
			if !exists {
				telemetry.UnresolvedReferences++
				builder.WriteByte('%')
				builder.WriteString(name)
				rest = rest[end:]
				continue
			}
			telemetry.VariablesExpanded++
			builder.WriteString(value)
			rest = rest[end+1:]
		}
	}

	if strings.Contains(args, "!") {
		telemetry.flag("!NAME!")
	}
	return builder.String()
}

func expandPosix(args string, environment Lookup, telemetry *ExpansionTelemetry) string {
	var builder strings.Builder
	builder.Grow(len(args))

	for index := 0; index < len(args); index++ {
		current := args[index]
		switch {
		case current == '\\' && index+1 < len(args) && args[index+1] == '$':
			telemetry.EscapedReferences++
			builder.WriteByte('$')
			index++
		case current == '`':
			telemetry.flag("`")
			builder.WriteByte(current)
		case current != '$':
			builder.WriteByte(current)
		case index+1 >= len(args):
			builder.WriteByte('$')
		default:
			telemetry.FoundPrefixes++
			next := args[index+1]
			switch {
			case next == '$':
				telemetry.EscapedReferences++
				builder.WriteByte('$')
				index++
			case next == '(':
				telemetry.flag("$(")
				builder.WriteByte('$')
			case next == '{':
				end := strings.IndexByte(args[index+2:], '}')
				if end < 0 {
					telemetry.UnclosedBraces++
					builder.WriteString(args[index:])
					return builder.String()
				}
				telemetry.BracedReferences++
				name := args[index+2 : index+2+end]
				reference := args[index : index+3+end]
				index += 2 + end
				if !isPosixName(name) {
					telemetry.flag("${...}")
					builder.WriteString(reference)
					continue
				}
				writePosixValue(&builder, environment, name, reference, telemetry)
			case isPosixNameStart(next):
				length := 1
				for index+1+length < len(args) && isPosixNameChar(args[index+1+length]) {
					length++
				}
				name := args[index+1 : index+1+length]
				writePosixValue(&builder, environment, name, "$"+name, telemetry)
				index += length
			default:
				builder.WriteByte('$')
			}
		}
	}
	return builder.String()
}

func writePosixValue(builder *strings.Builder, environment Lookup, name, reference string, telemetry *ExpansionTelemetry) {
	value, exists := environment.Lookup(name)
	if !exists {
		telemetry.UnresolvedReferences++
		builder.WriteString(reference)
		return
	}
	telemetry.VariablesExpanded++
	builder.WriteString(value)
}

func hasUnclosedQuote(args string, dialect Dialect) bool {
	var quote byte
	for index := 0; index < len(args); index++ {
		current := args[index]
		if quote != 0 {
			if current == quote {
				quote = 0
			}
			continue
		}
		if current == '"' || (current == '\'' && dialect == DialectPosix) {
			quote = current
		}
	}
	return quote != 0
}

func isPosixNameStart(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func isPosixNameChar(b byte) bool {
	return isPosixNameStart(b) || (b >= '0' && b <= '9')
}

func isPosixName(name string) bool {
	if name == "" || !isPosixNameStart(name[0]) {
		return false
	}
	for index := 1; index < len(name); index++ {
		if !isPosixNameChar(name[index]) {
			return false
		}
	}
	return true
}

// isCmdName accepts the names cmd.exe would expand: anything without
// whitespace or quote characters.
func isCmdName(name string) bool {
	return name != "" && !strings.ContainsAny(name, " \t\"")
}
