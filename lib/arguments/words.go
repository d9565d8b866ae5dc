// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arguments

import (
	"strings"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/stepenv"
)

// childLookup resolves names the way the child process sees them: the
// step table overlaid on the live environment.
type childLookup struct {
	table *stepenv.Table
	live  *execution.Live
}

func (l childLookup) Lookup(key string) (string, bool) {
	if value, ok := l.table.Lookup(key); ok {
		return value, true
	}
	if l.live == nil {
		return "", false
	}
	return l.live.Lookup(key)
}

// SplitWords splits POSIX argument text into the argument vector sh
// would build from it, without running anything: quotes are removed,
// backslash escapes applied, and $NAME and ${NAME} replaced from
// environment. Unquoted values are split on blanks; quoted ones are
// not. Command substitution, globbing and unresolved references stay
// literal. An unclosed quote runs to the end of the text.
func SplitWords(args string, environment Lookup) []string {
	var (
		words   []string
		word    strings.Builder
		started bool
		quote   byte
	)
	finish := func() {
		if started {
			words = append(words, word.String())
		}
		word.Reset()
		started = false
	}

	for index := 0; index < len(args); index++ {
		current := args[index]
		switch {
		case quote == '\'':
			if current == '\'' {
				quote = 0
			} else {
				word.WriteByte(current)
			}

		case quote == '"':
			switch {
			case current == '"':
				quote = 0
			case current == '\\' && index+1 < len(args) && strings.IndexByte("$`\"\\\n", args[index+1]) >= 0:
				index++
				if args[index] != '\n' {
					word.WriteByte(args[index])
				}
			case current == '$':
				value, length, _ := wordReference(args[index:], environment)
				word.WriteString(value)
				index += length - 1
			default:
				word.WriteByte(current)
			}

		case current == ' ' || current == '\t' || current == '\n':
			finish()

		case current == '\'' || current == '"':
			quote = current
			started = true

		case current == '\\' && index+1 < len(args):
			index++
			if args[index] == '\n' {
				continue
			}
			word.WriteByte(args[index])
			started = true

		case current == '$':
			value, length, expanded := wordReference(args[index:], environment)
			index += length - 1
			if !expanded {
				word.WriteString(value)
				started = true
				continue
			}
			for position := 0; position < len(value); position++ {
				if strings.IndexByte(" \t\n", value[position]) >= 0 {
					finish()
					continue
				}
				word.WriteByte(value[position])
				started = true
			}

		default:
			word.WriteByte(current)
			started = true
		}
	}
	finish()
	return words
}

// wordReference resolves the reference at the start of text, which
// begins with "$". It returns the replacement, the bytes consumed, and
// whether a variable value was substituted. "$$" is an escaped dollar,
// as in Expand.
func wordReference(text string, environment Lookup) (string, int, bool) {
	if len(text) >= 2 && text[1] == '$' {
		return "$", 2, false
	}
	name, length := posixReference(text)
	if length == 0 {
		return "$", 1, false
	}
	if !isPosixName(name) {
		return text[:length], length, false
	}
	value, ok := environment.Lookup(name)
	if !ok {
		return text[:length], length, false
	}
	return value, length, true
}
