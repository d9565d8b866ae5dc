// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arguments

import (
	"strings"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
)

// secretPrefixes are environment names whose values are credentials.
// Arguments may not reference them: a reference would copy the
// credential onto a command line visible to every process on the host.
var secretPrefixes = []string{
	"SECRET_",
	"ENDPOINT_AUTH_",
	"SECUREFILE_TICKET_",
}

func isSecretBearing(name string) bool {
	upper := strings.ToUpper(name)
	for _, prefix := range secretPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// Validate checks raw arguments for constructs that would let them
// escape the command they are passed to. It does not expand anything.
// The first violation is returned as an
// *execution.ArgumentValidationError.
func Validate(args string, dialect Dialect) error {
	if dialect == DialectCmd {
		return validateCmd(args)
	}
	return validatePosix(args)
}

func reject(args string, offset, length int, reason string) error {
	end := min(offset+length, len(args))
	return &execution.ArgumentValidationError{
		Construct: args[offset:end],
		Offset:    offset,
		Reason:    reason,
	}
}

func validatePosix(args string) error {
	var quote byte
	for index := 0; index < len(args); index++ {
		current := args[index]

		if quote == '\'' {
			if current == '\'' {
				quote = 0
			}
			continue
		}

		// Substitution runs inside double quotes too.
		switch {
		case current == '\\' && index+1 < len(args):
			index++
			continue
		case current == '`':
			return reject(args, index, 1, "command substitution")
		case current == '$' && index+1 < len(args) && args[index+1] == '(':
			return reject(args, index, 2, "command substitution")
		case current == '$':
			if name, length := posixReference(args[index:]); name != "" && isSecretBearing(name) {
				return reject(args, index, length, "reference to a secret-bearing variable")
			}
		}

		if quote == '"' {
			if current == '"' {
				quote = 0
			}
			continue
		}

		switch current {
		case '\'', '"':
			quote = current
		case '&', '|', ';':
			return reject(args, index, 1, "command chaining")
		case '<', '>':
			return reject(args, index, 1, "redirection")
		case '\n', '\r':
			return reject(args, index, 1, "line break")
		}
	}
	return nil
}

// posixReference returns the name and length of a $NAME or ${NAME}
// reference at the start of text.
func posixReference(text string) (string, int) {
	if len(text) < 2 {
		return "", 0
	}
	if text[1] == '{' {
		end := strings.IndexByte(text, '}')
		if end < 0 {
			return "", 0
		}
		return text[2:end], end + 1
	}
	length := 0
	for 1+length < len(text) && isPosixNameChar(text[1+length]) {
		length++
	}
	if length == 0 || !isPosixNameStart(text[1]) {
		return "", 0
	}
	return text[1 : 1+length], 1 + length
}

func validateCmd(args string) error {
	inQuotes := false
	for index := 0; index < len(args); index++ {
		current := args[index]
		switch current {
		case '"':
			inQuotes = !inQuotes
			continue
		case '!':
			// Delayed expansion reads variables after the parser has
			// already decided what is syntax.
			if end := strings.IndexByte(args[index+1:], '!'); end > 0 {
				return reject(args, index, end+2, "delayed expansion")
			}
		case '%':
			end := strings.IndexByte(args[index+1:], '%')
			if end <= 0 {
				break
			}
			name := args[index+1 : index+1+end]
			if strings.Contains(name, ":") {
				return reject(args, index, end+2, "substring or replacement expansion")
			}
			if isSecretBearing(name) {
				return reject(args, index, end+2, "reference to a secret-bearing variable")
			}
		}

		if inQuotes {
			continue
		}
		switch current {
		case '&', '|':
			return reject(args, index, 1, "command chaining")
		case '<', '>':
			return reject(args, index, 1, "redirection")
		case '\n', '\r':
			return reject(args, index, 1, "line break")
		case '^':
			// An escaped character is literal.
			index++
		}
	}
	return nil
}
