// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execution

import (
	"fmt"
	"strings"
)

// Result is the recorded outcome of a step or job.
type Result int

const (
	Succeeded Result = iota
	SucceededWithIssues
	Failed
	Canceled
	Skipped
)

var resultNames = []string{
	Succeeded:           "Succeeded",
	SucceededWithIssues: "SucceededWithIssues",
	Failed:              "Failed",
	Canceled:            "Canceled",
	Skipped:             "Skipped",
}

func (result Result) String() string {
	if int(result) >= 0 && int(result) < len(resultNames) {
		return resultNames[result]
	}
	return fmt.Sprintf("Result(%d)", int(result))
}

// ParseResult accepts the names produced by String, case-insensitively.
func ParseResult(name string) (Result, error) {
	for index, candidate := range resultNames {
		if strings.EqualFold(candidate, name) {
			return Result(index), nil
		}
	}
	return 0, fmt.Errorf("unknown result %q", name)
}

// Merge combines two results the way a job aggregates its steps: the
// worse outcome wins. Canceled outranks Failed, which outranks
// SucceededWithIssues. Skipped never degrades a result.
func Merge(current, next Result) Result {
	rank := func(result Result) int {
		switch result {
		case Canceled:
			return 4
		case Failed:
			return 3
		case SucceededWithIssues:
			return 2
		case Succeeded:
			return 1
		default:
			return 0
		}
	}
	if rank(next) > rank(current) {
		return next
	}
	return current
}
