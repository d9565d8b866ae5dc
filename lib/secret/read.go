// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReadFromPath reads a secret from the file at path, or from stdin
// when path is "-". See Read.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return Read(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Read(file)
}

// Read reads all of source into a new Buffer with surrounding
// whitespace trimmed. The intermediate copy is zeroed. An empty
// secret is an error. The caller must close the returned buffer.
func Read(source io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(source)
	defer Zero(data)
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret is empty")
	}
	return NewFromBytes(trimmed)
}
