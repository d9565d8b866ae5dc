// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steplog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how a step log archive is stored.
type Compression uint8

const (
	// CompressionNone stores plain text.
	CompressionNone Compression = iota

	// CompressionZstd gives the best ratio for log text. The default.
	CompressionZstd

	// CompressionLZ4 trades ratio for speed on hosts where archiving
	// competes with the build for CPU.
	CompressionLZ4
)

// String returns the configuration name of a compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a configuration name. The empty string
// selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "zstd", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown step log compression: %q", name)
	}
}

// Frame magic numbers. A reader recognizes the compression from the
// first bytes of the archive.
var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// NewArchiveWriter returns a writer that compresses into destination.
// Close flushes the compressor but does not close destination.
func NewArchiveWriter(destination io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone:
		return nopCloser{destination}, nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return encoder, nil
	case CompressionLZ4:
		return lz4.NewWriter(destination), nil
	default:
		return nil, fmt.Errorf("unsupported step log compression: %s", compression)
	}
}

// OpenArchive returns a reader of the plain text in an archive written
// by NewArchiveWriter with any compression.
func OpenArchive(source io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReader(source)
	header, err := buffered.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading step log archive header: %w", err)
	}
	switch {
	case bytes.Equal(header, zstdMagic):
		decoder, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case bytes.Equal(header, lz4Magic):
		return io.NopCloser(lz4.NewReader(buffered)), nil
	default:
		return io.NopCloser(buffered), nil
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
