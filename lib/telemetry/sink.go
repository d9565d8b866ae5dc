// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/clock"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/codec"
)

// Record is one published telemetry event.
type Record struct {
	Time    time.Time      `cbor:"time"`
	Job     string         `cbor:"job,omitempty"`
	Area    string         `cbor:"area"`
	Feature string         `cbor:"feature"`
	Data    map[string]any `cbor:"data,omitempty"`
}

// FileSink appends records to a zstd-compressed CBOR sequence. It
// implements execution.TelemetrySink and is safe for concurrent use.
//
// Publish never returns an error: a step must not fail because
// telemetry could not be written. The first write error is logged,
// kept for Close, and later records are dropped.
type FileSink struct {
	job    string
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	file    io.WriteCloser
	encoder *zstd.Encoder
	records *codec.Encoder
	count   int
	err     error
	closed  bool
}

// SinkConfig configures a FileSink.
type SinkConfig struct {
	// Path is the telemetry file. It is created or truncated.
	Path string

	// Job labels every record.
	Job string

	Clock  clock.Clock
	Logger *slog.Logger
}

// OpenFileSink creates the telemetry file at config.Path.
func OpenFileSink(config SinkConfig) (*FileSink, error) {
	if config.Path == "" {
		return nil, errors.New("telemetry sink: Path is required")
	}
	file, err := os.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("creating telemetry file: %w", err)
	}
	sink, err := NewSink(file, config)
	if err != nil {
		file.Close()
		return nil, err
	}
	return sink, nil
}

// NewSink returns a FileSink writing to destination, which Close
// closes.
func NewSink(destination io.WriteCloser, config SinkConfig) (*FileSink, error) {
	encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	sinkClock := config.Clock
	if sinkClock == nil {
		sinkClock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileSink{
		job:     config.Job,
		clock:   sinkClock,
		logger:  logger,
		file:    destination,
		encoder: encoder,
		records: codec.NewEncoder(encoder),
	}, nil
}

// Publish appends one record.
func (s *FileSink) Publish(area, feature string, data map[string]any) {
	record := Record{
		Time:    s.clock.Now().UTC(),
		Job:     s.job,
		Area:    area,
		Feature: feature,
		Data:    data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}
	if err := s.records.Encode(record); err != nil {
		s.err = fmt.Errorf("writing telemetry record: %w", err)
		s.logger.Warn("telemetry disabled after write failure", "error", err)
		return
	}
	s.count++
}

// Count returns the number of records written.
func (s *FileSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes the compressor and closes the file. It returns the
// first error seen by Publish or Close.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true
	if err := s.encoder.Close(); err != nil && s.err == nil {
		s.err = fmt.Errorf("flushing telemetry: %w", err)
	}
	if err := s.file.Close(); err != nil && s.err == nil {
		s.err = fmt.Errorf("closing telemetry file: %w", err)
	}
	return s.err
}

// Reader iterates over the records of a telemetry file.
type Reader struct {
	decoder *zstd.Decoder
	records *codec.Decoder
}

// NewReader returns a Reader over source.
func NewReader(source io.Reader) (*Reader, error) {
	decoder, err := zstd.NewReader(source)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Reader{decoder: decoder, records: codec.NewDecoder(decoder)}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var record Record
	if err := r.records.Decode(&record); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("reading telemetry record: %w", err)
	}
	return record, nil
}

// Close releases the decoder.
func (r *Reader) Close() {
	r.decoder.Close()
}

// ReadFile returns every record in the telemetry file at path.
func ReadFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var records []Record
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
}
