// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"maps"
	"sync"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
)

// Memory keeps published records in memory, for tests and for
// printing a job summary.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Publish(area, feature string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{Area: area, Feature: feature, Data: maps.Clone(data)})
}

// Records returns the records published so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Feature returns the records for one feature, in publish order.
func (m *Memory) Feature(feature string) []Record {
	var matching []Record
	for _, record := range m.Records() {
		if record.Feature == feature {
			matching = append(matching, record)
		}
	}
	return matching
}

// Tee publishes every record to all sinks.
type Tee []execution.TelemetrySink

func (t Tee) Publish(area, feature string, data map[string]any) {
	for _, sink := range t {
		sink.Publish(area, feature, data)
	}
}

var (
	_ execution.TelemetrySink = (*FileSink)(nil)
	_ execution.TelemetrySink = (*Memory)(nil)
	_ execution.TelemetrySink = Tee(nil)
)
