// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry stores the structured telemetry steps publish.
//
// A [FileSink] writes each published event as a [Record] to a CBOR
// sequence (encoded with lib/codec) inside one zstd stream. Telemetry
// never fails a step: write errors are logged once and later records
// dropped. [ReadFile] and [Reader] read the file back; the agent-step
// binary prints it with its telemetry subcommand.
package telemetry
