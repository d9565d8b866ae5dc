// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/codec"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/steplog"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/telemetry"
)

// telemetryLine is the JSON form of a record.
type telemetryLine struct {
	Time    string         `json:"time"`
	Job     string         `json:"job,omitempty"`
	Area    string         `json:"area"`
	Feature string         `json:"feature"`
	Data    map[string]any `json:"data,omitempty"`
}

// runTelemetry prints a telemetry file as JSON lines, or in CBOR
// diagnostic notation with --diagnostic.
func (c *cli) runTelemetry(args []string) error {
	var (
		feature    string
		diagnostic bool
	)
	flagSet := pflag.NewFlagSet("agent-step telemetry", pflag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	flagSet.StringVar(&feature, "feature", "", "only print records of this feature")
	flagSet.BoolVar(&diagnostic, "diagnostic", false, "print CBOR diagnostic notation instead of JSON")
	flagSet.Usage = func() {
		fmt.Fprintf(c.stderr, "Usage: agent-step telemetry [flags] <file>\n\nFlags:\n%s", flagSet.FlagUsages())
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError("%v", err)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return usageError("exactly one telemetry file required")
	}

	file, err := os.Open(flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer file.Close()
	reader, err := telemetry.NewReader(file)
	if err != nil {
		return err
	}
	defer reader.Close()

	encoder := json.NewEncoder(c.stdout)
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if feature != "" && record.Feature != feature {
			continue
		}

		if diagnostic {
			encoded, err := codec.Marshal(record)
			if err != nil {
				return err
			}
			notation, err := codec.Diagnose(encoded)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, notation)
			continue
		}
		if err := encoder.Encode(telemetryLine{
			Time:    record.Time.UTC().Format(time.RFC3339Nano),
			Job:     record.Job,
			Area:    record.Area,
			Feature: record.Feature,
			Data:    record.Data,
		}); err != nil {
			return err
		}
	}
}

// runLog decompresses a step log archive to stdout.
func (c *cli) runLog(args []string) error {
	flagSet := pflag.NewFlagSet("agent-step log", pflag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	flagSet.Usage = func() {
		fmt.Fprintf(c.stderr, "Usage: agent-step log <archive>\n")
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError("%v", err)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return usageError("exactly one archive required")
	}

	file, err := os.Open(flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer file.Close()
	archive, err := steplog.OpenArchive(file)
	if err != nil {
		return err
	}
	defer archive.Close()
	if _, err := io.Copy(c.stdout, archive); err != nil {
		return fmt.Errorf("reading step log archive: %w", err)
	}
	return nil
}
