// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the agent's CBOR configuration.
//
// The agent uses JSON where tasks or people read the data (environment
// values such as ENDPOINT_AUTH_<key>, job definition files, CLI
// output) and CBOR for its own files, such as the telemetry record
// stream. Every package encodes through this package so the
// configuration lives in one place. The encoder is deterministic: the
// same logical value always produces identical bytes.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// Types serialized only as CBOR carry `cbor` struct tags. Types that
// also appear as JSON carry `json` tags only; fxamacker/cbor falls back
// to them. Never put both on one field.
package codec
