// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for the key material
// and decrypted secret variables the agent handles.
//
// On Linux, [Buffer] allocates memory outside the Go heap via
// mmap(MAP_ANONYMOUS), locks it into physical RAM via mlock, and marks
// it excluded from core dumps via madvise(MADV_DONTDUMP). Other
// platforms fall back to a heap slice. On Close, the memory is zeroed
// and released.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFromPath] -- reads a file or stdin, trimming whitespace
//
// Access via [Buffer.Bytes] (slice into the buffer) or [Buffer.String]
// (heap copy for API boundaries). After Close, any access panics.
// Close is idempotent.
//
// Imported by lib/sealed for age identities and opened bundles.
package secret
