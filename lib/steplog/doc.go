// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package steplog writes the user-facing log of a job's steps.
//
// [Log] renders step output and issues as timestamped lines and masks
// every registered secret before the text reaches its writer. The
// writer is usually the terminal combined with an archive from
// [NewArchiveWriter], which stores the log plain or compressed with
// zstd or lz4. [OpenArchive] reads any of these back, detecting the
// compression from the frame header.
package steplog
