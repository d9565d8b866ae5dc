// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for a job's secret variables.
//
// A bundle is the base64 age ciphertext of a JSON object mapping
// variable names to values. It is sealed to one or more agent public
// keys ([SealVariables]) and opened on the agent with its identity
// ([OpenVariables]), which yields execution.Variable values with the
// Secret flag set. Identities and decrypted plaintext are held in
// [secret.Buffer] values and zeroed on Close.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Encrypt] / [Decrypt] -- base64 age ciphertext
//   - [SealVariables] / [OpenVariables] -- secret-variable bundles
//   - [ReadBundle] -- reads a bundle file or stdin
//   - [ParsePublicKey] -- recipient validation
//
// Depends on lib/secret for secure memory allocation.
package sealed
