// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed seals installation data at rest with age.
//
// Each installation owns an age X25519 keypair. Stored envelopes are
// encrypted to the installation's public key with [Encrypt], which is
// fast enough to run on every message. The private key itself is
// stored sealed under the installation's database key with
// [EncryptWithPassphrase] (age's scrypt recipient), so opening an
// installation requires the database key and a wrong key fails with
// [ErrWrongKey] before any message is read.
//
// Ciphertext is raw binary for SQLite BLOB columns. Private keys and
// passphrases travel in [secret.Buffer] values.
package sealed
