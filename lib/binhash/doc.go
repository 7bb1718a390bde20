// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash hashes worker executables so the registry can pin
// the exact binary a configuration entry trusts. A worker launched
// into the sandbox parses attacker-controlled bytes; verifying the
// binary before launch ensures a swapped executable is refused rather
// than handed the input.
package binhash
