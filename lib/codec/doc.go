// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the project-standard CBOR encoding
// configuration.
//
// The broker↔worker protocol encodes all message metadata as CBOR.
// This package holds the shared encoder and decoder modes so both
// sides of the trust boundary encode identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces
// identical bytes, which keeps protocol traces diffable.
//
// All protocol types carry `cbor` struct tags; they are never
// serialized as JSON.
package codec
