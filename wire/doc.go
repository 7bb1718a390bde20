// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the framed request/response protocol spoken
// between the broker and a sandboxed codec worker over their private
// duplex channel.
//
// Every message is a fixed 18-byte header followed by two payload
// sections: a CBOR-encoded metadata section and an optional raw byte
// section. Pixel buffers and encoded image bytes travel in the raw
// section so that decoded data crosses the trust boundary exactly
// once, without being re-encoded into CBOR. The raw section may be
// lz4- or zstd-compressed; the metadata section never is.
//
// Requests carry a monotonically increasing sequence number; the
// matching response echoes it with the response bit set on the
// operation code. The protocol is strict request/response with no
// pipelining or reordering.
package wire
