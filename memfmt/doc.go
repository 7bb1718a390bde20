// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package memfmt defines the closed set of pixel memory formats a
// worker can emit, the acceptance bitset callers use to constrain
// them, and the in-process conversion between any two formats.
//
// A Format describes a concrete pixel layout: channel order, channel
// width, integer or float channels, and whether color channels are
// premultiplied by alpha. The set is closed — workers and callers
// negotiate exclusively over these 23 layouts, and Convert is total
// over the set, so negotiation can never fail at runtime.
//
// Format ordinals are wire and bitset positions. They are stable
// protocol constants; changing them breaks compatibility with
// existing workers.
package memfmt
