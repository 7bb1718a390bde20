// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package session drives the framed request/response protocol against a
// single worker process.
//
// A [Session] owns the worker's protocol channel and process handle for
// its whole life; workers are never shared. Requests are serialized (at
// most one in flight) and correlated by sequence number. Any transport
// failure, protocol violation, or cancellation tears the session down:
// the channel is closed and the worker killed. Sessions are never
// reused after teardown and never retry; retry policy belongs to the
// caller.
//
// Structured errors the worker reports inside a well-formed response
// are not session failures. They are returned in the [wire.Response]
// for the caller to interpret, and the session stays usable.
package session
