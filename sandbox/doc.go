// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox launches image codec workers in isolated execution
// environments.
//
// A [Selector] expresses the caller's sandboxing policy (Auto, Contained,
// HostSpawn, Disabled) and [Resolve] maps it to a concrete [Mechanism]
// using an environment [Probe]: on an unrestricted host the contained
// mechanism uses bubblewrap (bwrap) Linux namespaces; inside a restricted
// host environment the worker is delegated to the host portal spawner;
// in a development instance of a restricted environment no installed
// worker exists, so sandboxing is disabled rather than failing every load.
//
// [Launch] starts the worker under the resolved mechanism with a connected
// socketpair: the worker inherits one end as file descriptor 3 and speaks
// the framed protocol over it, the returned [Handle] owns the other end
// together with the process. Filesystem visibility under bwrap is
// allowlist-only: /usr and the library directories read-only, a tmpfs
// HOME, the worker binary itself, and nothing else unless the registry
// entry asks for the input file's base directory.
//
// A worker that fails to start surfaces an error; the mechanism is never
// silently downgraded.
package sandbox
