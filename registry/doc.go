// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry maps MIME types to the sandboxed worker
// executables that can decode or encode them.
//
// Worker descriptors are loaded from YAML files in the configured
// data directories. Each file may register any number of loader and
// encoder entries; across files, the first registration of a MIME
// type wins, so earlier directories in the search path override later
// ones. There is no runtime plugin loading — the table is static for
// the life of the process.
//
// The process-wide registry is built lazily on first use and cached;
// concurrent first uses coalesce into a single build.
package registry
