// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
)

// HostSpawnOptions holds options for building a host portal spawn
// command line.
type HostSpawnOptions struct {
	// WorkerExec is the path of the worker binary as seen by the host
	// spawner (it resolves the installed application's own copy).
	WorkerExec string

	// WorkerArgs are arguments passed to the worker binary.
	WorkerArgs []string

	// ForwardFd is the file descriptor number forwarded into the
	// spawned worker (the protocol socket).
	ForwardFd int
}

// hostSpawnPath is the portal client used to spawn a sandboxed worker
// from inside a restricted host environment.
const hostSpawnPath = "flatpak-spawn"

// BuildHostSpawn constructs the argument vector for spawning the worker
// through the host portal. The first element is the spawner binary.
func BuildHostSpawn(opts *HostSpawnOptions) ([]string, error) {
	if opts.WorkerExec == "" {
		return nil, fmt.Errorf("worker executable is required")
	}

	args := []string{
		hostSpawnPath,
		"--sandbox",
		// Tie the worker's life to the requesting instance.
		"--watch-bus",
		// Working directory must exist in the spawned sandbox.
		"--directory=/",
		fmt.Sprintf("--forward-fd=%d", opts.ForwardFd),
	}

	for _, key := range inheritedEnv {
		if value, ok := os.LookupEnv(key); ok {
			args = append(args, fmt.Sprintf("--env=%s=%s", key, value))
		}
	}

	args = append(args, opts.WorkerExec)
	args = append(args, opts.WorkerArgs...)
	return args, nil
}
