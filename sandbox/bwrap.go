// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BwrapOptions holds options for building a bwrap command line.
type BwrapOptions struct {
	// WorkerExec is the absolute path of the worker binary.
	WorkerExec string

	// WorkerArgs are arguments passed to the worker binary.
	WorkerArgs []string

	// BaseDir, when non-empty, is bind-mounted read-only so the worker
	// can resolve resources next to the input file. Only set when the
	// registry entry opts in.
	BaseDir string

	// ExtraRoBinds are additional read-only bind mounts.
	ExtraRoBinds []string

	// ExtraEnv are environment variables set inside the sandbox.
	ExtraEnv map[string]string
}

// Environment variables forwarded from the parent into the sandbox when
// they are set.
var inheritedEnv = []string{"PICTOR_DEBUG", "XDG_RUNTIME_DIR"}

// BwrapBuilder builds bubblewrap command-line arguments. The filesystem
// view is allowlist-only: /usr read-only, the root lib directories and
// UsrMerge symlinks, a private /dev, tmpfs stand-ins for HOME and the
// runtime dir, and the worker binary itself when it lives outside /usr.
type BwrapBuilder struct {
	args []string
	env  map[string]string

	// mounted tracks bind destinations so nested paths are skipped.
	mounted []string
}

// NewBwrapBuilder creates a new builder.
func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{env: make(map[string]string)}
}

// Build constructs the bwrap arguments from options.
func (b *BwrapBuilder) Build(opts *BwrapOptions) ([]string, error) {
	if opts.WorkerExec == "" {
		return nil, fmt.Errorf("worker executable is required")
	}

	b.args = []string{
		"--unshare-all",
		"--die-with-parent",
		// Working directory must exist inside the new mount namespace.
		"--chdir", "/",
		"--ro-bind", "/usr", "/usr",
		"--dev", "/dev",
		"--proc", "/proc",
		// Linker configuration, when the host has one.
		"--ro-bind-try", "/etc/ld.so.cache", "/etc/ld.so.cache",
		// Systems with a Nix store keep everything there.
		"--ro-bind-try", "/nix/store", "/nix/store",
		// Fake HOME and runtime dir so libraries do not warn.
		"--tmpfs", "/tmp-home",
		"--tmpfs", "/tmp-run",
	}
	b.env = map[string]string{
		"HOME":            "/tmp-home",
		"XDG_RUNTIME_DIR": "/tmp-run",
	}
	b.mounted = []string{"/usr", "/nix/store"}

	b.addLibDirs()

	// The worker binary is only reachable if mounted. Binaries under
	// /usr are already covered.
	if !strings.HasPrefix(opts.WorkerExec, "/usr/") {
		b.roBind(opts.WorkerExec)
	}

	if opts.BaseDir != "" {
		b.roBind(opts.BaseDir)
	}
	for _, path := range opts.ExtraRoBinds {
		b.roBind(path)
	}

	b.args = append(b.args, "--clearenv")

	for _, key := range inheritedEnv {
		if value, ok := os.LookupEnv(key); ok {
			b.env[key] = value
		}
	}
	for key, value := range opts.ExtraEnv {
		b.env[key] = value
	}

	// Sort keys for deterministic output.
	envKeys := make([]string, 0, len(b.env))
	for key := range b.env {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		b.args = append(b.args, "--setenv", key, b.env[key])
	}

	b.args = append(b.args, "--", opts.WorkerExec)
	b.args = append(b.args, opts.WorkerArgs...)

	return b.args, nil
}

// addLibDirs exposes the root-level lib directories. On UsrMerged
// systems entries like /lib64 are symlinks into /usr and are recreated
// as symlinks; real directories are bind-mounted read-only.
func (b *BwrapBuilder) addLibDirs() {
	entries, err := os.ReadDir("/")
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "lib") {
			continue
		}
		path := "/" + entry.Name()
		if entry.Type()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil || !strings.HasPrefix(target, "/usr/") {
				continue
			}
			b.args = append(b.args, "--symlink", target, path)
		} else if entry.IsDir() {
			b.args = append(b.args, "--ro-bind", path, path)
			b.mounted = append(b.mounted, path)
		}
	}
}

// roBind bind-mounts path read-only at the same location, resolving
// symlinks and skipping paths already covered by an earlier mount.
func (b *BwrapBuilder) roBind(path string) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return
	}
	for _, prefix := range b.mounted {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+"/") {
			return
		}
	}
	if resolved != path {
		b.args = append(b.args, "--symlink", resolved, path)
	}
	b.args = append(b.args, "--ro-bind", resolved, resolved)
	b.mounted = append(b.mounted, resolved)
}

// BwrapPath returns the path to the bwrap executable.
func BwrapPath() (string, error) {
	paths := []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}
