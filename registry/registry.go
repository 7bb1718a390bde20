// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pictor-project/pictor/lib/binhash"
)

// ErrUnknownMimeType is wrapped by lookups for MIME types no worker
// claims.
var ErrUnknownMimeType = errors.New("no worker registered for MIME type")

// ErrNoWorkers is returned when no configuration file registered any
// loader at all, usually meaning the worker package is not installed.
var ErrNoWorkers = errors.New("no image workers are configured")

// Worker describes one sandboxed worker executable.
type Worker struct {
	// Exec is the absolute path of the worker executable.
	Exec string `yaml:"exec"`

	// ExposeBaseDir grants the worker read access to the input
	// file's directory. Needed by formats that reference external
	// files (SVG); off by default because it widens the sandbox.
	ExposeBaseDir bool `yaml:"expose_base_dir"`

	// Verify optionally pins the BLAKE3 digest of the executable.
	// When set, the binary is hashed before launch and a mismatch
	// refuses the launch.
	Verify string `yaml:"verify"`
}

// VerifyBinary checks the executable against the pinned digest. A
// Worker without a pin always passes.
func (w Worker) VerifyBinary() error {
	if w.Verify == "" {
		return nil
	}
	want, err := binhash.Parse(w.Verify)
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.Exec, err)
	}
	got, err := binhash.HashFile(w.Exec)
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.Exec, err)
	}
	if got != want {
		return fmt.Errorf("worker %s: binary digest %s does not match pinned %s", w.Exec, got, want)
	}
	return nil
}

// Encoder describes a worker that can also encode, with its optional
// encode capabilities. The capability flags mirror what the worker
// will report in its InitEncode response; keeping them in the
// registry lets Creator answer capability questions without starting
// a worker.
type Encoder struct {
	Worker `yaml:",inline"`

	// Quality reports support for a lossy quality setting.
	Quality bool `yaml:"quality"`

	// Compression reports support for a lossless effort setting.
	Compression bool `yaml:"compression"`

	// Metadata reports support for key/value metadata.
	Metadata bool `yaml:"metadata"`

	// ICCProfile reports support for attaching ICC profiles.
	ICCProfile bool `yaml:"icc_profile"`
}

// Registry is the immutable MIME type → worker table.
type Registry struct {
	loaders  map[string]Worker
	encoders map[string]Encoder
	editors  map[string]Worker
}

// configFile is the YAML shape of one registration file.
type configFile struct {
	Loaders  map[string]Worker  `yaml:"loaders"`
	Encoders map[string]Encoder `yaml:"encoders"`
	Editors  map[string]Worker  `yaml:"editors"`
}

// Load builds a registry from every *.yaml file in the given
// directories, in order. The first registration of a MIME type wins.
// Unreadable files and directories are logged and skipped — a broken
// drop-in must not take down every other format.
func Load(dirs []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	registry := &Registry{
		loaders:  make(map[string]Worker),
		encoders: make(map[string]Encoder),
		editors:  make(map[string]Worker),
	}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("skipping worker config directory", "dir", dir, "error", err)
			}
			continue
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
				continue
			}
			names = append(names, entry.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, name)
			if err := registry.loadFile(path); err != nil {
				logger.Warn("skipping worker config file", "path", path, "error", err)
			}
		}
	}

	return registry
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	// Validate the whole file before registering anything: a rejected
	// file must not leave part of itself behind.
	for mimeType, worker := range file.Loaders {
		if worker.Exec == "" {
			return fmt.Errorf("%s: loader %q has no exec", path, mimeType)
		}
	}
	for mimeType, encoder := range file.Encoders {
		if encoder.Exec == "" {
			return fmt.Errorf("%s: encoder %q has no exec", path, mimeType)
		}
	}
	for mimeType, editor := range file.Editors {
		if editor.Exec == "" {
			return fmt.Errorf("%s: editor %q has no exec", path, mimeType)
		}
	}

	for mimeType, worker := range file.Loaders {
		if _, exists := r.loaders[mimeType]; !exists {
			r.loaders[mimeType] = worker
		}
	}
	for mimeType, encoder := range file.Encoders {
		if _, exists := r.encoders[mimeType]; !exists {
			r.encoders[mimeType] = encoder
		}
	}
	for mimeType, editor := range file.Editors {
		if _, exists := r.editors[mimeType]; !exists {
			r.editors[mimeType] = editor
		}
	}
	return nil
}

// Loader returns the decode worker for a MIME type.
func (r *Registry) Loader(mimeType string) (Worker, error) {
	if len(r.loaders) == 0 {
		return Worker{}, ErrNoWorkers
	}
	worker, ok := r.loaders[mimeType]
	if !ok {
		return Worker{}, fmt.Errorf("%w: %s", ErrUnknownMimeType, mimeType)
	}
	return worker, nil
}

// Encoder returns the encode worker for a MIME type.
func (r *Registry) Encoder(mimeType string) (Encoder, error) {
	encoder, ok := r.encoders[mimeType]
	if !ok {
		return Encoder{}, fmt.Errorf("%w: %s", ErrUnknownMimeType, mimeType)
	}
	return encoder, nil
}

// Editor returns the edit worker for a MIME type.
func (r *Registry) Editor(mimeType string) (Worker, error) {
	editor, ok := r.editors[mimeType]
	if !ok {
		return Worker{}, fmt.Errorf("%w: %s", ErrUnknownMimeType, mimeType)
	}
	return editor, nil
}

// MimeTypes returns the sorted list of decodable MIME types.
func (r *Registry) MimeTypes() []string {
	return sortedKeys(r.loaders)
}

// EncoderMimeTypes returns the sorted list of encodable MIME types.
func (r *Registry) EncoderMimeTypes() []string {
	return sortedKeys(r.encoders)
}

// EditorMimeTypes returns the sorted list of editable MIME types.
func (r *Registry) EditorMimeTypes() []string {
	return sortedKeys(r.editors)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// DataDirs returns the worker configuration search path. The
// PICTOR_DATA_DIR environment variable, when set, replaces the
// built-in path entirely; this is how tests and development builds
// point at a private worker set.
func DataDirs() []string {
	if dir := os.Getenv("PICTOR_DATA_DIR"); dir != "" {
		return []string{dir}
	}
	dirs := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "pictor", "workers"))
	}
	return append(dirs,
		"/usr/local/share/pictor/workers",
		"/usr/share/pictor/workers",
	)
}
