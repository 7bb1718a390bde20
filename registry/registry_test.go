// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pictor-project/pictor/lib/binhash"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "raster.yaml", `
loaders:
  image/png:
    exec: /usr/libexec/pictor-worker-raster
  image/gif:
    exec: /usr/libexec/pictor-worker-raster
encoders:
  image/png:
    exec: /usr/libexec/pictor-worker-raster
    compression: true
    metadata: true
`)

	registry := Load([]string{dir}, nil)

	loader, err := registry.Loader("image/png")
	if err != nil {
		t.Fatalf("Loader failed: %v", err)
	}
	if loader.Exec != "/usr/libexec/pictor-worker-raster" {
		t.Errorf("exec = %q", loader.Exec)
	}

	encoder, err := registry.Encoder("image/png")
	if err != nil {
		t.Fatalf("Encoder failed: %v", err)
	}
	if !encoder.Compression || !encoder.Metadata || encoder.Quality {
		t.Errorf("capabilities = %+v", encoder)
	}

	if got := registry.MimeTypes(); !reflect.DeepEqual(got, []string{"image/gif", "image/png"}) {
		t.Errorf("MimeTypes = %v", got)
	}
	if got := registry.EncoderMimeTypes(); !reflect.DeepEqual(got, []string{"image/png"}) {
		t.Errorf("EncoderMimeTypes = %v", got)
	}
}

func TestUnknownMimeType(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "raster.yaml", `
loaders:
  image/png:
    exec: /usr/libexec/pictor-worker-raster
`)
	registry := Load([]string{dir}, nil)

	if _, err := registry.Loader("image/heif"); !errors.Is(err, ErrUnknownMimeType) {
		t.Errorf("Loader error = %v, want ErrUnknownMimeType", err)
	}
	if _, err := registry.Encoder("image/png"); !errors.Is(err, ErrUnknownMimeType) {
		t.Errorf("Encoder error = %v, want ErrUnknownMimeType", err)
	}
}

func TestNoWorkersConfigured(t *testing.T) {
	registry := Load([]string{t.TempDir()}, nil)
	if _, err := registry.Loader("image/png"); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("Loader error = %v, want ErrNoWorkers", err)
	}
}

func TestFirstRegistrationWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeConfig(t, first, "override.yaml", `
loaders:
  image/png:
    exec: /opt/custom/worker
`)
	writeConfig(t, second, "system.yaml", `
loaders:
  image/png:
    exec: /usr/libexec/pictor-worker-raster
  image/jpeg:
    exec: /usr/libexec/pictor-worker-raster
`)

	registry := Load([]string{first, second}, nil)

	loader, err := registry.Loader("image/png")
	if err != nil {
		t.Fatal(err)
	}
	if loader.Exec != "/opt/custom/worker" {
		t.Errorf("override lost: exec = %q", loader.Exec)
	}
	if _, err := registry.Loader("image/jpeg"); err != nil {
		t.Errorf("later directory entry missing: %v", err)
	}
}

func TestBrokenFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "aaa-broken.yaml", "loaders: [not a map")
	writeConfig(t, dir, "bbb-good.yaml", `
loaders:
  image/png:
    exec: /usr/libexec/pictor-worker-raster
`)
	registry := Load([]string{dir}, nil)
	if _, err := registry.Loader("image/png"); err != nil {
		t.Errorf("good file should survive a broken sibling: %v", err)
	}
}

func TestRejectedFileRegistersNothing(t *testing.T) {
	dir := t.TempDir()
	// The loader entry is fine; the encoder entry is missing its exec.
	// The whole file must be skipped, not just the encoder.
	writeConfig(t, dir, "partial.yaml", `
loaders:
  image/png:
    exec: /usr/libexec/pictor-worker-raster
encoders:
  image/png: {}
`)
	writeConfig(t, dir, "zzz-good.yaml", `
loaders:
  image/gif:
    exec: /usr/libexec/pictor-worker-raster
`)
	registry := Load([]string{dir}, nil)

	if _, err := registry.Loader("image/png"); !errors.Is(err, ErrUnknownMimeType) {
		t.Errorf("loader from rejected file registered: err = %v", err)
	}
	if _, err := registry.Loader("image/gif"); err != nil {
		t.Errorf("good sibling lost: %v", err)
	}
}

func TestEditorLookup(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "jpeg.yaml", `
editors:
  image/jpeg:
    exec: /usr/libexec/pictor-worker-raster
`)
	registry := Load([]string{dir}, nil)

	editor, err := registry.Editor("image/jpeg")
	if err != nil {
		t.Fatalf("Editor failed: %v", err)
	}
	if editor.Exec != "/usr/libexec/pictor-worker-raster" {
		t.Errorf("exec = %q", editor.Exec)
	}
	if _, err := registry.Editor("image/png"); !errors.Is(err, ErrUnknownMimeType) {
		t.Errorf("Editor error = %v, want ErrUnknownMimeType", err)
	}
	if got := registry.EditorMimeTypes(); !reflect.DeepEqual(got, []string{"image/jpeg"}) {
		t.Errorf("EditorMimeTypes = %v", got)
	}
}

func TestVerifyBinary(t *testing.T) {
	dir := t.TempDir()
	exec := filepath.Join(dir, "worker")
	if err := os.WriteFile(exec, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	digest, err := binhash.HashFile(exec)
	if err != nil {
		t.Fatal(err)
	}

	good := Worker{Exec: exec, Verify: digest.String()}
	if err := good.VerifyBinary(); err != nil {
		t.Errorf("matching digest should verify: %v", err)
	}

	bad := Worker{Exec: exec, Verify: "00e9aa68b1b1b52b6712b357d4a4e03ef2744c312ebeb7f4100e9aa68b1b1b52"}
	if err := bad.VerifyBinary(); err == nil {
		t.Error("mismatched digest should fail verification")
	}

	unpinned := Worker{Exec: exec}
	if err := unpinned.VerifyBinary(); err != nil {
		t.Errorf("unpinned worker should verify: %v", err)
	}
}

func TestCacheCoalescesConcurrentBuilds(t *testing.T) {
	var builds atomic.Int32
	cache := NewCache(func() *Registry {
		builds.Add(1)
		return Load(nil, nil)
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Get()
		}()
	}
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Errorf("registry built %d times, want 1", got)
	}
}

func TestDataDirsOverride(t *testing.T) {
	t.Setenv("PICTOR_DATA_DIR", "/tmp/pictor-test-workers")
	if got := DataDirs(); len(got) != 1 || got[0] != "/tmp/pictor-test-workers" {
		t.Errorf("DataDirs = %v", got)
	}
}
