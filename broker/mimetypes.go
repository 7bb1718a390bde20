// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "github.com/pictor-project/pictor/registry"

// SupportedMimeTypes returns the MIME types a loader worker is
// registered for, sorted. The first call builds the process-wide
// registry cache and may block on filesystem reads; later calls return
// the cached result.
func SupportedMimeTypes() []string {
	return registry.Cached().MimeTypes()
}

// SupportedEncoderMimeTypes returns the MIME types an encoder worker
// is registered for, sorted.
func SupportedEncoderMimeTypes() []string {
	return registry.Cached().EncoderMimeTypes()
}

// SupportedEditorMimeTypes returns the MIME types an edit worker is
// registered for, sorted.
func SupportedEditorMimeTypes() []string {
	return registry.Cached().EditorMimeTypes()
}
