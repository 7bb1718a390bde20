// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Sniffed types that are unreliable on content alone: TIFF containers
// are shared by camera RAW formats, XML by SVG, gzip by compressed SVG.
// For these the file extension decides when it maps to a known type.
var ambiguousMimeTypes = map[string]bool{
	"image/tiff":       true,
	"application/xml":  true,
	"text/xml":         true,
	"application/gzip": true,
}

var extensionMimeTypes = map[string]string{
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".arw":  "image/x-sony-arw",
	".cr2":  "image/x-canon-cr2",
	".cr3":  "image/x-canon-cr3",
	".dng":  "image/x-adobe-dng",
	".nef":  "image/x-nikon-nef",
	".orf":  "image/x-olympus-orf",
	".raf":  "image/x-fuji-raf",
	".rw2":  "image/x-panasonic-rw2",
	".svg":  "image/svg+xml",
	".svgz": "image/svg+xml-compressed",
}

// sniffMimeType determines the input's MIME type from its leading
// bytes, preferring the file extension where content sniffing cannot
// distinguish (TIFF-based RAW formats, SVG inside XML or gzip).
func sniffMimeType(head []byte, filename string) string {
	detected := mimetype.Detect(head)
	mime := strings.ToLower(detected.String())
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	if filename != "" && ambiguousMimeTypes[mime] {
		ext := strings.ToLower(filepath.Ext(filename))
		if byExt, ok := extensionMimeTypes[ext]; ok {
			return byExt
		}
	}
	return mime
}
