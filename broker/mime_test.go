// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "testing"

func TestSniffMimeType(t *testing.T) {
	tests := []struct {
		name     string
		head     []byte
		filename string
		want     string
	}{
		{"png by content", pngHeader, "", "image/png"},
		{"png ignores extension", pngHeader, "photo.tiff", "image/png"},
		{
			"tiff defers to raw extension",
			[]byte{'I', 'I', 0x2a, 0x00, 8, 0, 0, 0},
			"shot.cr2",
			"image/x-canon-cr2",
		},
		{
			"tiff without extension stays tiff",
			[]byte{'I', 'I', 0x2a, 0x00, 8, 0, 0, 0},
			"",
			"image/tiff",
		},
		{
			"xml defers to svg extension",
			[]byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"/>`),
			"icon.svg",
			"image/svg+xml",
		},
		{
			"gzip defers to svgz extension",
			[]byte{0x1f, 0x8b, 0x08, 0, 0, 0, 0, 0},
			"icon.svgz",
			"image/svg+xml-compressed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sniffMimeType(tt.head, tt.filename); got != tt.want {
				t.Errorf("sniffMimeType = %q, want %q", got, tt.want)
			}
		})
	}
}
