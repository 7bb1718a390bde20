// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Pictor-worker-mock is a stand-in codec worker for exercising the
// broker end to end without real format parsers. It speaks the framed
// protocol on an inherited file descriptor and serves a fixed scripted
// image for a handful of MIME types: a 4x4 RGBA still for image/png
// and image/jpeg, a three-frame animation for image/gif. The encode
// and edit sides produce deterministic blobs.
//
// Registry entry:
//
//	loaders:
//	  image/png:
//	    exec: /path/to/pictor-worker-mock
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pictor-project/pictor/lib/version"
	"github.com/pictor-project/pictor/lib/workermock"
	"github.com/pictor-project/pictor/memfmt"
	"github.com/pictor-project/pictor/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pictor-worker-mock:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		fd          = flag.Int("fd", 3, "inherited file descriptor carrying the framed protocol")
		showVersion = flag.Bool("version", false, "print version information and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return nil
	}

	conn := os.NewFile(uintptr(*fd), "protocol-socket")
	if conn == nil {
		return fmt.Errorf("file descriptor %d is not open", *fd)
	}
	defer conn.Close()

	still := &workermock.Image{
		Info: wire.ImageInfo{
			Width:       4,
			Height:      4,
			Orientation: 1,
			FormatName:  "Mock",
			Metadata:    map[string]string{"generator": "pictor-worker-mock"},
		},
		Frames: []workermock.Frame{
			workermock.SolidFrame(4, 4, memfmt.R8G8B8A8, []byte{128, 64, 32, 255}),
		},
	}

	animated := &workermock.Image{
		Info: wire.ImageInfo{Width: 4, Height: 4, Orientation: 1, FormatName: "Mock animation"},
	}
	for i := 0; i < 3; i++ {
		frame := workermock.SolidFrame(4, 4, memfmt.R8G8B8A8, []byte{byte(85 * i), 0, 0, 255})
		frame.DelayMicros = 100000
		animated.Frames = append(animated.Frames, frame)
	}

	worker := &workermock.Worker{
		Images: map[string]*workermock.Image{
			"image/png":  still,
			"image/jpeg": still,
			"image/gif":  animated,
		},
		EncodeCaps: wire.EncodeCaps{Metadata: true, Quality: true, Compression: true},
		EditMimeTypes: map[string]bool{
			"image/png":  true,
			"image/jpeg": true,
			"image/gif":  true,
		},
	}

	// The broker closing the channel is the normal end of a session.
	if err := worker.Serve(conn); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
