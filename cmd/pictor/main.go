// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Pictor is a command-line client for the sandboxed image codec broker.
//
// Subcommands:
//   - info: load an image and print its properties and metadata
//   - decode: decode a frame to a raw texture file
//   - encode: re-encode an image into another format
//   - edit: apply rotate/mirror/clip operations to an image file
//   - list-formats: print the MIME types with registered workers
//   - version: print build version information
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/pictor-project/pictor/broker"
	"github.com/pictor-project/pictor/lib/version"
	"github.com/pictor-project/pictor/memfmt"
	"github.com/pictor-project/pictor/sandbox"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pictor:", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: pictor <info|decode|encode|edit|list-formats|version> [flags]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("PICTOR_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("missing subcommand")
	}

	switch args[0] {
	case "info":
		return cmdInfo(ctx, args[1:])
	case "decode":
		return cmdDecode(ctx, args[1:])
	case "encode":
		return cmdEncode(ctx, args[1:])
	case "edit":
		return cmdEdit(ctx, args[1:])
	case "list-formats":
		return cmdListFormats()
	case "version":
		fmt.Println(version.Full())
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

// addSandboxFlag registers the shared -sandbox flag on fs.
func addSandboxFlag(fs *flag.FlagSet) *string {
	return fs.String("sandbox", "auto", "sandbox selector: auto, contained, host-spawn, or disabled")
}

func newLoader(path, sandboxName string) (*broker.Loader, error) {
	selector, err := sandbox.ParseSelector(sandboxName)
	if err != nil {
		return nil, err
	}
	loader := broker.NewLoader(path)
	loader.SetSandboxSelector(selector)
	return loader, nil
}

func cmdInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	sandboxName := addSandboxFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: pictor info [flags] <image>")
	}

	loader, err := newLoader(fs.Arg(0), *sandboxName)
	if err != nil {
		return err
	}
	image, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	defer image.Close()

	fmt.Printf("mime-type:   %s\n", image.MimeType())
	if image.FormatName() != "" {
		fmt.Printf("format:      %s\n", image.FormatName())
	}
	fmt.Printf("dimensions:  %dx%d\n", image.Width(), image.Height())
	fmt.Printf("orientation: %d\n", image.Orientation())

	frame, err := image.NextFrame(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("memory-format: %s\n", frame.Format)
	if frame.DelayMicros > 0 {
		fmt.Printf("animated:    yes (%dus per frame)\n", frame.DelayMicros)
	}
	if frame.ICCProfile != nil {
		fmt.Printf("icc-profile: %d bytes\n", len(frame.ICCProfile))
	}
	if frame.CICP != nil {
		fmt.Printf("cicp:        %v\n", *frame.CICP)
	}

	if len(image.Metadata()) > 0 {
		keys := make([]string, 0, len(image.Metadata()))
		for key := range image.Metadata() {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Println("metadata:")
		for _, key := range keys {
			fmt.Printf("  %s: %s\n", key, image.Metadata()[key])
		}
	}
	return nil
}

func cmdDecode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	sandboxName := addSandboxFlag(fs)
	out := fs.String("out", "", "output file for the raw texture (required)")
	formatName := fs.String("format", "", "memory format to convert to (default: the worker's native format)")
	frameIndex := fs.Uint64("frame", 0, "frame index to decode")
	fs.Parse(args)
	if fs.NArg() != 1 || *out == "" {
		return fmt.Errorf("usage: pictor decode [flags] -out <file> <image>")
	}

	loader, err := newLoader(fs.Arg(0), *sandboxName)
	if err != nil {
		return err
	}
	if *formatName != "" {
		format, err := parseFormat(*formatName)
		if err != nil {
			return err
		}
		loader.SetAcceptedFormats(memfmt.Select(format))
	}

	image, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	defer image.Close()

	frame, err := image.SpecificFrame(ctx, *frameIndex)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, frame.Bytes, 0o644); err != nil {
		return fmt.Errorf("writing texture: %w", err)
	}
	fmt.Printf("wrote %d bytes: %dx%d %s, stride %d\n",
		len(frame.Bytes), frame.Width, frame.Height, frame.Format, frame.Stride)
	return nil
}

func cmdEncode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	sandboxName := addSandboxFlag(fs)
	out := fs.String("out", "", "output file (required)")
	mime := fs.String("mime", "", "target MIME type (required)")
	quality := fs.Int("quality", -1, "lossy quality 0-100 (formats that support it)")
	fs.Parse(args)
	if fs.NArg() != 1 || *out == "" || *mime == "" {
		return fmt.Errorf("usage: pictor encode [flags] -out <file> -mime <type> <image>")
	}

	loader, err := newLoader(fs.Arg(0), *sandboxName)
	if err != nil {
		return err
	}
	image, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	defer image.Close()

	creator, err := broker.NewCreator(*mime)
	if err != nil {
		return err
	}
	selector, _ := sandbox.ParseSelector(*sandboxName)
	creator.SetSandboxSelector(selector)
	if *quality >= 0 {
		if !creator.SetQuality(uint8(*quality)) {
			slog.Warn("target format does not support quality; ignoring", "mime", *mime)
		}
	}
	for key, value := range image.Metadata() {
		creator.SetMetadata(key, value)
	}

	// Pull every frame once, without wrapping, so animations re-encode
	// completely.
	req := broker.NewFrameRequest()
	req.LoopAnimation = false
	for {
		frame, err := image.NextFrameWith(ctx, req)
		if err != nil {
			if broker.IsNoMoreFrames(err) {
				break
			}
			return err
		}
		if err := creator.AddFrame(frame); err != nil {
			return err
		}
	}

	encoded, err := creator.Create(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, encoded.Data, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(encoded.Data), *out)
	return nil
}

func cmdEdit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	sandboxName := addSandboxFlag(fs)
	out := fs.String("out", "", "output file (default: rewrite the input in place)")
	rotate := fs.Uint("rotate", 0, "counter-clockwise rotation: 90, 180, or 270 degrees")
	mirror := fs.String("mirror", "", "mirror axis: horizontal or vertical")
	clip := fs.String("clip", "", "crop rectangle as x,y,width,height")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: pictor edit [flags] <image>")
	}
	input := fs.Arg(0)

	var ops []broker.EditOperation
	switch *mirror {
	case "":
	case "horizontal":
		ops = append(ops, broker.MirrorHorizontal())
	case "vertical":
		ops = append(ops, broker.MirrorVertical())
	default:
		return fmt.Errorf("unknown mirror axis %q", *mirror)
	}
	if *rotate != 0 {
		ops = append(ops, broker.Rotate(uint16(*rotate)))
	}
	if *clip != "" {
		var x, y, width, height uint32
		if _, err := fmt.Sscanf(*clip, "%d,%d,%d,%d", &x, &y, &width, &height); err != nil {
			return fmt.Errorf("parsing -clip %q: %w", *clip, err)
		}
		ops = append(ops, broker.Clip(x, y, width, height))
	}
	if len(ops) == 0 {
		return fmt.Errorf("no edit operation given; use -rotate, -mirror, or -clip")
	}

	selector, err := sandbox.ParseSelector(*sandboxName)
	if err != nil {
		return err
	}
	editor := broker.NewEditor(input)
	editor.SetSandboxSelector(selector)

	edited, err := editor.Apply(ctx, ops...)
	if err != nil {
		return err
	}
	target := *out
	if target == "" {
		target = input
	}
	if err := os.WriteFile(target, edited.Data, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	how := "rewritten"
	if edited.Sparse {
		how = "edited in place"
	}
	fmt.Printf("wrote %d bytes to %s (%s)\n", len(edited.Data), target, how)
	return nil
}

func cmdListFormats() error {
	fmt.Println("loaders:")
	for _, mime := range broker.SupportedMimeTypes() {
		fmt.Printf("  %s\n", mime)
	}
	encoders := broker.SupportedEncoderMimeTypes()
	if len(encoders) > 0 {
		fmt.Println("encoders:")
		for _, mime := range encoders {
			fmt.Printf("  %s\n", mime)
		}
	}
	editors := broker.SupportedEditorMimeTypes()
	if len(editors) > 0 {
		fmt.Println("editors:")
		for _, mime := range editors {
			fmt.Printf("  %s\n", mime)
		}
	}
	return nil
}

// parseFormat resolves a memory format by its name, such as
// "R8G8B8A8".
func parseFormat(name string) (memfmt.Format, error) {
	for f := memfmt.Format(0); f < memfmt.FormatCount; f++ {
		if strings.EqualFold(f.String(), name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown memory format %q", name)
}
