// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pictor-project/pictor/lib/workermock"
	"github.com/pictor-project/pictor/memfmt"
	"github.com/pictor-project/pictor/registry"
	"github.com/pictor-project/pictor/sandbox"
	"github.com/pictor-project/pictor/session"
	"github.com/pictor-project/pictor/wire"
)

// pngHeader is enough of a real PNG signature for MIME sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

// testRegistry returns a registry with PNG loader, encoder, and editor
// entries.
func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	config := `
loaders:
  image/png:
    exec: /usr/libexec/pictor-worker-mock
encoders:
  image/png:
    exec: /usr/libexec/pictor-worker-mock
    quality: true
    metadata: true
editors:
  image/png:
    exec: /usr/libexec/pictor-worker-mock
`
	if err := os.WriteFile(filepath.Join(dir, "mock.yaml"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	return registry.Load([]string{dir}, nil)
}

// mockLaunch adapts a workermock.Worker to the loader's launch hook.
func mockLaunch(w *workermock.Worker) launchFunc {
	return func(ctx context.Context, worker registry.Worker, selector sandbox.Selector, baseDir string) (io.ReadWriteCloser, session.Process, error) {
		return w.Launch()
	}
}

// stillImage scripts a one-frame 4x2 image.
func stillImage() *workermock.Image {
	return &workermock.Image{
		Info: wire.ImageInfo{Width: 4, Height: 2, Orientation: 1, FormatName: "PNG"},
		Frames: []workermock.Frame{
			workermock.SolidFrame(4, 2, memfmt.R8G8B8A8, []byte{10, 20, 30, 255}),
		},
	}
}

// animation scripts a three-frame image with delays.
func animation() *workermock.Image {
	img := &workermock.Image{
		Info: wire.ImageInfo{Width: 2, Height: 2, Orientation: 1},
	}
	for i := 0; i < 3; i++ {
		frame := workermock.SolidFrame(2, 2, memfmt.R8G8B8A8, []byte{byte(i), byte(i), byte(i), 255})
		frame.DelayMicros = 100000
		img.Frames = append(img.Frames, frame)
	}
	return img
}

func loadWithMock(t *testing.T, mock *workermock.Worker, data []byte, configure func(*Loader)) (*Image, error) {
	t.Helper()
	loader := NewLoaderFromBytes(data)
	loader.registry = testRegistry(t)
	loader.launch = mockLaunch(mock)
	if configure != nil {
		configure(loader)
	}
	return loader.Load(context.Background())
}

func TestLoadStillImage(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": stillImage()}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer img.Close()

	if img.MimeType() != "image/png" {
		t.Errorf("MimeType = %q", img.MimeType())
	}
	if img.Width() != 4 || img.Height() != 2 {
		t.Errorf("dimensions = %dx%d", img.Width(), img.Height())
	}
	if img.FormatName() != "PNG" {
		t.Errorf("FormatName = %q", img.FormatName())
	}

	frame, err := img.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame failed: %v", err)
	}
	if frame.Width != 4 || frame.Height != 2 || frame.Format != memfmt.R8G8B8A8 {
		t.Errorf("frame = %dx%d %v", frame.Width, frame.Height, frame.Format)
	}
	if frame.DelayMicros != 0 {
		t.Errorf("still frame has delay %d", frame.DelayMicros)
	}
}

func TestMetadataReturnsCopy(t *testing.T) {
	still := stillImage()
	still.Info.Metadata = map[string]string{"generator": "mock"}
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": still}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	img.Metadata()["generator"] = "tampered"
	if got := img.Metadata()["generator"]; got != "mock" {
		t.Errorf("metadata mutated through the accessor: %q", got)
	}
}

func TestStillImageSecondNextFrameEndsSequence(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": stillImage()}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	if _, err := img.NextFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Looping is on by default, but a single-frame image never wraps.
	_, err = img.NextFrame(context.Background())
	if !IsNoMoreFrames(err) {
		t.Fatalf("err = %v, want no-more-frames", err)
	}
}

func TestAnimationLoops(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": animation()}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	// Four sequential frames of a three-frame animation wrap to the
	// first: pixel values 0, 1, 2, 0.
	want := []byte{0, 1, 2, 0}
	for call, wantPixel := range want {
		frame, err := img.NextFrame(context.Background())
		if err != nil {
			t.Fatalf("call %d: %v", call, err)
		}
		if frame.Bytes[0] != wantPixel {
			t.Errorf("call %d decoded pixel %d, want %d", call, frame.Bytes[0], wantPixel)
		}
	}
}

func TestAnimationWithoutLooping(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": animation()}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	req := NewFrameRequest()
	req.LoopAnimation = false
	for i := 0; i < 3; i++ {
		if _, err := img.NextFrameWith(context.Background(), req); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if _, err := img.NextFrameWith(context.Background(), req); !IsNoMoreFrames(err) {
		t.Fatalf("err = %v, want no-more-frames", err)
	}
}

func TestSpecificFrameDoesNotMoveCursor(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": animation()}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	frame, err := img.SpecificFrame(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Bytes[0] != 2 {
		t.Errorf("specific frame pixel = %d, want 2", frame.Bytes[0])
	}

	// The sequential cursor still starts at frame 0.
	frame, err = img.NextFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if frame.Bytes[0] != 0 {
		t.Errorf("next frame pixel = %d, want 0", frame.Bytes[0])
	}
}

func TestSpecificFramePastEnd(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": stillImage()}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	if _, err := img.SpecificFrame(context.Background(), 5); !IsNoMoreFrames(err) {
		t.Fatalf("err = %v, want no-more-frames", err)
	}
}

func TestOrientationNormalizedAndDimensionsSwapped(t *testing.T) {
	scripted := stillImage()
	scripted.Info.Orientation = 6 // 90 degree rotation: transposes
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": scripted}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	if img.Orientation() != 6 {
		t.Errorf("Orientation = %d", img.Orientation())
	}
	if img.Width() != 2 || img.Height() != 4 {
		t.Errorf("dimensions = %dx%d, want transposed 2x4", img.Width(), img.Height())
	}
}

func TestOrientationOutOfRangeClamped(t *testing.T) {
	scripted := stillImage()
	scripted.Info.Orientation = 42
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": scripted}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	if img.Orientation() != 1 {
		t.Errorf("Orientation = %d, want normalized 1", img.Orientation())
	}
	if img.Width() != 4 || img.Height() != 2 {
		t.Errorf("dimensions = %dx%d, want unswapped", img.Width(), img.Height())
	}
}

func TestNoTransformationsKeepsDimensions(t *testing.T) {
	scripted := stillImage()
	scripted.Info.Orientation = 6
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": scripted}}
	img, err := loadWithMock(t, mock, pngHeader, func(l *Loader) {
		l.SetApplyTransformations(false)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	if img.Width() != 4 || img.Height() != 2 {
		t.Errorf("dimensions = %dx%d, want unswapped", img.Width(), img.Height())
	}
}

func TestFormatNegotiationConverts(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": stillImage()}}
	img, err := loadWithMock(t, mock, pngHeader, func(l *Loader) {
		l.SetAcceptedFormats(memfmt.Select(memfmt.B8G8R8A8))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	frame, err := img.NextFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if frame.Format != memfmt.B8G8R8A8 {
		t.Fatalf("Format = %v, want B8G8R8A8", frame.Format)
	}
	// Native pixel was RGBA {10,20,30,255}; converted must be BGRA.
	if frame.Bytes[0] != 30 || frame.Bytes[1] != 20 || frame.Bytes[2] != 10 || frame.Bytes[3] != 255 {
		t.Errorf("pixel = %v", frame.Bytes[:4])
	}
}

func TestFormatNegotiationPassthroughWhenAccepted(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": stillImage()}}
	img, err := loadWithMock(t, mock, pngHeader, func(l *Loader) {
		l.SetAcceptedFormats(memfmt.Select(memfmt.R8G8B8A8, memfmt.B8G8R8A8))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	frame, err := img.NextFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if frame.Format != memfmt.R8G8B8A8 {
		t.Errorf("Format = %v, want native R8G8B8A8", frame.Format)
	}
}

func TestLoadUnknownMimeType(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{}}
	_, err := loadWithMock(t, mock, []byte("plain text, no image here"), nil)
	if !IsUnknownImageFormat(err) {
		t.Fatalf("err = %v, want unknown-image-format", err)
	}
}

func TestLoadWorkerRejectsData(t *testing.T) {
	// Registry routes PNG to the worker, but the worker has no decoder
	// scripted for it and answers unsupported-format.
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/gif": stillImage()}}
	_, err := loadWithMock(t, mock, pngHeader, nil)
	if !IsUnknownImageFormat(err) {
		t.Fatalf("err = %v, want unknown-image-format", err)
	}
}

func TestLoadTwiceFails(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": stillImage()}}
	loader := NewLoaderFromBytes(pngHeader)
	loader.registry = testRegistry(t)
	loader.launch = mockLaunch(mock)

	img, err := loader.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	if _, err := loader.Load(context.Background()); err == nil || ErrKind(err) != KindFailed {
		t.Fatalf("second Load = %v, want failed", err)
	}
}

func TestLoadAttachesWorkerStderr(t *testing.T) {
	mock := &workermock.Worker{
		Images:     map[string]*workermock.Image{},
		StderrText: "decoder panic: bad chunk",
	}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err == nil {
		img.Close()
		t.Fatal("expected load failure")
	}
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("err = %T", err)
	}
	if be.Stderr != "decoder panic: bad chunk" {
		t.Errorf("Stderr = %q", be.Stderr)
	}
}

func TestWorkerFaultSurfacesFailed(t *testing.T) {
	mock := &workermock.Worker{
		Images: map[string]*workermock.Image{"image/png": stillImage()},
		Fault:  workermock.FaultWrongSequence,
	}
	_, err := loadWithMock(t, mock, pngHeader, nil)
	if err == nil {
		t.Fatal("expected failure on corrupted sequence")
	}
	if ErrKind(err) != KindFailed {
		t.Errorf("kind = %v, want failed", ErrKind(err))
	}
	if errors.Is(err, context.Canceled) {
		t.Error("protocol failure must not look like cancellation")
	}
}

func TestWorkerCrashSurfacesFailed(t *testing.T) {
	mock := &workermock.Worker{
		Images: map[string]*workermock.Image{"image/png": stillImage()},
		Fault:  workermock.FaultCrash,
	}
	_, err := loadWithMock(t, mock, pngHeader, nil)
	if err == nil {
		t.Fatal("expected failure on worker crash")
	}
	if ErrKind(err) != KindFailed {
		t.Errorf("kind = %v, want failed", ErrKind(err))
	}
}

func TestAsyncLoadCancellation(t *testing.T) {
	mock := &workermock.Worker{
		Images: map[string]*workermock.Image{"image/png": stillImage()},
		Fault:  workermock.FaultHang,
	}
	loader := NewLoaderFromBytes(pngHeader)
	loader.registry = testRegistry(t)
	loader.launch = mockLaunch(mock)

	pending := loader.LoadAsync(context.Background())
	pending.Cancel()

	_, err := pending.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	select {
	case <-pending.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after cancellation")
	}
}

func TestCloseDuringDecode(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": animation()}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}

	mock.Fault = workermock.FaultHang
	done := make(chan error, 1)
	go func() {
		_, err := img.NextFrame(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	img.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("decode survived Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the in-flight decode")
	}
}

func TestNextFrameAfterCloseFails(t *testing.T) {
	mock := &workermock.Worker{Images: map[string]*workermock.Image{"image/png": stillImage()}}
	img, err := loadWithMock(t, mock, pngHeader, nil)
	if err != nil {
		t.Fatal(err)
	}
	img.Close()

	if _, err := img.NextFrame(context.Background()); err == nil {
		t.Fatal("expected error after Close")
	}
}
