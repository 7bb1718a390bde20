// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pictor-project/pictor/lib/workermock"
	"github.com/pictor-project/pictor/wire"
)

func editWithMock(t *testing.T, mock *workermock.Worker, data []byte) *Editor {
	t.Helper()
	editor := NewEditorFromBytes(data)
	editor.registry = testRegistry(t)
	editor.launch = mockLaunch(mock)
	return editor
}

func TestEditorCompleteRewrite(t *testing.T) {
	mock := &workermock.Worker{EditMimeTypes: map[string]bool{"image/png": true}}
	editor := editWithMock(t, mock, pngHeader)

	edited, err := editor.Apply(context.Background(), Rotate(90), Clip(1, 2, 3, 4))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if edited.Sparse {
		t.Error("complete rewrite reported as sparse")
	}

	req, err := workermock.DecodeEdited(edited.Data)
	if err != nil {
		t.Fatal(err)
	}
	if req.MimeType != "image/png" {
		t.Errorf("worker saw mime %q", req.MimeType)
	}
	if len(req.Operations) != 2 {
		t.Fatalf("worker saw %d operations", len(req.Operations))
	}
	if req.Operations[0].Kind != wire.EditRotate || req.Operations[0].Rotation != 90 {
		t.Errorf("operation 0 = %+v", req.Operations[0])
	}
	if req.Operations[1].Kind != wire.EditClip || req.Operations[1].Clip == nil || *req.Operations[1].Clip != [4]uint32{1, 2, 3, 4} {
		t.Errorf("operation 1 = %+v", req.Operations[1])
	}
}

func TestEditorSparseChangesAppliedToInput(t *testing.T) {
	mock := &workermock.Worker{
		EditMimeTypes: map[string]bool{"image/png": true},
		EditSparse:    true,
	}
	editor := editWithMock(t, mock, pngHeader)

	edited, err := editor.Apply(context.Background(), MirrorHorizontal())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !edited.Sparse || !edited.Lossless {
		t.Errorf("sparse = %v, lossless = %v", edited.Sparse, edited.Lossless)
	}
	if len(edited.Data) != len(pngHeader) {
		t.Fatalf("edited length %d, input length %d", len(edited.Data), len(pngHeader))
	}
	// One operation: the mock inverts exactly the first byte.
	if edited.Data[0] != pngHeader[0]^0xFF {
		t.Errorf("changed byte = %#x, want %#x", edited.Data[0], pngHeader[0]^0xFF)
	}
	if !bytes.Equal(edited.Data[1:], pngHeader[1:]) {
		t.Error("bytes past the change differ from the input")
	}
	// The input buffer itself stays untouched.
	if pngHeader[0] != 0x89 {
		t.Error("edit mutated the input buffer")
	}
}

func TestEditorUnknownMimeType(t *testing.T) {
	mock := &workermock.Worker{}
	editor := editWithMock(t, mock, []byte("not an image at all"))

	_, err := editor.Apply(context.Background(), Rotate(180))
	if !IsUnknownImageFormat(err) {
		t.Fatalf("err = %v, want unknown-image-format", err)
	}
}

func TestEditorRejectsBadRotation(t *testing.T) {
	mock := &workermock.Worker{EditMimeTypes: map[string]bool{"image/png": true}}
	editor := editWithMock(t, mock, pngHeader)

	_, err := editor.Apply(context.Background(), Rotate(45))
	if err == nil || ErrKind(err) != KindFailed {
		t.Fatalf("err = %v, want failed", err)
	}
}

func TestEditorRequiresOperations(t *testing.T) {
	mock := &workermock.Worker{EditMimeTypes: map[string]bool{"image/png": true}}
	editor := editWithMock(t, mock, pngHeader)

	if _, err := editor.Apply(context.Background()); err == nil {
		t.Fatal("expected error for empty operation list")
	}
}

func TestEditorConsumedOnce(t *testing.T) {
	mock := &workermock.Worker{EditMimeTypes: map[string]bool{"image/png": true}}
	editor := editWithMock(t, mock, pngHeader)

	if _, err := editor.Apply(context.Background(), Rotate(270)); err != nil {
		t.Fatal(err)
	}
	if _, err := editor.Apply(context.Background(), Rotate(270)); err == nil {
		t.Fatal("second Apply succeeded")
	}
}

func TestEditorApplyAsyncCancellation(t *testing.T) {
	mock := &workermock.Worker{
		EditMimeTypes: map[string]bool{"image/png": true},
		Fault:         workermock.FaultHang,
	}
	editor := editWithMock(t, mock, pngHeader)

	pending := editor.ApplyAsync(context.Background(), Rotate(90))
	pending.Cancel()

	select {
	case <-pending.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled edit did not finish")
	}
	if _, err := pending.Wait(); err == nil {
		t.Fatal("cancelled edit succeeded")
	}
}
