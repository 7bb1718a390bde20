// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pictor-project/pictor/registry"
	"github.com/pictor-project/pictor/sandbox"
	"github.com/pictor-project/pictor/session"
	"github.com/pictor-project/pictor/wire"
)

// EditOperation is one transformation applied by an Editor. Build them
// with Rotate, MirrorHorizontal, MirrorVertical, and Clip.
type EditOperation struct {
	op wire.EditOperation
}

// Rotate rotates counter-clockwise by 90, 180, or 270 degrees. Other
// angles are rejected by Apply.
func Rotate(degrees uint16) EditOperation {
	return EditOperation{op: wire.EditOperation{Kind: wire.EditRotate, Rotation: degrees}}
}

// MirrorHorizontal flips the image along its vertical axis.
func MirrorHorizontal() EditOperation {
	return EditOperation{op: wire.EditOperation{Kind: wire.EditMirrorHorizontal}}
}

// MirrorVertical flips the image along its horizontal axis.
func MirrorVertical() EditOperation {
	return EditOperation{op: wire.EditOperation{Kind: wire.EditMirrorVertical}}
}

// Clip crops to the rectangle at x, y with the given size.
func Clip(x, y, width, height uint32) EditOperation {
	return EditOperation{op: wire.EditOperation{Kind: wire.EditClip, Clip: &[4]uint32{x, y, width, height}}}
}

// EditedImage is the result of an edit: the complete output bytes,
// whatever form the worker produced them in.
type EditedImage struct {
	// Data is the edited image, ready to write back.
	Data []byte

	// Sparse reports that the worker expressed the edit as byte-level
	// changes to the input rather than a rewrite. Sparse edits are
	// always lossless.
	Sparse bool

	// Lossless reports whether the edit preserved all image data and
	// metadata.
	Lossless bool
}

// Editor configures and performs one image edit. Exactly one input
// source is set at construction; an Editor is consumed by its first
// Apply call.
type Editor struct {
	mu sync.Mutex

	path   string
	reader io.Reader
	data   []byte

	selector sandbox.Selector

	registry *registry.Registry
	launch   launchFunc

	consumed bool
}

func newEditor() *Editor {
	return &Editor{launch: defaultLaunch}
}

// NewEditor edits a file.
func NewEditor(path string) *Editor {
	e := newEditor()
	e.path = path
	return e
}

// NewEditorFromReader edits a stream, which is read to its end.
func NewEditorFromReader(r io.Reader) *Editor {
	e := newEditor()
	e.reader = r
	return e
}

// NewEditorFromBytes edits an in-memory image.
func NewEditorFromBytes(data []byte) *Editor {
	e := newEditor()
	e.data = data
	return e
}

// SetSandboxSelector sets the sandboxing policy. Default is auto.
func (e *Editor) SetSandboxSelector(s sandbox.Selector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selector = s
}

// Apply sniffs the input, launches the matching edit worker, and
// applies the operations in order. The Editor is consumed: a second
// call returns an error. Sparse worker output is resolved against the
// input, so Data is always the complete edited image.
func (e *Editor) Apply(ctx context.Context, ops ...EditOperation) (*EditedImage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.consumed {
		return nil, &Error{Kind: KindFailed, Message: "editor already consumed"}
	}
	e.consumed = true

	if len(ops) == 0 {
		return nil, &Error{Kind: KindFailed, Message: "edit needs at least one operation"}
	}
	operations := make([]wire.EditOperation, len(ops))
	for i, op := range ops {
		if op.op.Kind == wire.EditRotate {
			switch op.op.Rotation {
			case 90, 180, 270:
			default:
				return nil, &Error{Kind: KindFailed, Message: fmt.Sprintf("rotation by %d degrees is not a quarter turn", op.op.Rotation)}
			}
		}
		operations[i] = op.op
	}

	data, err := e.readInput()
	if err != nil {
		return nil, failed(err, "")
	}

	mime := sniffMimeType(data, e.path)

	reg := e.registry
	if reg == nil {
		reg = registry.Cached()
	}
	worker, err := reg.Editor(mime)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownMimeType) || errors.Is(err, registry.ErrNoWorkers) {
			return nil, &Error{Kind: KindUnknownImageFormat, Message: fmt.Sprintf("no editor for %s", mime), Err: err}
		}
		return nil, failed(err, "")
	}

	conn, proc, err := e.launch(ctx, worker, e.selector, "")
	if err != nil {
		return nil, failed(err, "")
	}
	sess := session.New(conn, proc)
	defer sess.Close()

	resp, raw, err := sess.Call(ctx, wire.OpApplyEdits, wire.EditRequest{
		MimeType:   mime,
		Operations: operations,
	}, data)
	if err != nil {
		return nil, failed(err, sess.Stderr())
	}
	if resp.Error != nil {
		return nil, remoteError(resp.Error, sess.Stderr())
	}

	var info wire.EditInfo
	if err := decodeData(resp.Data, &info); err != nil {
		return nil, failed(err, sess.Stderr())
	}

	if len(info.Changes) > 0 {
		edited, err := applyByteChanges(data, info.Changes)
		if err != nil {
			return nil, &Error{Kind: KindFailed, Message: err.Error(), Stderr: sess.Stderr()}
		}
		return &EditedImage{Data: edited, Sparse: true, Lossless: true}, nil
	}
	if len(raw) == 0 {
		return nil, &Error{Kind: KindFailed, Message: "worker returned neither changes nor image data", Stderr: sess.Stderr()}
	}
	return &EditedImage{Data: raw, Lossless: info.Lossless}, nil
}

// ApplyAsync runs Apply on a goroutine and returns a cancellable
// handle.
func (e *Editor) ApplyAsync(ctx context.Context, ops ...EditOperation) *Pending[*EditedImage] {
	return newPending(ctx, func(ctx context.Context) (*EditedImage, error) {
		return e.Apply(ctx, ops...)
	})
}

// applyByteChanges copies the input and rewrites the changed bytes.
func applyByteChanges(input []byte, changes []wire.ByteChange) ([]byte, error) {
	edited := make([]byte, len(input))
	copy(edited, input)
	for _, change := range changes {
		if change.Offset >= uint64(len(edited)) {
			return nil, fmt.Errorf("worker protocol violation: byte change at offset %d in %d-byte input", change.Offset, len(edited))
		}
		edited[change.Offset] = change.Value
	}
	return edited, nil
}

func (e *Editor) readInput() ([]byte, error) {
	switch {
	case e.path != "":
		data, err := os.ReadFile(e.path)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		return data, nil
	case e.reader != nil:
		data, err := io.ReadAll(e.reader)
		if err != nil {
			return nil, fmt.Errorf("reading input stream: %w", err)
		}
		return data, nil
	default:
		return e.data, nil
	}
}
