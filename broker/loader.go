// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pictor-project/pictor/memfmt"
	"github.com/pictor-project/pictor/registry"
	"github.com/pictor-project/pictor/sandbox"
	"github.com/pictor-project/pictor/session"
	"github.com/pictor-project/pictor/wire"
)

// launchFunc starts a worker and returns its protocol channel and
// process handle. Swapped for an in-process mock in tests.
type launchFunc func(ctx context.Context, worker registry.Worker, selector sandbox.Selector, baseDir string) (io.ReadWriteCloser, session.Process, error)

func defaultLaunch(ctx context.Context, worker registry.Worker, selector sandbox.Selector, baseDir string) (io.ReadWriteCloser, session.Process, error) {
	mechanism, err := sandbox.Resolve(selector, sandbox.DetectEnvironment())
	if err != nil {
		return nil, nil, err
	}
	handle, err := sandbox.Launch(ctx, mechanism, worker, sandbox.LaunchOptions{BaseDir: baseDir})
	if err != nil {
		return nil, nil, err
	}
	return handle.Conn, handle, nil
}

// Loader configures and performs one image load. Exactly one input
// source is set at construction; a Loader is consumed by its first
// Load call.
type Loader struct {
	mu sync.Mutex

	path   string
	reader io.Reader
	data   []byte

	selector             sandbox.Selector
	accepted             memfmt.Selection
	applyTransformations bool

	registry *registry.Registry
	launch   launchFunc

	consumed bool
}

func newLoader() *Loader {
	return &Loader{
		applyTransformations: true,
		launch:               defaultLaunch,
	}
}

// NewLoader loads from a file path.
func NewLoader(path string) *Loader {
	l := newLoader()
	l.path = path
	return l
}

// NewLoaderFromReader loads from a stream, which is read to its end.
func NewLoaderFromReader(r io.Reader) *Loader {
	l := newLoader()
	l.reader = r
	return l
}

// NewLoaderFromBytes loads from an in-memory image.
func NewLoaderFromBytes(data []byte) *Loader {
	l := newLoader()
	l.data = data
	return l
}

// SetSandboxSelector sets the sandboxing policy. Default is auto.
func (l *Loader) SetSandboxSelector(s sandbox.Selector) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selector = s
}

// SetAcceptedFormats restricts the memory formats frames are returned
// in. The empty selection (the default) accepts the worker's native
// format unchanged.
func (l *Loader) SetAcceptedFormats(sel memfmt.Selection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accepted = sel
}

// SetApplyTransformations controls whether source-declared
// transformations such as Exif orientation are applied to frames.
// Default is true.
func (l *Loader) SetApplyTransformations(apply bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyTransformations = apply
}

// Load sniffs the input, launches the matching worker, and performs
// the opening exchange. The Loader is consumed: a second call returns
// an error. On failure no Image is returned and no worker is left
// running.
func (l *Loader) Load(ctx context.Context) (*Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consumed {
		return nil, &Error{Kind: KindFailed, Message: "loader already consumed"}
	}
	l.consumed = true

	data, err := l.readInput()
	if err != nil {
		return nil, failed(err, "")
	}

	mime := sniffMimeType(data, l.path)

	reg := l.registry
	if reg == nil {
		reg = registry.Cached()
	}
	worker, err := reg.Loader(mime)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownMimeType) || errors.Is(err, registry.ErrNoWorkers) {
			return nil, &Error{Kind: KindUnknownImageFormat, Message: fmt.Sprintf("no loader for %s", mime), Err: err}
		}
		return nil, failed(err, "")
	}

	baseDir := ""
	if worker.ExposeBaseDir && l.path != "" {
		if abs, err := filepath.Abs(l.path); err == nil {
			baseDir = filepath.Dir(abs)
		}
	}

	conn, proc, err := l.launch(ctx, worker, l.selector, baseDir)
	if err != nil {
		return nil, failed(err, "")
	}
	sess := session.New(conn, proc)

	resp, _, err := sess.Call(ctx, wire.OpInit, wire.InitRequest{
		MimeType:             mime,
		ApplyTransformations: l.applyTransformations,
	}, data)
	if err != nil {
		stderr := sess.Stderr()
		sess.Close()
		return nil, failed(err, stderr)
	}
	if resp.Error != nil {
		stderr := sess.Stderr()
		sess.Close()
		return nil, remoteError(resp.Error, stderr)
	}

	var info wire.ImageInfo
	if err := decodeData(resp.Data, &info); err != nil {
		stderr := sess.Stderr()
		sess.Close()
		return nil, failed(err, stderr)
	}

	return newImage(sess, mime, info, l.accepted, l.applyTransformations), nil
}

// LoadAsync runs Load on a goroutine and returns a cancellable handle.
func (l *Loader) LoadAsync(ctx context.Context) *Pending[*Image] {
	return newPending(ctx, l.Load)
}

func (l *Loader) readInput() ([]byte, error) {
	switch {
	case l.path != "":
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		return data, nil
	case l.reader != nil:
		data, err := io.ReadAll(l.reader)
		if err != nil {
			return nil, fmt.Errorf("reading input stream: %w", err)
		}
		return data, nil
	default:
		return l.data, nil
	}
}
