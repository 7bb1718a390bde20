// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/pictor-project/pictor/wire"
)

// Kind classifies a broker error.
type Kind int

const (
	// KindFailed covers worker crashes, protocol violations, launch
	// failures, and structured generic failures. Not retried
	// automatically; retry policy belongs to the caller.
	KindFailed Kind = iota

	// KindUnknownImageFormat means no worker handles the input: either
	// the registry has no entry for the MIME type, or the worker
	// examined the data and rejected it.
	KindUnknownImageFormat

	// KindNoMoreFrames means a frame was requested past the end of the
	// image's frame sequence.
	KindNoMoreFrames
)

func (k Kind) String() string {
	switch k {
	case KindFailed:
		return "failed"
	case KindUnknownImageFormat:
		return "unknown image format"
	case KindNoMoreFrames:
		return "no more frames"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the broker's error type. Cancellation is not an Error: a
// cancelled operation surfaces context.Canceled (or DeadlineExceeded)
// directly, so callers can always tell "the work failed" apart from
// "I stopped the work".
type Error struct {
	Kind    Kind
	Message string

	// Stderr is the tail of the worker's captured stderr, when a
	// worker was involved. Diagnostic context only.
	Stderr string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrKind returns the Kind of err when it is (or wraps) a broker
// Error, and KindFailed otherwise.
func ErrKind(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindFailed
}

// IsNoMoreFrames reports whether err is a past-the-end frame request.
func IsNoMoreFrames(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindNoMoreFrames
}

// IsUnknownImageFormat reports whether err means no worker handles the
// input.
func IsUnknownImageFormat(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindUnknownImageFormat
}

// failed wraps a transport or internal error as KindFailed, preserving
// cancellation: context errors pass through untouched.
func failed(err error, stderr string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: KindFailed, Stderr: stderr, Err: err}
}

// remoteError maps a structured worker error to the public taxonomy.
func remoteError(remote *wire.RemoteError, stderr string) error {
	kind := KindFailed
	switch remote.Code {
	case wire.CodeUnsupportedFormat:
		kind = KindUnknownImageFormat
	case wire.CodeNoMoreFrames:
		kind = KindNoMoreFrames
	}
	return &Error{Kind: kind, Message: remote.Message, Stderr: stderr}
}
