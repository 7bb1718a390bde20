// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pictor-project/pictor/lib/codec"
	"github.com/pictor-project/pictor/memfmt"
	"github.com/pictor-project/pictor/session"
	"github.com/pictor-project/pictor/wire"
)

// FrameRequest describes how to decode a frame. The zero value is not
// the default: use NewFrameRequest, which enables animation looping.
type FrameRequest struct {
	// ScaleWidth and ScaleHeight are an advisory maximum size; workers
	// for scalable formats honor them, others ignore them.
	ScaleWidth  uint32
	ScaleHeight uint32

	// LoopAnimation makes NextFrame wrap to the first frame after the
	// last, for images with more than one frame. Still images report
	// the end of the sequence regardless.
	LoopAnimation bool
}

// NewFrameRequest returns the default request: no scale constraint,
// looping enabled.
func NewFrameRequest() FrameRequest {
	return FrameRequest{LoopAnimation: true}
}

// Image is a loaded image with a live worker session. Not safe for
// concurrent use: the session allows one in-flight request.
type Image struct {
	mu   sync.Mutex
	sess *session.Session

	mimeType    string
	width       uint32
	height      uint32
	orientation uint8
	formatName  string
	metadata    map[string]string

	accepted memfmt.Selection
	apply    bool

	// cursor is the next frame index for NextFrame; framesSeen is how
	// many frames are known to exist, for the looping decision.
	cursor     uint64
	framesSeen uint64

	// closed is atomic so Close can take effect while a decode is in
	// flight under mu.
	closed atomic.Bool
}

func newImage(sess *session.Session, mimeType string, info wire.ImageInfo, accepted memfmt.Selection, apply bool) *Image {
	orientation := info.Orientation
	if orientation < 1 || orientation > 8 {
		orientation = 1
	}

	width, height := info.Width, info.Height
	// Orientations 5 through 8 transpose the image; the early
	// dimensions must reflect what frames will look like after the
	// worker applies the transformation.
	if apply && orientation >= 5 {
		width, height = height, width
	}

	return &Image{
		sess:        sess,
		mimeType:    mimeType,
		width:       width,
		height:      height,
		orientation: orientation,
		formatName:  info.FormatName,
		metadata:    info.Metadata,
		accepted:    accepted,
		apply:       apply,
	}
}

// MimeType returns the sniffed MIME type the image was loaded as.
func (i *Image) MimeType() string { return i.mimeType }

// Width returns the early best-effort width; authoritative dimensions
// are per frame.
func (i *Image) Width() uint32 { return i.width }

// Height returns the early best-effort height.
func (i *Image) Height() uint32 { return i.height }

// Orientation returns the Exif orientation, normalized to [1,8].
func (i *Image) Orientation() uint8 { return i.orientation }

// FormatName returns the worker's human-readable format description.
func (i *Image) FormatName() string { return i.formatName }

// Metadata returns a copy of the source's key/value metadata.
func (i *Image) Metadata() map[string]string {
	if i.metadata == nil {
		return nil
	}
	metadata := make(map[string]string, len(i.metadata))
	for key, value := range i.metadata {
		metadata[key] = value
	}
	return metadata
}

// NextFrame decodes the next frame in sequence with the default
// request. See NextFrameWith.
func (i *Image) NextFrame(ctx context.Context) (*Frame, error) {
	return i.NextFrameWith(ctx, NewFrameRequest())
}

// NextFrameWith decodes the next frame in sequence. Past the last
// frame of an animation it wraps to the first when the request has
// looping enabled; for still images and with looping disabled it
// returns a no-more-frames error.
func (i *Image) NextFrameWith(ctx context.Context, req FrameRequest) (*Frame, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	frame, err := i.requestFrame(ctx, wire.OpNextFrame, i.cursor, req)
	if err == nil {
		i.cursor++
		if i.cursor > i.framesSeen {
			i.framesSeen = i.cursor
		}
		return frame, nil
	}

	if !IsNoMoreFrames(err) || !req.LoopAnimation || i.framesSeen <= 1 || i.cursor == 0 {
		return nil, err
	}

	// Animation wrap: restart the sequence at the first frame.
	i.cursor = 0
	frame, err = i.requestFrame(ctx, wire.OpNextFrame, 0, req)
	if err != nil {
		return nil, err
	}
	i.cursor = 1
	return frame, nil
}

// NextFrameAsync is the asynchronous form of NextFrame.
func (i *Image) NextFrameAsync(ctx context.Context) *Pending[*Frame] {
	return newPending(ctx, i.NextFrame)
}

// SpecificFrame decodes the frame at index without touching the
// sequential cursor used by NextFrame.
func (i *Image) SpecificFrame(ctx context.Context, index uint64) (*Frame, error) {
	return i.SpecificFrameWith(ctx, index, NewFrameRequest())
}

// SpecificFrameWith is SpecificFrame with an explicit request.
func (i *Image) SpecificFrameWith(ctx context.Context, index uint64, req FrameRequest) (*Frame, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.requestFrame(ctx, wire.OpSpecificFrame, index, req)
}

// SpecificFrameAsync is the asynchronous form of SpecificFrame.
func (i *Image) SpecificFrameAsync(ctx context.Context, index uint64) *Pending[*Frame] {
	return newPending(ctx, func(ctx context.Context) (*Frame, error) {
		return i.SpecificFrame(ctx, index)
	})
}

// requestFrame performs one frame exchange and applies format
// negotiation. Caller holds i.mu.
func (i *Image) requestFrame(ctx context.Context, op wire.Op, index uint64, req FrameRequest) (*Frame, error) {
	if i.closed.Load() {
		return nil, &Error{Kind: KindFailed, Message: "image is closed"}
	}

	resp, raw, err := i.sess.Call(ctx, op, wire.FrameRequest{
		FrameIndex:  index,
		ScaleWidth:  req.ScaleWidth,
		ScaleHeight: req.ScaleHeight,
	}, nil)
	if err != nil {
		return nil, failed(err, i.sess.Stderr())
	}
	if resp.Error != nil {
		return nil, remoteError(resp.Error, i.sess.Stderr())
	}

	var info wire.FrameInfo
	if err := decodeData(resp.Data, &info); err != nil {
		return nil, i.violation(fmt.Sprintf("undecodable frame info: %v", err))
	}

	format := memfmt.Format(info.Format)
	if !format.Valid() {
		return nil, i.violation(fmt.Sprintf("unknown memory format %d", info.Format))
	}
	if err := checkGeometry(info.Width, info.Height, info.Stride, format, uint64(len(raw))); err != nil {
		return nil, i.violation(err.Error())
	}

	frame := &Frame{
		Width:       info.Width,
		Height:      info.Height,
		Stride:      info.Stride,
		Format:      format,
		Bytes:       raw,
		DelayMicros: info.DelayMicros,
		CICP:        info.CICP,
		ICCProfile:  info.ICCProfile,
	}

	if !i.accepted.IsEmpty() && !i.accepted.Contains(format) {
		target, ok := i.accepted.BestFormatFor(format)
		if !ok {
			return nil, &Error{Kind: KindFailed, Message: "accepted format selection is empty"}
		}
		converted, stride, err := memfmt.Convert(frame.Bytes, int(frame.Width), int(frame.Height), int(frame.Stride), format, target)
		if err != nil {
			return nil, failed(fmt.Errorf("converting %v to %v: %w", format, target, err), "")
		}
		frame.Bytes = converted
		frame.Stride = uint32(stride)
		frame.Format = target
	}

	return frame, nil
}

// violation tears the session down over a worker protocol violation.
// Caller holds i.mu.
func (i *Image) violation(reason string) error {
	stderr := i.sess.Stderr()
	i.sess.Close()
	i.closed.Store(true)
	return &Error{Kind: KindFailed, Message: "worker protocol violation: " + reason, Stderr: stderr}
}

// Close tears down the worker session, cancelling any in-flight
// decode. Idempotent.
func (i *Image) Close() error {
	i.closed.Store(true)
	return i.sess.Close()
}

// decodeData decodes a response's operation-specific payload.
func decodeData(data codec.RawMessage, into any) error {
	if len(data) == 0 {
		return fmt.Errorf("response carries no data")
	}
	return codec.Unmarshal(data, into)
}
