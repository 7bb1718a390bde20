// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pictor-project/pictor/registry"
	"github.com/pictor-project/pictor/sandbox"
	"github.com/pictor-project/pictor/session"
	"github.com/pictor-project/pictor/wire"
)

// Creator buffers frames and settings for one encode, performed by a
// worker when Create is called. A Creator is consumed by its first
// Create call.
type Creator struct {
	mu sync.Mutex

	mimeType string
	encoder  registry.Encoder

	frames   []*Frame
	metadata []wire.SetMetadataRequest

	quality     *uint8
	compression *uint8

	selector sandbox.Selector
	launch   launchFunc

	consumed bool
}

// NewCreator starts an encode targeting mimeType. The MIME type must
// have an encoder entry in the worker registry.
func NewCreator(mimeType string) (*Creator, error) {
	return newCreator(mimeType, registry.Cached())
}

func newCreator(mimeType string, reg *registry.Registry) (*Creator, error) {
	encoder, err := reg.Encoder(mimeType)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownMimeType) || errors.Is(err, registry.ErrNoWorkers) {
			return nil, &Error{Kind: KindUnknownImageFormat, Message: fmt.Sprintf("no encoder for %s", mimeType), Err: err}
		}
		return nil, failed(err, "")
	}
	return &Creator{
		mimeType: mimeType,
		encoder:  encoder,
		launch:   defaultLaunch,
	}, nil
}

// SetSandboxSelector sets the sandboxing policy. Default is auto.
func (c *Creator) SetSandboxSelector(s sandbox.Selector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selector = s
}

// AddFrame appends a frame to the pending encode. Padded textures are
// repacked to minimal stride before transfer. Frame order is encode
// order.
func (c *Creator) AddFrame(frame *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consumed {
		return &Error{Kind: KindFailed, Message: "creator already consumed"}
	}
	if !frame.Format.Valid() {
		return &Error{Kind: KindFailed, Message: fmt.Sprintf("invalid memory format %d", uint32(frame.Format))}
	}
	if err := checkGeometry(frame.Width, frame.Height, frame.Stride, frame.Format, uint64(len(frame.Bytes))); err != nil {
		return err
	}

	packed, stride := repack(frame.Bytes, frame.Width, frame.Height, frame.Stride, frame.Format)
	buffered := *frame
	buffered.Bytes = packed
	buffered.Stride = stride
	c.frames = append(c.frames, &buffered)
	return nil
}

// SetMetadata buffers one key/value entry. Whether it reaches the
// output depends on the worker's metadata support; check
// SupportsMetadata.
func (c *Creator) SetMetadata(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = append(c.metadata, wire.SetMetadataRequest{Key: key, Value: value})
}

// SetQuality sets the lossy quality in [0,100]. The return value
// reports whether the target format supports it and the value is in
// range; when false the setting is a no-op.
func (c *Creator) SetQuality(quality uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.encoder.Quality || quality > 100 {
		return false
	}
	q := quality
	c.quality = &q
	return true
}

// SetCompression sets the lossless compression effort in [0,100]. The
// return value reports whether the target format supports it and the
// value is in range; when false the setting is a no-op.
func (c *Creator) SetCompression(compression uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.encoder.Compression || compression > 100 {
		return false
	}
	v := compression
	c.compression = &v
	return true
}

// SupportsMetadata reports whether the target format carries key/value
// metadata.
func (c *Creator) SupportsMetadata() bool { return c.encoder.Metadata }

// SupportsICCProfile reports whether the target format carries ICC
// profiles.
func (c *Creator) SupportsICCProfile() bool { return c.encoder.ICCProfile }

// Create launches the encode worker, replays the buffered frames and
// settings, and produces the encoded image. The Creator is consumed: a
// second call returns an error.
func (c *Creator) Create(ctx context.Context) (*EncodedImage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consumed {
		return nil, &Error{Kind: KindFailed, Message: "creator already consumed"}
	}
	c.consumed = true

	if len(c.frames) == 0 {
		return nil, &Error{Kind: KindFailed, Message: "no frames to encode"}
	}

	conn, proc, err := c.launch(ctx, c.encoder.Worker, c.selector, "")
	if err != nil {
		return nil, failed(err, "")
	}
	sess := session.New(conn, proc)
	defer sess.Close()

	caps, err := c.initEncode(ctx, sess)
	if err != nil {
		return nil, err
	}

	for _, frame := range c.frames {
		req := wire.AddFrameRequest{
			Width:       frame.Width,
			Height:      frame.Height,
			Stride:      frame.Stride,
			Format:      uint32(frame.Format),
			DelayMicros: frame.DelayMicros,
		}
		if caps.ICCProfile {
			req.ICCProfile = frame.ICCProfile
		}
		if err := c.roundTrip(ctx, sess, wire.OpAddFrame, req, frame.Bytes, nil); err != nil {
			return nil, err
		}
	}

	// Options the worker does not support are dropped silently; the
	// setters already reported support to the caller.
	if caps.Metadata {
		for _, entry := range c.metadata {
			if err := c.roundTrip(ctx, sess, wire.OpSetMetadata, entry, nil, nil); err != nil {
				return nil, err
			}
		}
	}

	encodeReq := wire.EncodeRequest{}
	if caps.Quality {
		encodeReq.Quality = c.quality
	}
	if caps.Compression {
		encodeReq.Compression = c.compression
	}

	var encoded []byte
	if err := c.roundTrip(ctx, sess, wire.OpEncode, encodeReq, nil, &encoded); err != nil {
		return nil, err
	}
	if len(encoded) == 0 {
		stderr := sess.Stderr()
		return nil, &Error{Kind: KindFailed, Message: "worker produced no encoded bytes", Stderr: stderr}
	}
	return &EncodedImage{Data: encoded}, nil
}

// CreateAsync runs Create on a goroutine and returns a cancellable
// handle.
func (c *Creator) CreateAsync(ctx context.Context) *Pending[*EncodedImage] {
	return newPending(ctx, c.Create)
}

func (c *Creator) initEncode(ctx context.Context, sess *session.Session) (wire.EncodeCaps, error) {
	resp, _, err := sess.Call(ctx, wire.OpInitEncode, wire.InitEncodeRequest{MimeType: c.mimeType}, nil)
	if err != nil {
		return wire.EncodeCaps{}, failed(err, sess.Stderr())
	}
	if resp.Error != nil {
		return wire.EncodeCaps{}, remoteError(resp.Error, sess.Stderr())
	}
	var caps wire.EncodeCaps
	if err := decodeData(resp.Data, &caps); err != nil {
		return wire.EncodeCaps{}, failed(fmt.Errorf("undecodable encode capabilities: %w", err), sess.Stderr())
	}
	return caps, nil
}

// roundTrip performs one encode-side exchange, capturing the raw
// response section into out when non-nil.
func (c *Creator) roundTrip(ctx context.Context, sess *session.Session, op wire.Op, meta any, raw []byte, out *[]byte) error {
	resp, respRaw, err := sess.Call(ctx, op, meta, raw)
	if err != nil {
		return failed(err, sess.Stderr())
	}
	if resp.Error != nil {
		return remoteError(resp.Error, sess.Stderr())
	}
	if out != nil {
		*out = respRaw
	}
	return nil
}

// EncodedImage is the immutable product of a Create call.
type EncodedImage struct {
	Data []byte
}
