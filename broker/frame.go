// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"

	"github.com/pictor-project/pictor/memfmt"
)

// Frame is one decoded frame. Frames are immutable once returned.
type Frame struct {
	Width  uint32
	Height uint32

	// Stride is the bytes per row of Bytes, at least Width times the
	// format's pixel size.
	Stride uint32

	Format memfmt.Format

	// Bytes is the texture, Stride*Height bytes.
	Bytes []byte

	// DelayMicros is how long an animation shows this frame, in
	// microseconds. Zero means the image is not animated.
	DelayMicros uint64

	// CICP carries color code points opaquely when the source declares
	// them; nil otherwise.
	CICP *[4]uint8

	// ICCProfile carries an ICC profile blob opaquely; nil otherwise.
	ICCProfile []byte
}

// NewFrame builds a frame with minimal stride, for handing to a
// Creator.
func NewFrame(width, height uint32, format memfmt.Format, data []byte) (*Frame, error) {
	return NewFrameWithStride(width, height, uint32(format.BytesPerPixel())*width, format, data)
}

// NewFrameWithStride builds a frame whose rows carry padding.
func NewFrameWithStride(width, height, stride uint32, format memfmt.Format, data []byte) (*Frame, error) {
	if !format.Valid() {
		return nil, &Error{Kind: KindFailed, Message: fmt.Sprintf("invalid memory format %d", uint32(format))}
	}
	if err := checkGeometry(width, height, stride, format, uint64(len(data))); err != nil {
		return nil, err
	}
	return &Frame{
		Width:  width,
		Height: height,
		Stride: stride,
		Format: format,
		Bytes:  data,
	}, nil
}

// checkGeometry validates the stride and buffer length invariants.
func checkGeometry(width, height, stride uint32, format memfmt.Format, bufLen uint64) error {
	minStride := uint64(width) * uint64(format.BytesPerPixel())
	if uint64(stride) < minStride {
		return &Error{Kind: KindFailed, Message: fmt.Sprintf("stride %d below minimum %d for %dx%d %v", stride, minStride, width, height, format)}
	}
	if want := uint64(stride) * uint64(height); bufLen != want {
		return &Error{Kind: KindFailed, Message: fmt.Sprintf("texture is %d bytes, want %d for %dx%d stride %d", bufLen, want, width, height, stride)}
	}
	return nil
}

// repack copies a padded texture to minimal stride. Returns the input
// unchanged when it is already minimal.
func repack(data []byte, width, height, stride uint32, format memfmt.Format) ([]byte, uint32) {
	rowBytes := width * uint32(format.BytesPerPixel())
	if stride == rowBytes {
		return data, stride
	}
	packed := make([]byte, uint64(rowBytes)*uint64(height))
	for y := uint32(0); y < height; y++ {
		copy(packed[y*rowBytes:(y+1)*rowBytes], data[y*stride:y*stride+rowBytes])
	}
	return packed, rowBytes
}
