// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/pictor-project/pictor/lib/codec"
)

// ErrorCode classifies a structured worker error. The broker maps
// codes onto its public error taxonomy; anything it does not
// recognize degrades to a generic failure.
type ErrorCode string

const (
	// CodeFailed is a generic worker-side failure: parse error,
	// resource exhaustion, internal defect.
	CodeFailed ErrorCode = "failed"

	// CodeUnsupportedFormat means the worker examined the data and
	// cannot parse it as the claimed MIME type.
	CodeUnsupportedFormat ErrorCode = "unsupported-format"

	// CodeNoMoreFrames means the requested frame index is past the
	// end of the image's frame sequence.
	CodeNoMoreFrames ErrorCode = "no-more-frames"
)

// RemoteError is a structured error returned by a worker in a
// response envelope. It is data, not a transport failure: the session
// stays usable after receiving one.
type RemoteError struct {
	Code    ErrorCode `cbor:"code"`
	Message string    `cbor:"message,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response is the metadata envelope of every response message. Data
// holds the operation-specific response struct, pre-encoded so the
// envelope can be decoded before the payload type is known.
type Response struct {
	OK    bool            `cbor:"ok"`
	Error *RemoteError    `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// InitRequest opens a decode session. The raw section of the same
// message carries the complete input bytes.
type InitRequest struct {
	// MimeType is the sniffed MIME type the broker selected this
	// worker for. The worker must reject data it cannot parse as
	// this type with CodeUnsupportedFormat.
	MimeType string `cbor:"mime_type"`

	// ApplyTransformations asks the worker to apply source-declared
	// transformations (orientation) to emitted frames.
	ApplyTransformations bool `cbor:"apply_transformations"`
}

// ImageInfo is the response to OpInit.
type ImageInfo struct {
	// Width and Height are early, best-effort dimensions. The
	// authoritative dimensions are per frame.
	Width  uint32 `cbor:"width"`
	Height uint32 `cbor:"height"`

	// Orientation is the Exif orientation in [1,8]. Workers may
	// report out-of-range values from malformed sources; the broker
	// normalizes.
	Orientation uint8 `cbor:"orientation,omitempty"`

	// FormatName is a human-readable format description ("PNG",
	// "JPEG 2000").
	FormatName string `cbor:"format_name,omitempty"`

	// Metadata holds source key/value metadata. Keys are unique,
	// values UTF-8 text.
	Metadata map[string]string `cbor:"metadata,omitempty"`
}

// FrameRequest describes a frame to decode. Sent with OpNextFrame and
// OpSpecificFrame.
type FrameRequest struct {
	// FrameIndex is the zero-based frame to decode. For OpNextFrame
	// the broker fills in its cursor position, keeping the worker
	// stateless across frame requests.
	FrameIndex uint64 `cbor:"frame_index"`

	// ScaleWidth and ScaleHeight are an advisory maximum size. Most
	// workers ignore them; vector-format workers honor them.
	ScaleWidth  uint32 `cbor:"scale_width,omitempty"`
	ScaleHeight uint32 `cbor:"scale_height,omitempty"`
}

// FrameInfo is the metadata half of a frame response; the texture
// travels in the raw section.
type FrameInfo struct {
	Width  uint32 `cbor:"width"`
	Height uint32 `cbor:"height"`

	// Stride is the texture's bytes per row, at least Width times
	// the format's pixel size.
	Stride uint32 `cbor:"stride"`

	// Format is the memfmt.Format ordinal of the texture.
	Format uint32 `cbor:"format"`

	// DelayMicros is how long an animation shows this frame, in
	// microseconds. Zero means the image is not animated.
	DelayMicros uint64 `cbor:"delay_micros,omitempty"`

	// CICP carries color primaries/transfer/matrix/range code points
	// opaquely, when the source declares them.
	CICP *[4]uint8 `cbor:"cicp,omitempty"`

	// ICCProfile carries an ICC color profile blob opaquely.
	ICCProfile []byte `cbor:"icc_profile,omitempty"`
}

// InitEncodeRequest opens an encode session.
type InitEncodeRequest struct {
	MimeType string `cbor:"mime_type"`
}

// EncodeCaps is the response to OpInitEncode: which optional encode
// features the worker supports for this format.
type EncodeCaps struct {
	ICCProfile  bool `cbor:"icc_profile"`
	Metadata    bool `cbor:"metadata"`
	Quality     bool `cbor:"quality"`
	Compression bool `cbor:"compression"`
}

// AddFrameRequest appends a frame to the pending encode; the texture
// travels in the raw section.
type AddFrameRequest struct {
	Width  uint32 `cbor:"width"`
	Height uint32 `cbor:"height"`
	Stride uint32 `cbor:"stride"`
	Format uint32 `cbor:"format"`

	// DelayMicros is the animation delay for this frame, zero for
	// still images.
	DelayMicros uint64 `cbor:"delay_micros,omitempty"`

	// ICCProfile optionally attaches a color profile to the frame.
	ICCProfile []byte `cbor:"icc_profile,omitempty"`
}

// SetMetadataRequest sets one key/value entry on the pending encode.
type SetMetadataRequest struct {
	Key   string `cbor:"key"`
	Value string `cbor:"value"`
}

// EncodeRequest finalizes the encode. The response raw section
// carries the encoded bytes.
type EncodeRequest struct {
	// Quality is the lossy quality in [0,100], nil to use the
	// worker default. Only sent when the worker reports support.
	Quality *uint8 `cbor:"quality,omitempty"`

	// Compression is the lossless effort in [0,100], nil for the
	// worker default. Only sent when the worker reports support.
	Compression *uint8 `cbor:"compression,omitempty"`
}

// Edit operation kinds. Rotation angles are counter-clockwise degrees.
const (
	EditClip             = "clip"
	EditMirrorHorizontal = "mirror-horizontal"
	EditMirrorVertical   = "mirror-vertical"
	EditRotate           = "rotate"
)

// EditOperation is one transformation in an edit request. Workers
// reject operations they do not recognize with CodeFailed rather than
// silently skipping them.
type EditOperation struct {
	Kind string `cbor:"kind"`

	// Rotation is the counter-clockwise angle for EditRotate: 90, 180,
	// or 270.
	Rotation uint16 `cbor:"rotation,omitempty"`

	// Clip is x, y, width, height for EditClip.
	Clip *[4]uint32 `cbor:"clip,omitempty"`
}

// EditRequest applies operations to an image. The raw section of the
// same message carries the complete input bytes.
type EditRequest struct {
	MimeType   string          `cbor:"mime_type"`
	Operations []EditOperation `cbor:"operations"`
}

// ByteChange rewrites one byte of the input file.
type ByteChange struct {
	Offset uint64 `cbor:"offset"`
	Value  uint8  `cbor:"value"`
}

// EditInfo is the response to OpApplyEdits. A worker that can express
// the edit by rewriting a few bytes in place (a lossless rotation
// flipping an orientation tag, say) returns them in Changes; otherwise
// Changes is empty and the response raw section carries the complete
// rewritten image.
type EditInfo struct {
	Changes []ByteChange `cbor:"changes,omitempty"`

	// Lossless reports whether the edit preserved all image data and
	// metadata.
	Lossless bool `cbor:"lossless"`
}

// OKResponse encodes a bare successful response envelope.
func OKResponse(data any) (Response, error) {
	if data == nil {
		return Response{OK: true}, nil
	}
	encoded, err := codec.Marshal(data)
	if err != nil {
		return Response{}, fmt.Errorf("encoding response data: %w", err)
	}
	return Response{OK: true, Data: encoded}, nil
}

// ErrResponse encodes a structured error envelope.
func ErrResponse(code ErrorCode, message string) Response {
	return Response{OK: false, Error: &RemoteError{Code: code, Message: message}}
}
