// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package workermock implements the worker side of the framed codec
// protocol in-process, with scriptable images and fault injection. It
// backs the broker's unit tests and the pictor-worker-mock binary; it
// decodes nothing real.
package workermock

import (
	"fmt"
	"io"
	"net"

	"github.com/pictor-project/pictor/lib/codec"
	"github.com/pictor-project/pictor/memfmt"
	"github.com/pictor-project/pictor/session"
	"github.com/pictor-project/pictor/wire"
)

// Frame is one scripted frame of a mock image.
type Frame struct {
	Width       uint32
	Height      uint32
	Stride      uint32
	Format      memfmt.Format
	DelayMicros uint64
	Texture     []byte
	CICP        *[4]uint8
	ICCProfile  []byte
}

// SolidFrame builds a frame filled with one repeated pixel.
func SolidFrame(width, height uint32, format memfmt.Format, pixel []byte) Frame {
	bpp := uint32(format.BytesPerPixel())
	if uint32(len(pixel)) != bpp {
		panic(fmt.Sprintf("pixel is %d bytes, format %v needs %d", len(pixel), format, bpp))
	}
	texture := make([]byte, width*height*bpp)
	for i := range texture {
		texture[i] = pixel[i%len(pixel)]
	}
	return Frame{
		Width:   width,
		Height:  height,
		Stride:  width * bpp,
		Format:  format,
		Texture: texture,
	}
}

// Image is one scripted decode result.
type Image struct {
	Info   wire.ImageInfo
	Frames []Frame
}

// Fault selects a protocol violation to inject.
type Fault int

const (
	FaultNone Fault = iota

	// FaultWrongSequence corrupts the sequence number of the next
	// response.
	FaultWrongSequence

	// FaultHang never responds to the next request, holding the
	// connection open.
	FaultHang

	// FaultCrash closes the connection instead of responding to the
	// next request.
	FaultCrash
)

// Worker serves the codec protocol from scripted data.
type Worker struct {
	// Images maps MIME type to the scripted decode result. Init for an
	// unlisted MIME type answers with an unsupported-format error.
	Images map[string]*Image

	// EncodeCaps are the capabilities reported for any InitEncode.
	// EncodeMimeTypes, when non-nil, restricts which MIME types the
	// encode side accepts.
	EncodeCaps      wire.EncodeCaps
	EncodeMimeTypes map[string]bool

	// EditMimeTypes, when non-nil, restricts which MIME types
	// ApplyEdits accepts. EditSparse makes edits answer with byte
	// changes inverting one input byte per operation; otherwise the
	// "edited image" is the deterministic CBOR encoding of the request,
	// so tests can decode and assert on it.
	EditMimeTypes map[string]bool
	EditSparse    bool

	// Fault, when not FaultNone, fires on the next request.
	Fault Fault

	// StderrText is returned by the fake process handle, standing in
	// for captured worker stderr.
	StderrText string

	current *Image
	encode  *encodeState
}

// encodeState accumulates one pending encode.
type encodeState struct {
	MimeType    string            `cbor:"mime_type"`
	Frames      []encodeFrame     `cbor:"frames"`
	Metadata    map[string]string `cbor:"metadata,omitempty"`
	Quality     *uint8            `cbor:"quality,omitempty"`
	Compression *uint8            `cbor:"compression,omitempty"`
}

type encodeFrame struct {
	Width   uint32 `cbor:"width"`
	Height  uint32 `cbor:"height"`
	Stride  uint32 `cbor:"stride"`
	Format  uint32 `cbor:"format"`
	Texture []byte `cbor:"texture"`
}

// Serve handles requests on conn until it closes or a fault fires.
func (w *Worker) Serve(conn io.ReadWriteCloser) error {
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return err
		}

		switch w.Fault {
		case FaultHang:
			// Hold the request until the broker gives up and closes.
			buf := make([]byte, 1)
			conn.Read(buf)
			return nil
		case FaultCrash:
			conn.Close()
			return nil
		}

		resp, raw := w.handle(&msg)
		reply := wire.Message{
			Op:  msg.Op | wire.ResponseBit,
			Seq: msg.Seq,
			Raw: raw,
		}
		if w.Fault == FaultWrongSequence {
			reply.Seq = msg.Seq + 1
			w.Fault = FaultNone
		}
		reply.Meta, err = codec.Marshal(resp)
		if err != nil {
			return err
		}
		if err := wire.WriteMessage(conn, reply); err != nil {
			return err
		}
	}
}

func (w *Worker) handle(msg *wire.Message) (wire.Response, []byte) {
	switch msg.Op {
	case wire.OpInit:
		var req wire.InitRequest
		if err := codec.Unmarshal(msg.Meta, &req); err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		image, ok := w.Images[req.MimeType]
		if !ok {
			return wire.ErrResponse(wire.CodeUnsupportedFormat, "no decoder for "+req.MimeType), nil
		}
		resp, err := wire.OKResponse(image.Info)
		if err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		w.encode = nil
		w.current = image
		return resp, nil

	case wire.OpNextFrame, wire.OpSpecificFrame:
		if w.current == nil {
			return wire.ErrResponse(wire.CodeFailed, "frame request before init"), nil
		}
		var req wire.FrameRequest
		if err := codec.Unmarshal(msg.Meta, &req); err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		if req.FrameIndex >= uint64(len(w.current.Frames)) {
			return wire.ErrResponse(wire.CodeNoMoreFrames, ""), nil
		}
		frame := w.current.Frames[req.FrameIndex]
		resp, err := wire.OKResponse(wire.FrameInfo{
			Width:       frame.Width,
			Height:      frame.Height,
			Stride:      frame.Stride,
			Format:      uint32(frame.Format),
			DelayMicros: frame.DelayMicros,
			CICP:        frame.CICP,
			ICCProfile:  frame.ICCProfile,
		})
		if err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		return resp, frame.Texture

	case wire.OpInitEncode:
		var req wire.InitEncodeRequest
		if err := codec.Unmarshal(msg.Meta, &req); err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		if w.EncodeMimeTypes != nil && !w.EncodeMimeTypes[req.MimeType] {
			return wire.ErrResponse(wire.CodeUnsupportedFormat, "no encoder for "+req.MimeType), nil
		}
		w.encode = &encodeState{MimeType: req.MimeType}
		resp, err := wire.OKResponse(w.EncodeCaps)
		if err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		return resp, nil

	case wire.OpAddFrame:
		if w.encode == nil {
			return wire.ErrResponse(wire.CodeFailed, "add-frame before init-encode"), nil
		}
		var req wire.AddFrameRequest
		if err := codec.Unmarshal(msg.Meta, &req); err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		w.encode.Frames = append(w.encode.Frames, encodeFrame{
			Width:   req.Width,
			Height:  req.Height,
			Stride:  req.Stride,
			Format:  req.Format,
			Texture: msg.Raw,
		})
		resp, _ := wire.OKResponse(nil)
		return resp, nil

	case wire.OpSetMetadata:
		if w.encode == nil {
			return wire.ErrResponse(wire.CodeFailed, "set-metadata before init-encode"), nil
		}
		var req wire.SetMetadataRequest
		if err := codec.Unmarshal(msg.Meta, &req); err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		if w.encode.Metadata == nil {
			w.encode.Metadata = make(map[string]string)
		}
		w.encode.Metadata[req.Key] = req.Value
		resp, _ := wire.OKResponse(nil)
		return resp, nil

	case wire.OpEncode:
		if w.encode == nil {
			return wire.ErrResponse(wire.CodeFailed, "encode before init-encode"), nil
		}
		var req wire.EncodeRequest
		if err := codec.Unmarshal(msg.Meta, &req); err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		w.encode.Quality = req.Quality
		w.encode.Compression = req.Compression
		// The "encoded image" is the deterministic CBOR encoding of
		// everything collected, so tests can decode and assert on it.
		encoded, err := codec.Marshal(w.encode)
		if err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		w.encode = nil
		resp, _ := wire.OKResponse(nil)
		return resp, encoded

	case wire.OpApplyEdits:
		var req wire.EditRequest
		if err := codec.Unmarshal(msg.Meta, &req); err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		if w.EditMimeTypes != nil && !w.EditMimeTypes[req.MimeType] {
			return wire.ErrResponse(wire.CodeUnsupportedFormat, "no editor for "+req.MimeType), nil
		}
		if len(req.Operations) == 0 {
			return wire.ErrResponse(wire.CodeFailed, "edit without operations"), nil
		}
		if w.EditSparse {
			if len(req.Operations) > len(msg.Raw) {
				return wire.ErrResponse(wire.CodeFailed, "input too short for sparse edit"), nil
			}
			changes := make([]wire.ByteChange, len(req.Operations))
			for i := range req.Operations {
				changes[i] = wire.ByteChange{Offset: uint64(i), Value: msg.Raw[i] ^ 0xFF}
			}
			resp, err := wire.OKResponse(wire.EditInfo{Changes: changes, Lossless: true})
			if err != nil {
				return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
			}
			return resp, nil
		}
		edited, err := codec.Marshal(req)
		if err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		resp, err := wire.OKResponse(wire.EditInfo{Lossless: false})
		if err != nil {
			return wire.ErrResponse(wire.CodeFailed, err.Error()), nil
		}
		return resp, edited

	default:
		return wire.ErrResponse(wire.CodeFailed, fmt.Sprintf("unknown op %v", msg.Op)), nil
	}
}

// DecodeEncoded decodes the blob produced by the mock's Encode back
// into its collected state, for test assertions.
func DecodeEncoded(blob []byte) (mimeType string, frames int, metadata map[string]string, quality, compression *uint8, err error) {
	var state encodeState
	if err := codec.Unmarshal(blob, &state); err != nil {
		return "", 0, nil, nil, nil, err
	}
	return state.MimeType, len(state.Frames), state.Metadata, state.Quality, state.Compression, nil
}

// DecodeEdited decodes the blob produced by a non-sparse mock edit
// back into the request the worker saw, for test assertions.
func DecodeEdited(blob []byte) (wire.EditRequest, error) {
	var req wire.EditRequest
	if err := codec.Unmarshal(blob, &req); err != nil {
		return wire.EditRequest{}, err
	}
	return req, nil
}

// proc is a session.Process over an in-process worker goroutine.
type proc struct {
	conn   net.Conn
	stderr string
}

func (p *proc) Kill()          { p.conn.Close() }
func (p *proc) Wait() error    { return nil }
func (p *proc) Stderr() string { return p.stderr }

// Launch connects the worker over an in-memory pipe and serves it on a
// goroutine, returning the broker side and a process handle.
func (w *Worker) Launch() (io.ReadWriteCloser, session.Process, error) {
	brokerSide, workerSide := net.Pipe()
	go w.Serve(workerSide)
	return brokerSide, &proc{conn: workerSide, stderr: w.StderrText}, nil
}
