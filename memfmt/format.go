// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package memfmt

import "fmt"

// Format is a concrete pixel memory layout. The ordinal values are
// protocol constants shared with workers.
type Format uint32

const (
	B8G8R8A8Premultiplied Format = iota
	A8R8G8B8Premultiplied
	R8G8B8A8Premultiplied
	B8G8R8A8
	A8R8G8B8
	R8G8B8A8
	A8B8G8R8
	R8G8B8
	B8G8R8
	R16G16B16
	R16G16B16A16Premultiplied
	R16G16B16A16
	R16G16B16Float
	R16G16B16A16Float
	R32G32B32Float
	R32G32B32A32FloatPremultiplied
	R32G32B32A32Float
	G8A8Premultiplied
	G8A8
	G8
	G16A16Premultiplied
	G16A16
	G16

	// FormatCount is one past the highest valid ordinal.
	FormatCount
)

// ChannelType is the storage type of a single channel.
type ChannelType uint8

const (
	U8 ChannelType = iota
	U16
	F16
	F32
)

// Size returns the channel width in bytes.
func (c ChannelType) Size() int {
	switch c {
	case U8:
		return 1
	case U16:
		return 2
	case F16:
		return 2
	default:
		return 4
	}
}

func (c ChannelType) String() string {
	switch c {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case F16:
		return "f16"
	default:
		return "f32"
	}
}

// channel source indices for reading a pixel as [R, G, B, A].
// srcOpaque means the format has no such channel and it reads as
// fully opaque.
const srcOpaque = -1

// layout describes one format: per-RGBA source channel index, target
// channel roles in storage order, channel type, and premultiplication.
type layout struct {
	name    string
	source  [4]int8 // channel index supplying R, G, B, A
	target  []target
	channel ChannelType
	premul  bool
}

// target is the role of one stored channel when writing a pixel.
type target uint8

const (
	targetR target = iota
	targetG
	targetB
	targetA
	// targetGray stores the average of R, G and B. Used by the
	// grayscale formats.
	targetGray
)

var layouts = [FormatCount]layout{
	B8G8R8A8Premultiplied: {"b8g8r8a8-premultiplied", [4]int8{2, 1, 0, 3}, []target{targetB, targetG, targetR, targetA}, U8, true},
	A8R8G8B8Premultiplied: {"a8r8g8b8-premultiplied", [4]int8{1, 2, 3, 0}, []target{targetA, targetR, targetG, targetB}, U8, true},
	R8G8B8A8Premultiplied: {"r8g8b8a8-premultiplied", [4]int8{0, 1, 2, 3}, []target{targetR, targetG, targetB, targetA}, U8, true},
	B8G8R8A8:              {"b8g8r8a8", [4]int8{2, 1, 0, 3}, []target{targetB, targetG, targetR, targetA}, U8, false},
	A8R8G8B8:              {"a8r8g8b8", [4]int8{1, 2, 3, 0}, []target{targetA, targetR, targetG, targetB}, U8, false},
	R8G8B8A8:              {"r8g8b8a8", [4]int8{0, 1, 2, 3}, []target{targetR, targetG, targetB, targetA}, U8, false},
	A8B8G8R8:              {"a8b8g8r8", [4]int8{3, 2, 1, 0}, []target{targetA, targetB, targetG, targetR}, U8, false},
	R8G8B8:                {"r8g8b8", [4]int8{0, 1, 2, srcOpaque}, []target{targetR, targetG, targetB}, U8, false},
	B8G8R8:                {"b8g8r8", [4]int8{2, 1, 0, srcOpaque}, []target{targetB, targetG, targetR}, U8, false},
	R16G16B16:             {"r16g16b16", [4]int8{0, 1, 2, srcOpaque}, []target{targetR, targetG, targetB}, U16, false},
	R16G16B16A16Premultiplied: {"r16g16b16a16-premultiplied", [4]int8{0, 1, 2, 3}, []target{targetR, targetG, targetB, targetA}, U16, true},
	R16G16B16A16:              {"r16g16b16a16", [4]int8{0, 1, 2, 3}, []target{targetR, targetG, targetB, targetA}, U16, false},
	R16G16B16Float:            {"r16g16b16-float", [4]int8{0, 1, 2, srcOpaque}, []target{targetR, targetG, targetB}, F16, false},
	R16G16B16A16Float:         {"r16g16b16a16-float", [4]int8{0, 1, 2, 3}, []target{targetR, targetG, targetB, targetA}, F16, false},
	R32G32B32Float:            {"r32g32b32-float", [4]int8{0, 1, 2, srcOpaque}, []target{targetR, targetG, targetB}, F32, false},
	R32G32B32A32FloatPremultiplied: {"r32g32b32a32-float-premultiplied", [4]int8{0, 1, 2, 3}, []target{targetR, targetG, targetB, targetA}, F32, true},
	R32G32B32A32Float:              {"r32g32b32a32-float", [4]int8{0, 1, 2, 3}, []target{targetR, targetG, targetB, targetA}, F32, false},
	G8A8Premultiplied:              {"g8a8-premultiplied", [4]int8{0, 0, 0, 1}, []target{targetGray, targetA}, U8, true},
	G8A8:                           {"g8a8", [4]int8{0, 0, 0, 1}, []target{targetGray, targetA}, U8, false},
	G8:                             {"g8", [4]int8{0, 0, 0, srcOpaque}, []target{targetGray}, U8, false},
	G16A16Premultiplied:            {"g16a16-premultiplied", [4]int8{0, 0, 0, 1}, []target{targetGray, targetA}, U16, true},
	G16A16:                         {"g16a16", [4]int8{0, 0, 0, 1}, []target{targetGray, targetA}, U16, false},
	G16:                            {"g16", [4]int8{0, 0, 0, srcOpaque}, []target{targetGray}, U16, false},
}

// Valid reports whether f is one of the defined formats.
func (f Format) Valid() bool {
	return f < FormatCount
}

func (f Format) String() string {
	if !f.Valid() {
		return fmt.Sprintf("invalid(%d)", uint32(f))
	}
	return layouts[f].name
}

// Channels returns the number of stored channels per pixel.
func (f Format) Channels() int {
	return len(layouts[f].target)
}

// ChannelType returns the storage type of each channel.
func (f Format) ChannelType() ChannelType {
	return layouts[f].channel
}

// BytesPerPixel returns the pixel size in bytes.
func (f Format) BytesPerPixel() int {
	return f.Channels() * f.ChannelType().Size()
}

// HasAlpha reports whether the format stores an alpha channel.
func (f Format) HasAlpha() bool {
	for _, t := range layouts[f].target {
		if t == targetA {
			return true
		}
	}
	return false
}

// Premultiplied reports whether color channels are premultiplied by
// alpha.
func (f Format) Premultiplied() bool {
	return layouts[f].premul
}

// Grayscale reports whether the format stores a single gray channel
// instead of separate color channels.
func (f Format) Grayscale() bool {
	return layouts[f].target[0] == targetGray
}
