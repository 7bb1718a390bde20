// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package memfmt

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Convert rewrites a pixel buffer from one format into another. The
// result is tightly packed; the returned stride is width times the
// target pixel size. When from equals to, src is returned unchanged
// without copying.
//
// Conversion is total over the format set: permutations and depth
// changes are exact, premultiplication is applied or removed with
// correct rounding, and zero-alpha pixels unpremultiply to zero color
// channels. An error indicates inconsistent geometry, not an
// unconvertible format pair.
func Convert(src []byte, width, height, stride int, from, to Format) ([]byte, int, error) {
	if !from.Valid() || !to.Valid() {
		return nil, 0, fmt.Errorf("invalid memory format: from %v to %v", from, to)
	}
	srcPixel := from.BytesPerPixel()
	if width <= 0 || height <= 0 {
		return nil, 0, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if stride < width*srcPixel {
		return nil, 0, fmt.Errorf("stride %d below minimum %d", stride, width*srcPixel)
	}
	// The last row may omit stride padding.
	if minLen := stride*(height-1) + width*srcPixel; len(src) < minLen {
		return nil, 0, fmt.Errorf("buffer is %d bytes, need at least %d", len(src), minLen)
	}

	if from == to {
		return src, stride, nil
	}

	dstPixel := to.BytesPerPixel()
	dstStride := width * dstPixel
	dst := make([]byte, dstStride*height)

	if permutable(from, to) {
		permuteRows(src, dst, width, height, stride, dstStride, from, to)
		return dst, dstStride, nil
	}

	for y := 0; y < height; y++ {
		srcRow := src[y*stride:]
		dstRow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			r, g, b, a := readPixel(srcRow[x*srcPixel:], from)
			writePixel(dstRow[x*dstPixel:], to, r, g, b, a)
		}
	}
	return dst, dstStride, nil
}

// permutable reports whether the conversion is a pure per-channel
// byte move: same channel type, same premultiplication, every target
// channel backed by a real source channel, and no averaging.
func permutable(from, to Format) bool {
	if from.ChannelType() != to.ChannelType() || from.Premultiplied() != to.Premultiplied() {
		return false
	}
	if to.Grayscale() && !from.Grayscale() {
		return false
	}
	if to.HasAlpha() && !from.HasAlpha() {
		return false
	}
	return true
}

func permuteRows(src, dst []byte, width, height, srcStride, dstStride int, from, to Format) {
	size := from.ChannelType().Size()
	srcPixel := from.BytesPerPixel()
	dstPixel := to.BytesPerPixel()

	// For each stored target channel, the source channel index it
	// copies from.
	indexMap := make([]int, to.Channels())
	for n, role := range layouts[to].target {
		switch role {
		case targetR:
			indexMap[n] = int(layouts[from].source[0])
		case targetG:
			indexMap[n] = int(layouts[from].source[1])
		case targetB:
			indexMap[n] = int(layouts[from].source[2])
		case targetA:
			indexMap[n] = int(layouts[from].source[3])
		case targetGray:
			// Source is grayscale here (see permutable), so the
			// gray value lives in channel 0.
			indexMap[n] = 0
		}
	}

	for y := 0; y < height; y++ {
		srcRow := src[y*srcStride:]
		dstRow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			s := srcRow[x*srcPixel:]
			d := dstRow[x*dstPixel:]
			for n, srcIdx := range indexMap {
				copy(d[n*size:(n+1)*size], s[srcIdx*size:(srcIdx+1)*size])
			}
		}
	}
}

// readPixel decodes one pixel to straight-alpha normalized RGBA.
func readPixel(p []byte, f Format) (r, g, b, a float64) {
	size := f.ChannelType().Size()
	channel := func(i int8) float64 {
		if i == srcOpaque {
			return 1
		}
		return readChannel(p[int(i)*size:], f.ChannelType())
	}
	src := layouts[f].source
	r = channel(src[0])
	g = channel(src[1])
	b = channel(src[2])
	a = channel(src[3])

	if f.Premultiplied() {
		if a == 0 {
			// Zero coverage carries no color. Avoids division
			// artifacts from stray channel bits.
			return 0, 0, 0, 0
		}
		r /= a
		g /= a
		b /= a
	}
	return r, g, b, a
}

// writePixel encodes straight-alpha normalized RGBA into one pixel.
func writePixel(p []byte, f Format, r, g, b, a float64) {
	premul := 1.0
	if f.Premultiplied() {
		premul = a
	}
	size := f.ChannelType().Size()
	for n, role := range layouts[f].target {
		var v float64
		switch role {
		case targetR:
			v = r * premul
		case targetG:
			v = g * premul
		case targetB:
			v = b * premul
		case targetA:
			v = a
		case targetGray:
			v = (r + g + b) / 3 * premul
		}
		writeChannel(p[n*size:], f.ChannelType(), v)
	}
}

func readChannel(p []byte, c ChannelType) float64 {
	switch c {
	case U8:
		return float64(p[0]) / math.MaxUint8
	case U16:
		return float64(binary.NativeEndian.Uint16(p)) / math.MaxUint16
	case F16:
		return float64(float16.Frombits(binary.NativeEndian.Uint16(p)).Float32())
	default:
		return float64(math.Float32frombits(binary.NativeEndian.Uint32(p)))
	}
}

func writeChannel(p []byte, c ChannelType, v float64) {
	switch c {
	case U8:
		p[0] = uint8(math.Round(clamp01(v) * math.MaxUint8))
	case U16:
		binary.NativeEndian.PutUint16(p, uint16(math.Round(clamp01(v)*math.MaxUint16)))
	case F16:
		binary.NativeEndian.PutUint16(p, float16.Fromfloat32(float32(v)).Bits())
	default:
		binary.NativeEndian.PutUint32(p, math.Float32bits(float32(v)))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
