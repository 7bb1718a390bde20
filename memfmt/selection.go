// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package memfmt

import "strings"

// Selection is a bitset of accepted formats, keyed by Format ordinal.
// The zero Selection accepts whatever format the worker natively
// emits, with no conversion.
type Selection uint32

// Select returns a Selection containing exactly the given formats.
func Select(formats ...Format) Selection {
	var s Selection
	for _, f := range formats {
		s |= 1 << f
	}
	return s
}

// All returns a Selection containing every defined format.
func All() Selection {
	return 1<<FormatCount - 1
}

// Contains reports whether f is in the selection.
func (s Selection) Contains(f Format) bool {
	return s&(1<<f) != 0
}

// IsEmpty reports whether no format is selected.
func (s Selection) IsEmpty() bool {
	return s == 0
}

// With returns s with f added.
func (s Selection) With(f Format) Selection {
	return s | 1<<f
}

// Formats returns the selected formats in ordinal order.
func (s Selection) Formats() []Format {
	var formats []Format
	for f := Format(0); f < FormatCount; f++ {
		if s.Contains(f) {
			formats = append(formats, f)
		}
	}
	return formats
}

func (s Selection) String() string {
	var names []string
	for _, f := range s.Formats() {
		names = append(names, f.String())
	}
	return strings.Join(names, "|")
}

// rank orders candidate formats by how well they can represent pixels
// of the native format. Higher is better. The criteria, most
// significant first: matching alpha presence, at least as many
// channels, matching channel type, at least as wide channels, then
// fewer channels and narrower channels to avoid waste.
type rank struct {
	alphaMatch    bool
	enoughChans   bool
	typeMatch     bool
	enoughWidth   bool
	negChannels   int
	negChanWidth  int
}

func rankFor(candidate, native Format) rank {
	return rank{
		alphaMatch:   candidate.HasAlpha() == native.HasAlpha(),
		enoughChans:  candidate.Channels() >= native.Channels(),
		typeMatch:    candidate.ChannelType() == native.ChannelType(),
		enoughWidth:  candidate.ChannelType().Size() >= native.ChannelType().Size(),
		negChannels:  -candidate.Channels(),
		negChanWidth: -candidate.ChannelType().Size(),
	}
}

// atLeast reports whether r ranks at least as high as other.
func (r rank) atLeast(other rank) bool {
	pairs := [][2]int{
		{boolInt(r.alphaMatch), boolInt(other.alphaMatch)},
		{boolInt(r.enoughChans), boolInt(other.enoughChans)},
		{boolInt(r.typeMatch), boolInt(other.typeMatch)},
		{boolInt(r.enoughWidth), boolInt(other.enoughWidth)},
		{r.negChannels, other.negChannels},
		{r.negChanWidth, other.negChanWidth},
	}
	for _, p := range pairs {
		if p[0] != p[1] {
			return p[0] > p[1]
		}
	}
	return true
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// BestFormatFor picks the selected format that best represents pixels
// natively produced in format native. If native itself is selected it
// is returned unchanged. Returns false if the selection is empty.
func (s Selection) BestFormatFor(native Format) (Format, bool) {
	if s.IsEmpty() {
		return 0, false
	}
	if s.Contains(native) {
		return native, true
	}

	var best Format
	var bestRank rank
	first := true
	for _, candidate := range s.Formats() {
		r := rankFor(candidate, native)
		if first || r.atLeast(bestRank) {
			best = candidate
			bestRank = r
			first = false
		}
	}
	return best, true
}
