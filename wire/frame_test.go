// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	// A compressible raw section: pixel-like runs.
	raw := bytes.Repeat([]byte{10, 20, 30, 255}, 4096)

	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			message := Message{
				Op:          OpNextFrame,
				Seq:         7,
				Meta:        []byte{0xa0}, // empty CBOR map
				Raw:         raw,
				Compression: tag,
			}

			var buf bytes.Buffer
			if err := WriteMessage(&buf, message); err != nil {
				t.Fatalf("WriteMessage failed: %v", err)
			}

			if tag != CompressionNone {
				// The repeated-run payload must actually shrink.
				if buf.Len() >= headerLength+len(message.Meta)+len(raw) {
					t.Errorf("%v frame did not shrink: %d bytes on the wire", tag, buf.Len())
				}
			}

			got, err := ReadMessage(&buf)
			if err != nil {
				t.Fatalf("ReadMessage failed: %v", err)
			}
			if got.Op != OpNextFrame || got.Seq != 7 {
				t.Errorf("header round trip: op %v seq %d", got.Op, got.Seq)
			}
			if !bytes.Equal(got.Meta, message.Meta) {
				t.Error("metadata section did not round-trip")
			}
			if !bytes.Equal(got.Raw, raw) {
				t.Error("raw section did not round-trip")
			}
		})
	}
}

func TestMessageEmptySections(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Message{Op: OpEncode, Seq: 1}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if len(got.Meta) != 0 || len(got.Raw) != 0 {
		t.Error("empty sections should read back empty")
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	// High-entropy bytes do not shrink; the writer must fall back to
	// an uncompressed raw section rather than growing the frame.
	raw := make([]byte, 1024)
	state := uint32(0x9e3779b9)
	for i := range raw {
		state = state*1664525 + 1013904223
		raw[i] = byte(state >> 24)
	}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, Message{Op: OpAddFrame, Seq: 3, Raw: raw, Compression: CompressionLZ4}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	wireBytes := buf.Bytes()
	if got := CompressionTag(wireBytes[1]); got != CompressionNone {
		t.Errorf("header tag = %v, want none", got)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !bytes.Equal(got.Raw, raw) {
		t.Error("raw section did not round-trip")
	}
}

func TestReadMessageRejectsOversizedLengths(t *testing.T) {
	var header [headerLength]byte
	header[0] = byte(OpInit)
	binary.BigEndian.PutUint32(header[6:10], maxMetaLength+1)
	if _, err := ReadMessage(bytes.NewReader(header[:])); err == nil {
		t.Error("oversized metadata length should be rejected")
	}

	header = [headerLength]byte{0: byte(OpInit)}
	binary.BigEndian.PutUint32(header[10:14], maxRawLength+1)
	if _, err := ReadMessage(bytes.NewReader(header[:])); err == nil {
		t.Error("oversized raw length should be rejected")
	}
}

func TestReadMessageRejectsTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Message{Op: OpInit, Seq: 1, Meta: []byte{1, 2, 3, 4}}); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]
	if _, err := ReadMessage(bytes.NewReader(truncated)); err == nil {
		t.Error("truncated frame should be rejected")
	}
}

func TestReadMessageRejectsLengthMismatch(t *testing.T) {
	// An empty raw section that claims a nonzero uncompressed size.
	var header [headerLength]byte
	header[0] = byte(OpEncode)
	binary.BigEndian.PutUint32(header[14:18], 12)
	if _, err := ReadMessage(bytes.NewReader(header[:])); err == nil {
		t.Error("declared size without raw bytes should be rejected")
	}
}

func TestWriteMessageRejectsOversizedSections(t *testing.T) {
	if err := WriteMessage(&bytes.Buffer{}, Message{Op: OpInit, Meta: make([]byte, maxMetaLength+1)}); err == nil {
		t.Error("oversized metadata should be rejected")
	}
}

func TestOpNames(t *testing.T) {
	if got := OpInit.String(); got != "init" {
		t.Errorf("OpInit = %q", got)
	}
	if got := (OpInit | ResponseBit).String(); got != "init-response" {
		t.Errorf("OpInit response = %q", got)
	}
	if !(OpEncode | ResponseBit).IsResponse() {
		t.Error("response bit not detected")
	}
	if (OpEncode | ResponseBit).Request() != OpEncode {
		t.Error("Request() did not clear the response bit")
	}
}
