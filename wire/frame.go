// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Op identifies a protocol operation. Responses echo the request's op
// with ResponseBit set. Op values are protocol constants.
type Op byte

const (
	// OpInit opens a decode session: metadata carries an InitRequest,
	// the raw section carries the complete input image bytes. The
	// response metadata carries an ImageInfo.
	OpInit Op = 0x01

	// OpNextFrame requests the frame at the broker's cursor position.
	// Metadata carries a FrameRequest; the response carries a
	// FrameInfo plus the texture in the raw section.
	OpNextFrame Op = 0x02

	// OpSpecificFrame requests an explicitly described frame. Same
	// payloads as OpNextFrame.
	OpSpecificFrame Op = 0x03

	// OpInitEncode opens an encode session: metadata carries an
	// InitEncodeRequest, the response carries EncodeCaps.
	OpInitEncode Op = 0x10

	// OpAddFrame appends one frame to the pending encode: metadata
	// carries an AddFrameRequest, the raw section the texture.
	OpAddFrame Op = 0x11

	// OpSetMetadata sets one key/value metadata entry on the pending
	// encode.
	OpSetMetadata Op = 0x12

	// OpEncode finalizes the encode: metadata carries an
	// EncodeRequest, the response raw section carries the encoded
	// image bytes.
	OpEncode Op = 0x13

	// OpApplyEdits applies a list of edit operations to an image:
	// metadata carries an EditRequest, the raw section the complete
	// input bytes. The response carries an EditInfo; when the edit
	// could not be expressed as byte changes, the response raw section
	// carries the rewritten image.
	OpApplyEdits Op = 0x20

	// ResponseBit marks a message as the response to the request with
	// the same op and sequence number.
	ResponseBit Op = 0x80
)

// IsResponse reports whether the op has the response bit set.
func (o Op) IsResponse() bool {
	return o&ResponseBit != 0
}

// Request returns the op with the response bit cleared.
func (o Op) Request() Op {
	return o &^ ResponseBit
}

func (o Op) String() string {
	suffix := ""
	if o.IsResponse() {
		suffix = "-response"
	}
	switch o.Request() {
	case OpInit:
		return "init" + suffix
	case OpNextFrame:
		return "next-frame" + suffix
	case OpSpecificFrame:
		return "specific-frame" + suffix
	case OpInitEncode:
		return "init-encode" + suffix
	case OpAddFrame:
		return "add-frame" + suffix
	case OpSetMetadata:
		return "set-metadata" + suffix
	case OpEncode:
		return "encode" + suffix
	case OpApplyEdits:
		return "apply-edits" + suffix
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(o))
	}
}

// headerLength is the fixed message header size: 1 byte op, 1 byte
// compression tag, 4 bytes sequence, 4 bytes metadata length, 4 bytes
// raw section on-wire length, 4 bytes raw section uncompressed length.
const headerLength = 18

// maxMetaLength bounds the CBOR metadata section. Metadata is small
// structured data; 1 MiB leaves ample room for key/value maps and ICC
// profiles.
const maxMetaLength = 1 << 20

// maxRawLength bounds the raw section, both on the wire and after
// decompression. A texture larger than 1 GiB is rejected rather than
// allocated on a worker's say-so.
const maxRawLength = 1 << 30

// Message is one protocol frame.
type Message struct {
	Op  Op
	Seq uint32

	// Meta is the CBOR-encoded metadata section.
	Meta []byte

	// Raw is the uncompressed raw section (texture bytes, encoded
	// image bytes, or nil). Compression is applied on write and
	// undone on read; consumers never see compressed bytes.
	Raw []byte

	// Compression selects the raw-section compression used on the
	// wire. Readers overwrite it with the tag the peer actually used.
	Compression CompressionTag
}

// WriteMessage writes one framed message to w, compressing the raw
// section with the message's compression tag. If the data does not
// shrink, the message falls back to an uncompressed raw section.
func WriteMessage(w io.Writer, message Message) error {
	if len(message.Meta) > maxMetaLength {
		return fmt.Errorf("metadata section is %d bytes, limit %d", len(message.Meta), maxMetaLength)
	}
	if len(message.Raw) > maxRawLength {
		return fmt.Errorf("raw section is %d bytes, limit %d", len(message.Raw), maxRawLength)
	}

	tag := message.Compression
	rawWire := message.Raw
	if tag != CompressionNone && len(message.Raw) > 0 {
		compressed, err := Compress(message.Raw, tag)
		if err != nil {
			return fmt.Errorf("compressing raw section: %w", err)
		}
		if compressed == nil {
			// Incompressible data ships as-is.
			tag = CompressionNone
		} else {
			rawWire = compressed
		}
	}

	var header [headerLength]byte
	header[0] = byte(message.Op)
	header[1] = byte(tag)
	binary.BigEndian.PutUint32(header[2:6], message.Seq)
	binary.BigEndian.PutUint32(header[6:10], uint32(len(message.Meta)))
	binary.BigEndian.PutUint32(header[10:14], uint32(len(rawWire)))
	binary.BigEndian.PutUint32(header[14:18], uint32(len(message.Raw)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write message header: %w", err)
	}
	if len(message.Meta) > 0 {
		if _, err := w.Write(message.Meta); err != nil {
			return fmt.Errorf("write metadata section: %w", err)
		}
	}
	if len(rawWire) > 0 {
		if _, err := w.Write(rawWire); err != nil {
			return fmt.Errorf("write raw section: %w", err)
		}
	}
	return nil
}

// ReadMessage reads one framed message from r, decompressing the raw
// section. It returns an error for malformed frames, unknown
// compression tags, or declared lengths beyond the protocol bounds;
// such errors are protocol violations and the connection must be
// abandoned.
func ReadMessage(r io.Reader) (Message, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read message header: %w", err)
	}

	op := Op(header[0])
	tag := CompressionTag(header[1])
	seq := binary.BigEndian.Uint32(header[2:6])
	metaLength := binary.BigEndian.Uint32(header[6:10])
	rawWireLength := binary.BigEndian.Uint32(header[10:14])
	rawLength := binary.BigEndian.Uint32(header[14:18])

	if metaLength > maxMetaLength {
		return Message{}, fmt.Errorf("metadata length %d exceeds limit %d", metaLength, maxMetaLength)
	}
	if rawWireLength > maxRawLength || rawLength > maxRawLength {
		return Message{}, fmt.Errorf("raw length %d/%d exceeds limit %d", rawWireLength, rawLength, maxRawLength)
	}

	var meta []byte
	if metaLength > 0 {
		meta = make([]byte, metaLength)
		if _, err := io.ReadFull(r, meta); err != nil {
			return Message{}, fmt.Errorf("read metadata section: %w", err)
		}
	}

	var raw []byte
	if rawWireLength > 0 {
		rawWire := make([]byte, rawWireLength)
		if _, err := io.ReadFull(r, rawWire); err != nil {
			return Message{}, fmt.Errorf("read raw section: %w", err)
		}
		var err error
		raw, err = Decompress(rawWire, tag, int(rawLength))
		if err != nil {
			return Message{}, fmt.Errorf("decompress raw section: %w", err)
		}
	} else if rawLength != 0 {
		return Message{}, fmt.Errorf("empty raw section declares %d uncompressed bytes", rawLength)
	}

	return Message{Op: op, Seq: seq, Meta: meta, Raw: raw, Compression: tag}, nil
}
