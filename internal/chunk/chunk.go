// Package chunk encodes and decodes the on-disk tag and entry formats used
// inside an object block: chunk headers, offset-chunk entries and
// seek-chunk entries.
package chunk

const (
	// NumStreams is the number of interleaved logical streams an object
	// can address.
	NumStreams = 16

	// WildcardStream selects "whichever stream comes next" on read.
	WildcardStream = 0xff

	// MaxLength is the largest length a single chunk may declare (24 bits).
	MaxLength = 0xffffff

	// FooterLength is the fixed size of the v2 footer region at the end
	// of every block.
	FooterLength = 128

	// TagSize is the encoded size of a chunk header (one packed 32-bit
	// tag), as opposed to HeaderSize, the size of a block header.
	TagSize = 4
)

// Chunk type tags, stored in the upper 8 bits of a chunk header's tag.
const (
	TypeDataFirst   byte = 0xd0
	TypeDataLast    byte = 0xdf
	TypeEnd         byte = 0xed
	TypeOffset      byte = 0x3e
	TypeSeek        byte = 0x5e
	TypeInvalidZero byte = 0x00
	TypeInvalidOne  byte = 0xff
)

// IsData reports whether t is one of the 16 data-chunk type tags and
// returns the stream it belongs to.
func IsData(t byte) (stream uint8, ok bool) {
	if t < TypeDataFirst || t > TypeDataLast {
		return 0, false
	}
	return t - TypeDataFirst, true
}

// DataType returns the chunk type tag for a data chunk on the given stream.
func DataType(stream uint8) byte {
	return TypeDataFirst + stream
}

// Header is the on-disk chunk header: upper 8 bits are the type, lower 24
// are the length of the data that follows.
type Header struct {
	Type   byte
	Length uint32
}

// Tag packs h into the 32-bit on-disk representation.
func (h Header) Tag() uint32 {
	return uint32(h.Type)<<24 | (h.Length & MaxLength)
}

// DecodeHeader unpacks a 32-bit on-disk tag into a Header.
func DecodeHeader(tag uint32) Header {
	return Header{
		Type:   byte(tag >> 24),
		Length: tag & MaxLength,
	}
}

// OffsetEntry is one decoded entry of an offset chunk: the absolute byte
// count of a stream as of the start of the block the chunk appears in.
type OffsetEntry struct {
	Stream uint8
	Offset uint64
}

// Pack encodes e into the on-disk uint64 representation
// (stream<<60 | offset & 0x0fffffffffffffff).
func (e OffsetEntry) Pack() uint64 {
	return uint64(e.Stream)<<60 | (e.Offset & 0x0fffffffffffffff)
}

// UnpackOffset decodes an on-disk offset-chunk entry.
func UnpackOffset(v uint64) OffsetEntry {
	return OffsetEntry{
		Stream: uint8(v >> 60),
		Offset: v & 0x0fffffffffffffff,
	}
}

// SeekEntry is one decoded entry of a seek chunk: the byte count of a
// stream within the current block, as of the position the chunk appears
// at.
type SeekEntry struct {
	Stream uint8
	Offset uint32
}

// Pack encodes e into the on-disk uint32 representation
// (stream<<28 | offset & 0x0fffffff).
func (e SeekEntry) Pack() uint32 {
	return uint32(e.Stream)<<28 | (e.Offset & 0x0fffffff)
}

// UnpackSeek decodes an on-disk seek-chunk entry.
func UnpackSeek(v uint32) SeekEntry {
	return SeekEntry{
		Stream: uint8(v >> 28),
		Offset: v & 0x0fffffff,
	}
}
