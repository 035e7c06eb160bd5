package chunk

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Magic values stamped at the start (v1/v2) and, for v2 blocks, the end of
// every physical block.
var (
	MagicV1     = [4]byte{'A', 'F', 'S', '1'}
	MagicV2     = [4]byte{'A', 'F', 'S', '2'}
	MagicFooter = [4]byte{'a', 'f', 's', '2'}
)

// InvalidObjectID is never assigned to a real object.
const InvalidObjectID uint16 = 0

// BlockHeader is the on-disk header stamped at the start of every block
// that belongs to an object.
type BlockHeader struct {
	Magic            [4]byte
	ObjectID         uint16
	ObjectBlockIndex uint16
}

// HeaderSize is the encoded size of BlockHeader, in bytes.
const HeaderSize = 4 + 2 + 2

// Encode writes h in its on-disk little-endian layout.
func (h BlockHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.ObjectID)
	binary.LittleEndian.PutUint16(buf[6:8], h.ObjectBlockIndex)
	return buf
}

// DecodeBlockHeader reads a BlockHeader from buf, which must be at least
// HeaderSize bytes.
func DecodeBlockHeader(buf []byte) (BlockHeader, error) {
	if len(buf) < HeaderSize {
		return BlockHeader{}, xerrors.Errorf("chunk: short block header (%d bytes)", len(buf))
	}
	var h BlockHeader
	copy(h.Magic[:], buf[0:4])
	h.ObjectID = binary.LittleEndian.Uint16(buf[4:6])
	h.ObjectBlockIndex = binary.LittleEndian.Uint16(buf[6:8])
	return h, nil
}

// Version reports which on-disk version a header's magic corresponds to.
// ok is false for neither v1 nor v2 (i.e. an invalid/erased block).
func (h BlockHeader) Version() (v int, ok bool) {
	switch h.Magic {
	case MagicV1:
		return 1, true
	case MagicV2:
		return 2, true
	default:
		return 0, false
	}
}

// FooterSize is the fixed size of the trailing v2 footer region.
const FooterSize = FooterLength

// EncodeDataChunk frames a complete data chunk (header + payload) for
// the given stream. Used where a whole chunk is built in one shot
// outside the streaming writer — constructing legacy v1 fixtures in
// tests, notably, since the writer itself only ever emits v2 blocks.
func EncodeDataChunk(stream uint8, data []byte) []byte {
	return frame(DataType(stream), data)
}

// EncodeEndChunk frames the zero-length END chunk.
func EncodeEndChunk() []byte {
	return frame(TypeEnd, nil)
}

func frame(t byte, payload []byte) []byte {
	h := Header{Type: t, Length: uint32(len(payload))}
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], h.Tag())
	copy(buf[4:], payload)
	return buf
}
