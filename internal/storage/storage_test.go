package storage

import (
	"bytes"
	"testing"

	"github.com/distr1/afs/internal/chunk"
)

// memDriver is a minimal in-memory Driver for exercising Ctx without
// pulling in a real block device.
type memDriver struct {
	blocks [][]byte
}

func newMemDriver(numBlocks int, blockSize uint32) *memDriver {
	d := &memDriver{blocks: make([][]byte, numBlocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, blockSize)
	}
	return d
}

func (d *memDriver) ReadBlock(block uint16, offset uint32, buf []byte) error {
	copy(buf, d.blocks[block][offset:])
	return nil
}

func (d *memDriver) WriteBlock(block uint16, offset uint32, buf []byte) error {
	copy(d.blocks[block][offset:], buf)
	return nil
}

func (d *memDriver) EraseBlock(block uint16) error {
	d.blocks[block] = make([]byte, len(d.blocks[block]))
	return nil
}

func testGeometry() Geometry {
	return Geometry{
		BlockSize:         256,
		NumBlocks:         4,
		MinReadWriteSize:  16,
		SubBlocksPerBlock: 4,
	}
}

func TestReadWriteBlockHeaderRoundTrip(t *testing.T) {
	d := newMemDriver(4, 256)
	c := New(d, testGeometry(), 1)

	hdr := chunk.BlockHeader{Magic: chunk.MagicV2, ObjectID: 42, ObjectBlockIndex: 0}
	c.BeginWrite(Position{Block: 0, Offset: 0})
	c.Append(hdr.Encode(), chunk.HeaderSize)
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}

	got, err := c.ReadBlockHeader(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != hdr {
		t.Fatalf("ReadBlockHeader = %+v, want %+v", got, hdr)
	}
}

func TestFlushPadsToMinWriteSize(t *testing.T) {
	d := newMemDriver(4, 256)
	c := New(d, testGeometry(), 1)

	c.BeginWrite(Position{Block: 1, Offset: 0})
	c.Append([]byte{1, 2, 3}, 3)
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(d.blocks[1][:3], []byte{1, 2, 3}) {
		t.Fatalf("written prefix = %v, want [1 2 3]", d.blocks[1][:3])
	}
	for i := 3; i < 16; i++ {
		if d.blocks[1][i] != 0 {
			t.Fatalf("padding byte %d = %d, want 0", i, d.blocks[1][i])
		}
	}
	pos := c.WritePosition()
	if pos.Offset != 16 {
		t.Fatalf("WritePosition().Offset after flush = %d, want 16", pos.Offset)
	}
}

func TestFlushWithoutPadRequiresAlignedLength(t *testing.T) {
	d := newMemDriver(2, 256)
	c := New(d, testGeometry(), 1)
	c.BeginWrite(Position{Block: 0, Offset: 0})
	c.Append([]byte{1, 2, 3}, 3)
	if err := c.Flush(false); err == nil {
		t.Fatal("Flush(pad=false) with unaligned length: want error")
	}
}

func TestOffsetChunkRoundTrip(t *testing.T) {
	d := newMemDriver(2, 256)
	// A wider window: header plus a two-entry offset chunk exceeds one
	// 16-byte minimum-write unit.
	c := New(d, testGeometry(), 4)

	hdr := chunk.BlockHeader{Magic: chunk.MagicV2, ObjectID: 1, ObjectBlockIndex: 1}
	c.BeginWrite(Position{Block: 0, Offset: 0})
	c.Append(hdr.Encode(), chunk.HeaderSize)

	entries := []chunk.OffsetEntry{{Stream: 0, Offset: 10}, {Stream: 3, Offset: 99}}
	payload := make([]byte, 0, len(entries)*8)
	for _, e := range entries {
		var buf [8]byte
		v := e.Pack()
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		payload = append(payload, buf[:]...)
	}
	offHdr := chunk.Header{Type: chunk.TypeOffset, Length: uint32(len(payload))}
	var tagBuf [4]byte
	tag := offHdr.Tag()
	for i := 0; i < 4; i++ {
		tagBuf[i] = byte(tag >> (8 * i))
	}
	c.Append(tagBuf[:], 4)
	c.Append(payload, uint32(len(payload)))
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.ReadOffsetChunk(0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("ReadOffsetChunk ok=false, want true")
	}
	if got[0] != 10 || got[3] != 99 {
		t.Fatalf("ReadOffsetChunk entries = %v, want [0]=10 [3]=99", got)
	}
}

func TestReadOffsetChunkAbsentWhenNotPresent(t *testing.T) {
	d := newMemDriver(2, 256)
	c := New(d, testGeometry(), 1)
	hdr := chunk.BlockHeader{Magic: chunk.MagicV2, ObjectID: 1, ObjectBlockIndex: 0}
	c.BeginWrite(Position{Block: 0, Offset: 0})
	c.Append(hdr.Encode(), chunk.HeaderSize)
	c.Append(chunk.EncodeEndChunk(), 4)
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.ReadOffsetChunk(0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("ReadOffsetChunk ok=true over a non-offset chunk, want false")
	}
}

func TestEraseInvalidatesCache(t *testing.T) {
	d := newMemDriver(2, 256)
	c := New(d, testGeometry(), 1)
	hdr := chunk.BlockHeader{Magic: chunk.MagicV2, ObjectID: 5, ObjectBlockIndex: 0}
	c.BeginWrite(Position{Block: 0, Offset: 0})
	c.Append(hdr.Encode(), chunk.HeaderSize)
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadBlockHeader(0); err != nil {
		t.Fatal(err)
	}
	if err := c.Erase(0); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadBlockHeader(0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Magic != ([4]byte{}) {
		t.Fatalf("ReadBlockHeader after erase = %+v, want zero magic", got)
	}
}

func TestReadDataRejectsInvalidBlock(t *testing.T) {
	d := newMemDriver(2, 256)
	c := New(d, testGeometry(), 1)
	pos := Position{Block: InvalidBlock, Offset: 0}
	if err := c.ReadData(&pos, make([]byte, 4)); err == nil {
		t.Fatal("ReadData with InvalidBlock: want error")
	}
}

func TestReadDataRejectsBeyondBlockSize(t *testing.T) {
	d := newMemDriver(2, 256)
	c := New(d, testGeometry(), 1)
	pos := Position{Block: 0, Offset: 250}
	if err := c.ReadData(&pos, make([]byte, 16)); err == nil {
		t.Fatal("ReadData beyond block size: want error")
	}
}
