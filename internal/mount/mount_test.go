package mount

import (
	"testing"

	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/lookup"
	"github.com/distr1/afs/internal/storage"
)

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

func testGeometry() storage.Geometry {
	return storage.Geometry{
		BlockSize:         256,
		NumBlocks:         4,
		MinReadWriteSize:  16,
		SubBlocksPerBlock: 4,
	}
}

// newCtx uses a window wide enough to assemble a whole fixture block's
// header and chunks before a single flush.
func newCtx(d *memDriver) *storage.Ctx {
	return storage.New(d, testGeometry(), 4)
}

func writeHeaderAndData(t *testing.T, ctx *storage.Ctx, block uint16, hdr chunk.BlockHeader, stream uint8, payload []byte) {
	t.Helper()
	ctx.BeginWrite(storage.Position{Block: block, Offset: 0})
	ctx.Append(hdr.Encode(), chunk.HeaderSize)
	dataHdr := chunk.Header{Type: chunk.DataType(stream), Length: uint32(len(payload))}
	var tagBuf [4]byte
	tag := dataHdr.Tag()
	for i := 0; i < 4; i++ {
		tagBuf[i] = byte(tag >> (8 * i))
	}
	ctx.Append(tagBuf[:], 4)
	if len(payload) > 0 {
		ctx.Append(payload, uint32(len(payload)))
	}
	ctx.Append(chunk.EncodeEndChunk(), 4)
	if err := ctx.Flush(true); err != nil {
		t.Fatal(err)
	}
}

func TestScanClassifiesErasedAndInUseBlocks(t *testing.T) {
	d := newMemDriver(4, 256)
	ctx := newCtx(d)
	table := lookup.New(4)

	hdr := chunk.BlockHeader{Magic: chunk.MagicV2, ObjectID: 7, ObjectBlockIndex: 0}
	writeHeaderAndData(t, ctx, 0, hdr, 2, []byte("hello"))

	var found []uint16
	if err := Scan(ctx, table, func(objectID uint16, stream uint8, data []byte) {
		found = append(found, objectID)
		if stream != 2 || string(data) != "hello" {
			t.Errorf("onFound(stream=%d, data=%q), want stream=2 data=\"hello\"", stream, data)
		}
	}); err != nil {
		t.Fatal(err)
	}

	if len(found) != 1 || found[0] != 7 {
		t.Fatalf("onFound objects = %v, want [7]", found)
	}
	if table.GetBlock(7, 0) != 0 {
		t.Errorf("GetBlock(7, 0) = %d, want 0", table.GetBlock(7, 0))
	}
	for _, b := range []uint16{1, 2, 3} {
		info := table.Inspect(b)
		if info.InUse || info.FreeState != lookup.MaybeErased {
			t.Errorf("block %d = %+v, want free/MaybeErased", b, info)
		}
	}
}

func TestScanDemotesOrphanedBlocks(t *testing.T) {
	d := newMemDriver(3, 256)
	ctx := newCtx(d)
	table := lookup.New(3)

	// Block 1 claims to be block-index 1 of object 9, but object 9's
	// block 0 never appears anywhere: it should end up Garbage.
	orphan := chunk.BlockHeader{Magic: chunk.MagicV2, ObjectID: 9, ObjectBlockIndex: 1}
	writeHeaderAndData(t, ctx, 1, orphan, 0, nil)

	if err := Scan(ctx, table, nil); err != nil {
		t.Fatal(err)
	}

	info := table.Inspect(1)
	if info.InUse {
		t.Fatalf("orphaned block 1 = %+v, want freed", info)
	}
	if info.FreeState != lookup.Garbage {
		t.Fatalf("orphaned block 1 free state = %v, want Garbage", info.FreeState)
	}
}

func TestScanKeepsBlockZeroEvenWithoutOtherBlocks(t *testing.T) {
	d := newMemDriver(2, 256)
	ctx := newCtx(d)
	table := lookup.New(2)

	hdr := chunk.BlockHeader{Magic: chunk.MagicV2, ObjectID: 3, ObjectBlockIndex: 0}
	writeHeaderAndData(t, ctx, 0, hdr, 0, nil)

	if err := Scan(ctx, table, nil); err != nil {
		t.Fatal(err)
	}
	if !table.Inspect(0).InUse {
		t.Fatal("block 0 should remain in-use after the second pass")
	}
}
