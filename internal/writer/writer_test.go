package writer

import (
	"bytes"
	"testing"

	"golang.org/x/xerrors"

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

func testGeometry(numBlocks uint16) storage.Geometry {
	return storage.Geometry{
		BlockSize:         1024,
		NumBlocks:         numBlocks,
		MinReadWriteSize:  32,
		SubBlocksPerBlock: 4,
	}
}

func writeAll(w *Writer, stream uint8, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(stream, data)
		if err != nil {
			return err
		}
		if n == 0 {
			return xerrors.New("writer: Write made no progress")
		}
		data = data[n:]
	}
	return nil
}

func TestWriteSmallObjectSingleBlock(t *testing.T) {
	d := newMemDriver(4, 1024)
	geo := testGeometry(4)
	ctx := storage.New(d, geo, 1)
	table := lookup.New(4)

	w := New(ctx, table, 1)
	if err := writeAll(w, 3, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if got := table.GetNumBlocks(1); got != 1 {
		t.Fatalf("GetNumBlocks(1) = %d, want 1", got)
	}
	hdr, err := ctx.ReadBlockHeader(0)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Magic != chunk.MagicV2 || hdr.ObjectID != 1 || hdr.ObjectBlockIndex != 0 {
		t.Fatalf("ReadBlockHeader(0) = %+v, want {MagicV2 1 0}", hdr)
	}
}

func TestWriteSpansMultipleBlocksWhenDataExceedsCapacity(t *testing.T) {
	d := newMemDriver(8, 1024)
	geo := testGeometry(8)
	ctx := storage.New(d, geo, 1)
	table := lookup.New(8)

	data := bytes.Repeat([]byte{0xAB}, 3000)
	w := New(ctx, table, 1)
	if err := writeAll(w, 0, data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if got := table.GetNumBlocks(1); got < 2 {
		t.Fatalf("GetNumBlocks(1) = %d, want >= 2 for %d bytes in a 1024-byte block", got, len(data))
	}
}

func TestWriteReturnsErrNoSpaceWhenTableIsFull(t *testing.T) {
	d := newMemDriver(1, 1024)
	geo := testGeometry(1)
	ctx := storage.New(d, geo, 1)
	table := lookup.New(1)

	data := bytes.Repeat([]byte{0xCD}, 3000)
	w := New(ctx, table, 1)
	err := writeAll(w, 0, data)
	if err == nil {
		t.Fatal("writeAll across more blocks than the table has: want error")
	}
	if !xerrors.Is(err, ErrNoSpace) {
		t.Fatalf("writeAll error = %v, want ErrNoSpace", err)
	}
}

func TestWriteMultipleStreamsInterleaved(t *testing.T) {
	d := newMemDriver(4, 1024)
	geo := testGeometry(4)
	ctx := storage.New(d, geo, 1)
	table := lookup.New(4)

	w := New(ctx, table, 2)
	if err := writeAll(w, 0, []byte("stream-zero")); err != nil {
		t.Fatal(err)
	}
	if err := writeAll(w, 1, []byte("stream-one")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := table.GetNumBlocks(2); got != 1 {
		t.Fatalf("GetNumBlocks(2) = %d, want 1", got)
	}
}
