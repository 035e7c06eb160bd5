package reader

import (
	"bytes"
	"testing"

	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/lookup"
	"github.com/distr1/afs/internal/storage"
	"github.com/distr1/afs/internal/writer"
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

func writeAll(w *writer.Writer, stream uint8, data []byte) {
	for len(data) > 0 {
		n, err := w.Write(stream, data)
		if err != nil {
			panic(err)
		}
		data = data[n:]
	}
}

// readAll drains a Reader opened on a single stream, the way Object.Read
// does: loop until a zero-progress, no-more-data step signals end of
// object.
func readAll(t *testing.T, r *Reader) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 7) // deliberately small to force many steps
	for {
		n, _, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
	}
	return out
}

func TestReadBackSingleStreamSmallObject(t *testing.T) {
	d := newMemDriver(4, 1024)
	ctx := storage.New(d, testGeometry(4), 1)
	table := lookup.New(4)

	w := writer.New(ctx, table, 1)
	payload := []byte("the quick brown fox jumps over the lazy dog")
	writeAll(w, 3, payload)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := Open(ctx, table, 1, 3)
	got := readAll(t, r)
	if !bytes.Equal(got, payload) {
		t.Fatalf("readAll = %q, want %q", got, payload)
	}
}

func TestReadBackWildcardInterleavesInWriteOrder(t *testing.T) {
	d := newMemDriver(4, 1024)
	ctx := storage.New(d, testGeometry(4), 1)
	table := lookup.New(4)

	w := writer.New(ctx, table, 5)
	writeAll(w, 0, []byte("AAAA"))
	writeAll(w, 1, []byte("BB"))
	writeAll(w, 0, []byte("CCC"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := Open(ctx, table, 5, chunk.WildcardStream)
	var gotStream0, gotStream1 bytes.Buffer
	buf := make([]byte, 64)
	for {
		n, stream, err := r.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
		if stream == 0 {
			gotStream0.Write(buf[:n])
		} else if stream == 1 {
			gotStream1.Write(buf[:n])
		} else {
			t.Fatalf("Read returned unexpected stream %d", stream)
		}
	}
	if gotStream0.String() != "AAAACCC" {
		t.Fatalf("stream 0 = %q, want %q", gotStream0.String(), "AAAACCC")
	}
	if gotStream1.String() != "BB" {
		t.Fatalf("stream 1 = %q, want %q", gotStream1.String(), "BB")
	}
}

func TestReadBackSpanningMultipleBlocks(t *testing.T) {
	d := newMemDriver(8, 1024)
	ctx := storage.New(d, testGeometry(8), 1)
	table := lookup.New(8)

	payload := bytes.Repeat([]byte{0x37}, 3000)
	w := writer.New(ctx, table, 9)
	writeAll(w, 4, payload)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := Open(ctx, table, 9, 4)
	got := readAll(t, r)
	if !bytes.Equal(got, payload) {
		t.Fatalf("readAll len = %d, want %d", len(got), len(payload))
	}
}

func TestSizeMatchesWrittenLength(t *testing.T) {
	d := newMemDriver(8, 1024)
	ctx := storage.New(d, testGeometry(8), 1)
	table := lookup.New(8)

	payload := bytes.Repeat([]byte{0x11}, 2500)
	w := writer.New(ctx, table, 3)
	writeAll(w, 2, payload)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := Open(ctx, table, 3, 2)
	size, err := r.Size(0xffff)
	if err != nil {
		t.Fatal(err)
	}
	if size != uint64(len(payload)) {
		t.Fatalf("Size() = %d, want %d", size, len(payload))
	}
}

func TestSeekSkipsLeadingBytes(t *testing.T) {
	d := newMemDriver(4, 1024)
	ctx := storage.New(d, testGeometry(4), 1)
	table := lookup.New(4)

	payload := []byte("0123456789abcdefghij")
	w := writer.New(ctx, table, 1)
	writeAll(w, 0, payload)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := Open(ctx, table, 1, 0)
	if err := r.Seek(10); err != nil {
		t.Fatal(err)
	}
	got := readAll(t, r)
	want := payload[10:]
	if !bytes.Equal(got, want) {
		t.Fatalf("readAll after Seek(10) = %q, want %q", got, want)
	}
}

func TestSaveAndRestorePosition(t *testing.T) {
	d := newMemDriver(4, 1024)
	ctx := storage.New(d, testGeometry(4), 1)
	table := lookup.New(4)

	payload := []byte("0123456789abcdefghij")
	w := writer.New(ctx, table, 1)
	writeAll(w, 0, payload)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := Open(ctx, table, 1, 0)
	buf := make([]byte, 5)
	if _, _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}
	saved := r.Save()

	rest := readAll(t, r)
	if !bytes.Equal(rest, payload[5:]) {
		t.Fatalf("readAll after first 5 bytes = %q, want %q", rest, payload[5:])
	}

	r.Restore(saved)
	rest2 := readAll(t, r)
	if !bytes.Equal(rest2, payload[5:]) {
		t.Fatalf("readAll after Restore = %q, want %q", rest2, payload[5:])
	}
}

func TestReaderReportsObjectIDAndStream(t *testing.T) {
	d := newMemDriver(2, 1024)
	ctx := storage.New(d, testGeometry(2), 1)
	table := lookup.New(2)
	w := writer.New(ctx, table, 77)
	writeAll(w, 6, []byte("x"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r := Open(ctx, table, 77, 6)
	if r.ObjectID() != 77 {
		t.Errorf("ObjectID() = %d, want 77", r.ObjectID())
	}
	if r.Stream() != 6 {
		t.Errorf("Stream() = %d, want 6", r.Stream())
	}
}
