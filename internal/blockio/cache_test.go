package blockio

import "testing"

func TestCacheReadMiss(t *testing.T) {
	c := New(16)
	buf := make([]byte, 4)
	if n := c.Read(Position{Block: 0, Offset: 0}, buf); n != 0 {
		t.Fatalf("Read on empty cache returned %d, want 0", n)
	}
}

func TestCachePopulateAndRead(t *testing.T) {
	c := New(8)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	c.Populate(Position{Block: 2, Offset: 0}, data)

	if !c.Contains(Position{Block: 2, Offset: 3}) {
		t.Fatal("Contains(block 2, offset 3): want true")
	}
	if c.Contains(Position{Block: 3, Offset: 0}) {
		t.Fatal("Contains(block 3, offset 0): want false")
	}

	buf := make([]byte, 4)
	n := c.Read(Position{Block: 2, Offset: 2}, buf)
	if n != 4 {
		t.Fatalf("Read returned n=%d, want 4", n)
	}
	want := []byte{3, 4, 5, 6}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("Read data = %v, want %v", buf, want)
		}
	}
}

func TestCacheReadTruncatesAtWindowEnd(t *testing.T) {
	c := New(8)
	c.Populate(Position{Block: 0, Offset: 0}, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	buf := make([]byte, 4)
	n := c.Read(Position{Block: 0, Offset: 6}, buf)
	if n != 2 {
		t.Fatalf("Read near window end returned n=%d, want 2", n)
	}
}

func TestCacheWriteAccumulatesAndOverflowPanics(t *testing.T) {
	c := New(4)
	c.SetWritePosition(Position{Block: 1, Offset: 0})
	c.Write([]byte{1, 2}, 2)
	c.Write(nil, 1)
	if got := c.PendingLen(); got != 3 {
		t.Fatalf("PendingLen() = %d, want 3", got)
	}
	pending := c.Pending()
	want := []byte{1, 2, 0}
	for i := range want {
		if pending[i] != want[i] {
			t.Fatalf("Pending() = %v, want %v", pending, want)
		}
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Write overflowing the window: want panic")
		}
	}()
	c.Write([]byte{9, 9}, 2)
}

func TestCacheAssignBlockPreservesOffsetAndPending(t *testing.T) {
	c := New(4)
	c.SetWritePosition(Position{Block: 0, Offset: 12})
	c.Write([]byte{1, 2}, 2)
	c.AssignBlock(5)
	pos := c.WritePosition()
	if pos.Block != 5 || pos.Offset != 12 {
		t.Fatalf("WritePosition() = %+v, want {Block:5 Offset:12}", pos)
	}
	if c.PendingLen() != 2 {
		t.Fatalf("PendingLen() after AssignBlock = %d, want 2", c.PendingLen())
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := New(8)
	c.Populate(Position{Block: 3, Offset: 0}, make([]byte, 8))

	// Non-overlapping: different block, no effect.
	c.Invalidate(Position{Block: 4, Offset: 0}, 8)
	if !c.Contains(Position{Block: 3, Offset: 0}) {
		t.Fatal("Invalidate on a different block evicted the cache")
	}

	// Overlapping same block: evicts.
	c.Invalidate(Position{Block: 3, Offset: 2}, 4)
	if c.Contains(Position{Block: 3, Offset: 0}) {
		t.Fatal("Invalidate on an overlapping range did not evict the cache")
	}
}

func TestCacheReset(t *testing.T) {
	c := New(8)
	c.Populate(Position{Block: 1, Offset: 0}, make([]byte, 8))
	c.Reset()
	if c.Contains(Position{Block: 1, Offset: 0}) {
		t.Fatal("Contains after Reset: want false")
	}
	if c.WritePosition().Block != InvalidBlock {
		t.Fatalf("WritePosition().Block after Reset = %d, want InvalidBlock", c.WritePosition().Block)
	}
}
