package blockdev

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMemoryReadWriteErase(t *testing.T) {
	m := NewMemory(4, 256)
	payload := []byte{1, 2, 3, 4}
	if err := m.WriteBlock(2, 16, payload); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if err := m.ReadBlock(2, 16, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("ReadBlock = %v, want %v", buf, payload)
	}
	if err := m.EraseBlock(2); err != nil {
		t.Fatal(err)
	}
	if err := m.ReadBlock(2, 16, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0, 0, 0, 0}) {
		t.Fatalf("ReadBlock after erase = %v, want zeros", buf)
	}
	if m.NumBlocks() != 4 {
		t.Fatalf("NumBlocks() = %d, want 4", m.NumBlocks())
	}
}

func TestMemoryRejectsOutOfRangeBlock(t *testing.T) {
	m := NewMemory(2, 64)
	if err := m.ReadBlock(2, 0, make([]byte, 4)); err == nil {
		t.Fatal("ReadBlock beyond the last block: want error")
	}
	if err := m.WriteBlock(9, 0, []byte{1}); err == nil {
		t.Fatal("WriteBlock beyond the last block: want error")
	}
	if err := m.EraseBlock(5); err == nil {
		t.Fatal("EraseBlock beyond the last block: want error")
	}
}

func TestFileDriverRoundTripAndMmapReadback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afs.img")
	const blockSize = 4096
	f, err := OpenFile(path, 4, blockSize)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	payload := bytes.Repeat([]byte{0xA5}, 512)
	if err := f.WriteBlock(1, 512, payload); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(payload))
	if err := f.ReadBlock(1, 512, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatal("ReadBlock did not return the written bytes")
	}

	m, err := OpenMmap(path, blockSize, false)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if err := m.ReadBlock(1, 512, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatal("mmap ReadBlock did not return the written bytes")
	}
	if err := m.WriteBlock(0, 0, payload); err == nil {
		t.Fatal("WriteBlock on a read-only mmap driver: want error")
	}

	if err := f.EraseBlock(1); err != nil {
		t.Fatal(err)
	}
	if err := f.ReadBlock(1, 512, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, make([]byte, len(buf))) {
		t.Fatal("ReadBlock after erase: want zeros")
	}
}
