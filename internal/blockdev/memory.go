package blockdev

import "golang.org/x/xerrors"

// Memory is a storage.Driver entirely held in process memory, used by
// tests in place of real flash.
type Memory struct {
	blocks    [][]byte
	blockSize uint32
}

// NewMemory allocates an all-zero (erased) in-memory device, matching the
// platform convention that erased flash reads back as zero bytes.
func NewMemory(numBlocks uint16, blockSize uint32) *Memory {
	m := &Memory{blocks: make([][]byte, numBlocks), blockSize: blockSize}
	for i := range m.blocks {
		m.blocks[i] = make([]byte, blockSize)
	}
	return m
}

// ReadBlock implements storage.Driver.
func (m *Memory) ReadBlock(block uint16, offset uint32, buf []byte) error {
	if int(block) >= len(m.blocks) {
		return xerrors.Errorf("blockdev: block %d out of range", block)
	}
	copy(buf, m.blocks[block][offset:])
	return nil
}

// WriteBlock implements storage.Driver.
func (m *Memory) WriteBlock(block uint16, offset uint32, buf []byte) error {
	if int(block) >= len(m.blocks) {
		return xerrors.Errorf("blockdev: block %d out of range", block)
	}
	copy(m.blocks[block][offset:], buf)
	return nil
}

// EraseBlock implements storage.Driver.
func (m *Memory) EraseBlock(block uint16) error {
	if int(block) >= len(m.blocks) {
		return xerrors.Errorf("blockdev: block %d out of range", block)
	}
	for i := range m.blocks[block] {
		m.blocks[block][i] = 0
	}
	return nil
}

// NumBlocks reports the device's block count.
func (m *Memory) NumBlocks() uint16 { return uint16(len(m.blocks)) }
