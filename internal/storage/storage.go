// Package storage provides the typed read/write façade over a block
// device driver, backed by a single-window cache per storage context.
package storage

import (
	"golang.org/x/xerrors"

	"github.com/distr1/afs/internal/blockio"
	"github.com/distr1/afs/internal/chunk"
)

// Driver is the interface a block device must satisfy to back an AFS
// store. Block indices are relative (0..NumBlocks), never absolute byte
// offsets.
type Driver interface {
	// ReadBlock reads len(buf) bytes from block at offset into buf.
	ReadBlock(block uint16, offset uint32, buf []byte) error
	// WriteBlock writes buf to block at offset.
	WriteBlock(block uint16, offset uint32, buf []byte) error
	// EraseBlock erases an entire block, leaving it read-as-zero.
	EraseBlock(block uint16) error
}

// Geometry describes the fixed physical layout of the backing device.
type Geometry struct {
	BlockSize         uint32
	NumBlocks         uint16
	MinReadWriteSize  uint32
	SubBlocksPerBlock uint32
}

// Ctx is one storage context: a driver, its geometry, and the cache
// window used to serve reads/accumulate writes for it. Every open object
// and the filesystem-wide mount/lookup logic each hold their own Ctx so
// that concurrent cursors never fight over one cache window.
type Ctx struct {
	Driver   Driver
	Geometry Geometry
	cache    *blockio.Cache
	scratch  []byte // refill buffer, one cache window
}

// New creates a storage context with a cache window sized to a multiple
// of the device's minimum read/write size (multiple must be >= 1).
func New(d Driver, g Geometry, windowMultiple uint32) *Ctx {
	if windowMultiple == 0 {
		windowMultiple = 1
	}
	size := g.MinReadWriteSize * windowMultiple
	return &Ctx{
		Driver:   d,
		Geometry: g,
		cache:    blockio.New(size),
		scratch:  make([]byte, size),
	}
}

// Position mirrors blockio.Position for callers outside this package.
type Position = blockio.Position

// InvalidBlock marks a Position as not currently associated with any
// block.
const InvalidBlock = blockio.InvalidBlock

// CacheSize returns the size of the write/read cache window.
func (c *Ctx) CacheSize() uint32 { return c.cache.Size() }

// ReadData reads length bytes starting at *pos, advancing pos by the
// amount read. It pulls through the cache, repopulating it from the
// driver on a miss.
func (c *Ctx) ReadData(pos *Position, buf []byte) error {
	if pos.Block == blockio.InvalidBlock {
		return xerrors.New("storage: read with invalid block")
	}
	if pos.Offset+uint32(len(buf)) > c.Geometry.BlockSize {
		return xerrors.New("storage: read beyond block size")
	}
	remaining := buf
	for len(remaining) > 0 {
		if !c.cache.Contains(*pos) {
			if err := c.populate(*pos); err != nil {
				return err
			}
		}
		n := c.cache.Read(*pos, remaining)
		if n == 0 {
			return xerrors.New("storage: cache read returned no data")
		}
		pos.Offset += n
		remaining = remaining[n:]
	}
	return nil
}

func (c *Ctx) populate(pos Position) error {
	window := c.cache.Size()
	aligned := pos.Offset - pos.Offset%window
	if err := c.Driver.ReadBlock(pos.Block, aligned, c.scratch); err != nil {
		return xerrors.Errorf("storage: populate cache: %w", err)
	}
	c.cache.Populate(Position{Block: pos.Block, Offset: aligned}, c.scratch)
	return nil
}

// ReadBlockHeader reads a BlockHeader from the start of block.
func (c *Ctx) ReadBlockHeader(block uint16) (chunk.BlockHeader, error) {
	pos := Position{Block: block, Offset: 0}
	buf := make([]byte, chunk.HeaderSize)
	if err := c.ReadData(&pos, buf); err != nil {
		return chunk.BlockHeader{}, err
	}
	return chunk.DecodeBlockHeader(buf)
}

// ReadChunkHeader reads a chunk header at *pos, advancing pos past it.
func (c *Ctx) ReadChunkHeader(pos *Position) (chunk.Header, error) {
	var buf [4]byte
	if err := c.ReadData(pos, buf[:]); err != nil {
		return chunk.Header{}, err
	}
	return chunk.DecodeHeader(leUint32(buf[:])), nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ReadOffsetChunk reads the offset chunk immediately following the block
// header of block (block_index > 0 only); returns the per-stream absolute
// offsets as of the start of the block. ok is false if no offset chunk was
// present (e.g. block_index == 0 blocks never have one).
func (c *Ctx) ReadOffsetChunk(block uint16) (entries [chunk.NumStreams]uint64, ok bool, err error) {
	pos := Position{Block: block, Offset: uint32(chunk.HeaderSize)}
	hdr, err := c.ReadChunkHeader(&pos)
	if err != nil {
		return entries, false, err
	}
	if hdr.Type != chunk.TypeOffset {
		return entries, false, nil
	}
	numStreams := hdr.Length / 8
	if numStreams > chunk.NumStreams || hdr.Length%8 != 0 {
		return entries, false, xerrors.Errorf("storage: invalid offset chunk length %d", hdr.Length)
	}
	var seen uint16
	for i := uint32(0); i < numStreams; i++ {
		var buf [8]byte
		if err := c.ReadData(&pos, buf[:]); err != nil {
			return entries, false, err
		}
		e := chunk.UnpackOffset(leUint64(buf[:]))
		if e.Stream >= chunk.NumStreams {
			return entries, false, xerrors.Errorf("storage: invalid stream %d in offset chunk", e.Stream)
		}
		if seen&(1<<e.Stream) != 0 {
			return entries, false, xerrors.Errorf("storage: duplicate stream %d in offset chunk", e.Stream)
		}
		seen |= 1 << e.Stream
		entries[e.Stream] = e.Offset
	}
	return entries, true, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// ReadSeekChunkAt reads a seek chunk (header+entries) starting at pos,
// validating it does not overrun the block.
func (c *Ctx) ReadSeekChunkAt(pos Position) (entries [chunk.NumStreams]uint32, err error) {
	hdr, err := c.ReadChunkHeader(&pos)
	if err != nil {
		return entries, err
	}
	if hdr.Type != chunk.TypeSeek {
		return entries, xerrors.Errorf("storage: expected seek chunk, got type 0x%x", hdr.Type)
	}
	if hdr.Length > c.Geometry.BlockSize-pos.Offset {
		return entries, xerrors.New("storage: seek chunk length overruns block")
	}
	numEntries := hdr.Length / 4
	if hdr.Length%4 != 0 || numEntries > chunk.NumStreams {
		return entries, xerrors.Errorf("storage: invalid seek chunk length %d", hdr.Length)
	}
	var seen uint16
	for i := uint32(0); i < numEntries; i++ {
		var buf [4]byte
		if err := c.ReadData(&pos, buf[:]); err != nil {
			return entries, err
		}
		e := chunk.UnpackSeek(leUint32(buf[:]))
		if e.Stream >= chunk.NumStreams {
			return entries, xerrors.Errorf("storage: invalid stream %d in seek chunk", e.Stream)
		}
		if seen&(1<<e.Stream) != 0 {
			return entries, xerrors.Errorf("storage: duplicate stream %d in seek chunk", e.Stream)
		}
		seen |= 1 << e.Stream
		entries[e.Stream] = e.Offset
	}
	return entries, nil
}

// ReadFooterSeekChunk reads the v2 footer at the end of block and returns
// its seek chunk. ok is false if the footer magic doesn't match (v1 block
// or corrupt tail).
func (c *Ctx) ReadFooterSeekChunk(block uint16) (entries [chunk.NumStreams]uint32, ok bool, err error) {
	pos := Position{Block: block, Offset: c.Geometry.BlockSize - chunk.FooterSize}
	var magic [4]byte
	if err := c.ReadData(&pos, magic[:]); err != nil {
		return entries, false, err
	}
	if magic != chunk.MagicFooter {
		return entries, false, nil
	}
	entries, err = c.ReadSeekChunkAt(pos)
	if err != nil {
		return entries, false, err
	}
	return entries, true, nil
}

// BeginWrite resets the write accumulator to start at pos.
func (c *Ctx) BeginWrite(pos Position) {
	c.cache.SetWritePosition(pos)
}

// AssignWriteBlock sets which physical block the in-progress write
// accumulator targets, without disturbing already-buffered bytes.
func (c *Ctx) AssignWriteBlock(block uint16) {
	c.cache.AssignBlock(block)
}

// WritePosition reports where the write accumulator will land on flush.
func (c *Ctx) WritePosition() Position { return c.cache.WritePosition() }

// PendingLen reports how many bytes are accumulated for the next flush.
func (c *Ctx) PendingLen() uint32 { return c.cache.PendingLen() }

// Append queues data (or, if data is nil, length zero bytes) onto the
// write accumulator.
func (c *Ctx) Append(data []byte, length uint32) {
	c.cache.Write(data, length)
}

// Flush writes the accumulated bytes to the driver, padding up to the
// minimum write size first if pad is true, then advances the write
// cursor and invalidates any cached read window it overlapped.
func (c *Ctx) Flush(pad bool) error {
	length := c.cache.PendingLen()
	if length == 0 {
		return nil
	}
	aligned := alignUp(length, c.Geometry.MinReadWriteSize)
	if aligned > length {
		if !pad {
			return xerrors.New("storage: flush requires padding but pad=false")
		}
		c.cache.Write(nil, aligned-length)
	}
	pos := c.cache.WritePosition()
	if pos.Offset+aligned > c.Geometry.BlockSize {
		return xerrors.New("storage: flush overruns block")
	}
	if err := c.Driver.WriteBlock(pos.Block, pos.Offset, c.cache.Pending()); err != nil {
		return xerrors.Errorf("storage: write block: %w", err)
	}
	c.cache.Invalidate(pos, aligned)
	next := Position{Block: pos.Block, Offset: pos.Offset + aligned}
	if next.Offset == c.Geometry.BlockSize {
		next = Position{Block: blockio.InvalidBlock, Offset: 0}
	}
	c.cache.SetWritePosition(next)
	return nil
}

func alignUp(a, b uint32) uint32 {
	t := a + b - 1
	return t - t%b
}

// Erase erases block and invalidates any cached window over it.
func (c *Ctx) Erase(block uint16) error {
	if err := c.Driver.EraseBlock(block); err != nil {
		return xerrors.Errorf("storage: erase block %d: %w", block, err)
	}
	c.cache.Invalidate(Position{Block: block, Offset: 0}, c.Geometry.BlockSize)
	return nil
}
