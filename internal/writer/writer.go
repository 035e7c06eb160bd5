// Package writer implements the object writer state machine: block-start,
// sub-block and block-end discipline for appending interleaved streams to
// an append-only object.
package writer

import (
	"golang.org/x/xerrors"

	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/lookup"
	"github.com/distr1/afs/internal/storage"
)

// ErrNoSpace is returned by Write and Close when the lookup table has no
// free block left to allocate for the next block of the object.
var ErrNoSpace = xerrors.New("writer: no free block available")

// Writer accumulates writes for one object currently open for writing.
type Writer struct {
	ctx      *storage.Ctx
	table    *lookup.Table
	objectID uint16

	nextBlockIndex uint16
	objectOffset   [chunk.NumStreams]uint64
	blockOffset    [chunk.NumStreams]uint32
}

// New creates a writer for a freshly allocated object ID. The caller owns
// ctx exclusively for the lifetime of the writer.
func New(ctx *storage.Ctx, table *lookup.Table, objectID uint16) *Writer {
	ctx.BeginWrite(storage.Position{Block: storage.InvalidBlock, Offset: 0})
	return &Writer{ctx: ctx, table: table, objectID: objectID}
}

func (w *Writer) subBlockSize() uint32 {
	return w.ctx.Geometry.BlockSize / w.ctx.Geometry.SubBlocksPerBlock
}

func (w *Writer) cacheWritePosition() uint32 {
	return w.ctx.WritePosition().Offset + w.ctx.PendingLen()
}

func (w *Writer) remainingBlockSpace() uint32 {
	return w.ctx.Geometry.BlockSize - chunk.FooterSize - w.cacheWritePosition()
}

func alignUp(a, b uint32) uint32 {
	t := a + b - 1
	return t - t%b
}

func (w *Writer) remainingSubBlockSpace() uint32 {
	pos := w.cacheWritePosition()
	return alignUp(pos, w.subBlockSize()) - pos
}

// flush writes the accumulated bytes out, acquiring a fresh physical
// block first if this is the start of a new block's write accumulator.
func (w *Writer) flush(pad bool) error {
	pos := w.ctx.WritePosition()
	if pos.Offset == 0 && pos.Block == storage.InvalidBlock {
		blockIndex := w.nextBlockIndex - 1
		block, erased, ok := w.table.AcquireBlock(w.objectID, blockIndex)
		if !ok {
			return ErrNoSpace
		}
		if !erased {
			if err := w.ctx.Erase(block); err != nil {
				return err
			}
		}
		w.ctx.AssignWriteBlock(block)
	}
	return w.ctx.Flush(pad)
}

// seekChunkLen is the encoded size of a seek chunk for the streams
// currently active in this block.
func (w *Writer) seekChunkLen() uint32 {
	numOffsets := uint32(0)
	for _, v := range w.blockOffset {
		if v != 0 {
			numOffsets++
		}
	}
	return chunk.TagSize + numOffsets*4
}

// writeSeekChunk emits a seek chunk for every stream with bytes in the
// current block, built in one buffer so it can spill across cache-window
// flushes like any other append.
func (w *Writer) writeSeekChunk() error {
	numOffsets := uint32(0)
	for _, v := range w.blockOffset {
		if v != 0 {
			numOffsets++
		}
	}
	buf := make([]byte, 0, chunk.TagSize+numOffsets*4)
	var scratch [4]byte
	putLE32(scratch[:], chunk.Header{Type: chunk.TypeSeek, Length: numOffsets * 4}.Tag())
	buf = append(buf, scratch[:]...)
	for i, v := range w.blockOffset {
		if v == 0 {
			continue
		}
		putLE32(scratch[:], chunk.SeekEntry{Stream: uint8(i), Offset: v}.Pack())
		buf = append(buf, scratch[:]...)
	}
	return w.appendData(buf)
}

func putLE32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func putLE64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func (w *Writer) writeFooter() error {
	footerOffset := w.ctx.Geometry.BlockSize - chunk.FooterSize
	if w.cacheWritePosition() != footerOffset {
		if w.ctx.WritePosition().Offset+w.ctx.CacheSize() < w.ctx.Geometry.BlockSize {
			// Flush whatever body remains, then skip ahead: the region in
			// between stays erased, which reads back as padding.
			if w.ctx.PendingLen() > 0 {
				if err := w.flush(true); err != nil {
					return err
				}
			}
			w.ctx.BeginWrite(storage.Position{
				Block:  w.ctx.WritePosition().Block,
				Offset: alignDown(footerOffset, w.ctx.Geometry.MinReadWriteSize),
			})
		}
		pad := footerOffset - w.ctx.WritePosition().Offset
		if w.ctx.PendingLen() < pad {
			w.ctx.Append(nil, pad-w.ctx.PendingLen())
		}
	}
	if err := w.appendData(chunk.MagicFooter[:]); err != nil {
		return err
	}
	if err := w.writeSeekChunk(); err != nil {
		return err
	}
	return w.flush(true)
}

func alignDown(a, b uint32) uint32 { return a - a%b }

func (w *Writer) writeBlockHeader() error {
	h := chunk.BlockHeader{
		Magic:            chunk.MagicV2,
		ObjectID:         w.objectID,
		ObjectBlockIndex: w.nextBlockIndex,
	}
	w.nextBlockIndex++
	if err := w.appendData(h.Encode()); err != nil {
		return err
	}
	if h.ObjectBlockIndex == 0 {
		return nil
	}
	// Every block after the first opens with an offset chunk recording
	// each active stream's absolute byte count up to this block.
	numOffsets := uint32(0)
	for _, v := range w.objectOffset {
		if v != 0 {
			numOffsets++
		}
	}
	buf := make([]byte, 0, chunk.TagSize+numOffsets*8)
	var tagBuf [4]byte
	putLE32(tagBuf[:], chunk.Header{Type: chunk.TypeOffset, Length: numOffsets * 8}.Tag())
	buf = append(buf, tagBuf[:]...)
	for i, v := range w.objectOffset {
		if v == 0 {
			continue
		}
		var entry [8]byte
		putLE64(entry[:], chunk.OffsetEntry{Stream: uint8(i), Offset: v}.Pack())
		buf = append(buf, entry[:]...)
	}
	return w.appendData(buf)
}

// prepareForWrite ensures at least `length` contiguous bytes of space are
// available for the caller to append, rolling over to a new block and/or
// sub-block first if necessary. Returns the space actually available
// (>= length on success).
func (w *Writer) prepareForWrite(length uint32) (uint32, error) {
	// If the write lands right before (or on) a sub-block boundary, the
	// boundary's seek chunk has to fit in the body too.
	reserve := length
	if sub := w.remainingSubBlockSpace(); sub < length && w.cacheWritePosition() != 0 {
		reserve = sub + w.seekChunkLen() + length
	}
	if w.remainingBlockSpace() < reserve {
		if err := w.writeFooter(); err != nil {
			return 0, err
		}
		for i := range w.blockOffset {
			w.blockOffset[i] = 0
		}
		w.ctx.BeginWrite(storage.Position{Block: storage.InvalidBlock, Offset: 0})
	}

	if w.cacheWritePosition() == 0 {
		if err := w.writeBlockHeader(); err != nil {
			return 0, err
		}
	}

	if sub := w.remainingSubBlockSpace(); sub < length {
		w.ctx.Append(nil, sub)
		if w.ctx.PendingLen() == w.ctx.CacheSize() {
			if err := w.flush(false); err != nil {
				return 0, err
			}
		}
		if err := w.writeSeekChunk(); err != nil {
			return 0, err
		}
	}

	space := w.remainingBlockSpace()
	if sb := w.remainingSubBlockSpace(); sb < space {
		space = sb
	}
	if space == 0 {
		return 0, ErrNoSpace
	}
	return space, nil
}

// Write appends data on the given stream, returning the number of bytes
// actually written in this single chunk (callers loop until all of data
// is written).
func (w *Writer) Write(stream uint8, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	space, err := w.prepareForWrite(chunk.TagSize + 1)
	if err != nil {
		return 0, err
	}
	length := uint32(len(data))
	if space-chunk.TagSize < length {
		length = space - chunk.TagSize
	}
	if length > chunk.MaxLength {
		length = chunk.MaxLength
	}
	hdr := chunk.Header{Type: chunk.DataType(stream), Length: length}
	var tagBuf [4]byte
	putLE32(tagBuf[:], hdr.Tag())
	if err := w.appendData(tagBuf[:]); err != nil {
		return 0, err
	}
	if err := w.appendData(data[:length]); err != nil {
		return 0, err
	}
	w.objectOffset[stream] += uint64(length)
	w.blockOffset[stream] += length
	return int(length), nil
}

// appendData writes data to the cache, flushing every time the window
// fills.
func (w *Writer) appendData(data []byte) error {
	for len(data) > 0 {
		space := w.ctx.CacheSize() - w.ctx.PendingLen()
		n := uint32(len(data))
		if n > space {
			n = space
		}
		w.ctx.Append(data[:n], n)
		data = data[n:]
		if w.ctx.PendingLen() == w.ctx.CacheSize() {
			if err := w.flush(false); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close writes the end-of-object chunk and final footer.
func (w *Writer) Close() error {
	if _, err := w.prepareForWrite(chunk.TagSize + 1); err != nil {
		return err
	}
	var tagBuf [4]byte
	putLE32(tagBuf[:], chunk.Header{Type: chunk.TypeEnd}.Tag())
	if err := w.appendData(tagBuf[:]); err != nil {
		return err
	}
	return w.writeFooter()
}
