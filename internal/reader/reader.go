// Package reader implements the object reader step function together
// with seeking and saved-read-position support, since all three mutate
// the same cursor fields on every call.
package reader

import (
	"golang.org/x/xerrors"

	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/lookup"
	"github.com/distr1/afs/internal/storage"
)

// Reader advances through one object's data, one step at a time.
type Reader struct {
	ctx      *storage.Ctx
	table    *lookup.Table
	objectID uint16
	stream   uint8 // chunk.WildcardStream for a wildcard open

	objectOffset    [chunk.NumStreams]uint64
	blockOffset     [chunk.NumStreams]uint32
	storageOffset   uint64
	dataChunkLength uint32
	currentStream   uint8
}

// Open creates a reader positioned at the start of objectID, which must
// already have at least one block recorded in table.
func Open(ctx *storage.Ctx, table *lookup.Table, objectID uint16, stream uint8) *Reader {
	return &Reader{ctx: ctx, table: table, objectID: objectID, stream: stream, currentStream: chunk.WildcardStream}
}

func alignUp64(a, b uint64) uint64 {
	t := a + b - 1
	return t - t%b
}

// step advances the reader by exactly one unit of work: a block header,
// a run of chunk data up to maxLength, a chunk header, or an
// end-of-block/end-of-object transition.
//
// more == false, err == nil covers both a true end of object (END chunk)
// and a write that was interrupted mid-block — in both cases there is
// nothing left to read and the caller should stop silently. err != nil
// means the data on disk doesn't parse as a valid object.
func (r *Reader) step(data []byte, maxLength uint32) (read uint32, more bool, err error) {
	blockSize := r.ctx.Geometry.BlockSize
	blockIndex := uint16(r.storageOffset / uint64(blockSize))
	offsetInBlock := uint32(r.storageOffset % uint64(blockSize))
	physBlock := r.table.GetBlock(r.objectID, blockIndex)

	if physBlock == lookup.InvalidBlock {
		if offsetInBlock == 0 {
			return 0, false, nil
		}
		return 0, false, xerrors.Errorf("reader: object %d missing block %d", r.objectID, blockIndex)
	}
	isV2 := r.table.IsV2(physBlock)
	blockEnd := blockSize
	if isV2 {
		blockEnd -= chunk.FooterSize
	}

	switch {
	case offsetInBlock == 0:
		hdr, err := r.ctx.ReadBlockHeader(physBlock)
		if err != nil {
			return 0, false, err
		}
		if _, ok := hdr.Version(); !ok || hdr.ObjectID != r.objectID || hdr.ObjectBlockIndex != blockIndex {
			return 0, false, xerrors.Errorf("reader: block %d header does not match object %d index %d", physBlock, r.objectID, blockIndex)
		}
		r.storageOffset += uint64(chunk.HeaderSize)
		return 0, true, nil

	case r.dataChunkLength > 0:
		n := r.dataChunkLength
		if maxLength < n {
			n = maxLength
		}
		pos := storage.Position{Block: physBlock, Offset: offsetInBlock}
		if data != nil {
			if err := r.ctx.ReadData(&pos, data[:n]); err != nil {
				return 0, false, err
			}
		}
		r.dataChunkLength -= n
		stream := r.stream
		if stream == chunk.WildcardStream {
			stream = r.currentStream
		}
		r.objectOffset[stream] += uint64(n)
		r.blockOffset[stream] += n
		r.storageOffset += uint64(n)
		read = n

	default:
		pos := storage.Position{Block: physBlock, Offset: offsetInBlock}
		hdr, err := r.ctx.ReadChunkHeader(&pos)
		if err != nil {
			return 0, false, err
		}
		stop, more2, err := r.processNewChunk(hdr, physBlock, blockIndex, blockEnd, offsetInBlock)
		if err != nil {
			return 0, false, err
		}
		if stop {
			return 0, more2, nil
		}
	}

	if r.dataChunkLength > 0 {
		return read, true, nil
	}
	r.alignStorageOffset(isV2)
	return read, true, nil
}

// processNewChunk handles everything that follows a freshly-read chunk
// header. stop reports whether the caller (step) should return
// immediately with (0, more, nil) rather than falling through to the
// align-and-continue tail.
func (r *Reader) processNewChunk(hdr chunk.Header, physBlock uint16, blockIndex uint16, blockEnd uint32, offsetInBlock uint32) (stop bool, more bool, err error) {
	blockSize := r.ctx.Geometry.BlockSize
	if s, ok := chunk.IsData(hdr.Type); ok {
		if offsetInBlock+chunk.TagSize+hdr.Length > blockEnd {
			return false, false, xerrors.Errorf("reader: data chunk overruns block (object %d)", r.objectID)
		}
		r.storageOffset += chunk.TagSize
		if r.stream == chunk.WildcardStream || s == r.stream {
			r.dataChunkLength = hdr.Length
			r.currentStream = s
		} else {
			r.storageOffset += uint64(hdr.Length)
		}
		return false, true, nil
	}
	switch hdr.Type {
	case chunk.TypeOffset:
		if hdr.Length > chunk.NumStreams*8 {
			return false, false, xerrors.New("reader: corrupt offset chunk")
		}
		r.storageOffset += chunk.TagSize + uint64(hdr.Length)
		return false, true, nil
	case chunk.TypeSeek:
		if hdr.Length > chunk.NumStreams*4 {
			return false, false, xerrors.New("reader: corrupt seek chunk")
		}
		r.storageOffset += chunk.TagSize + uint64(hdr.Length)
		return false, true, nil
	case chunk.TypeEnd:
		return true, false, nil
	case chunk.TypeInvalidZero, chunk.TypeInvalidOne:
		// An erased or padded tail: nothing else lives in this block.
		r.storageOffset = alignUp64(r.storageOffset, uint64(blockSize))
		r.blockOffset = [chunk.NumStreams]uint32{}
		return true, true, nil
	default:
		return false, false, xerrors.Errorf("reader: unexpected chunk type 0x%x", hdr.Type)
	}
}

// alignStorageOffset skips the slack a writer leaves when less than a
// minimal chunk fits before the next boundary: up to the next sub-block
// within a v2 block, or up to the next block otherwise. Only a block
// crossing resets the within-block offsets.
func (r *Reader) alignStorageOffset(isV2 bool) {
	blockSize := r.ctx.Geometry.BlockSize
	blockOffset := uint32(r.storageOffset % uint64(blockSize))
	const need = chunk.TagSize + 1
	if isV2 {
		if blockSize-chunk.FooterSize-blockOffset < need {
			r.storageOffset = alignUp64(r.storageOffset, uint64(blockSize))
			r.blockOffset = [chunk.NumStreams]uint32{}
			return
		}
		subBlockSize := blockSize / r.ctx.Geometry.SubBlocksPerBlock
		subOffset := blockOffset % subBlockSize
		if subOffset != 0 && subBlockSize-subOffset < need {
			r.storageOffset = alignUp64(r.storageOffset, uint64(subBlockSize))
			// The aligned-to sub-block may itself be swallowed by the
			// footer region (possible when sub-blocks are footer-sized).
			blockOffset = uint32(r.storageOffset % uint64(blockSize))
			if blockOffset != 0 && blockSize-chunk.FooterSize-blockOffset < need {
				r.storageOffset = alignUp64(r.storageOffset, uint64(blockSize))
				r.blockOffset = [chunk.NumStreams]uint32{}
			}
		}
		return
	}
	if blockSize-blockOffset < need {
		r.storageOffset = alignUp64(r.storageOffset, uint64(blockSize))
		r.blockOffset = [chunk.NumStreams]uint32{}
	}
}

// Read fills data from the object, returning the stream the bytes came
// from. In wildcard mode it stops after the first chunk that yields any
// bytes (even if data has room for more), matching the single-chunk
// semantics a caller needs to know chunk boundaries; opened on a fixed
// stream it fills data fully (short only at true end of object).
func (r *Reader) Read(data []byte) (n int, stream uint8, err error) {
	wildcard := r.stream == chunk.WildcardStream
	for len(data) > 0 {
		read, more, stepErr := r.step(data, uint32(len(data)))
		if stepErr != nil {
			return n, stream, stepErr
		}
		if read > 0 {
			data = data[read:]
			n += int(read)
			if wildcard {
				stream = r.currentStream
			} else {
				stream = r.stream
			}
		}
		if !more {
			break
		}
		if read > 0 && wildcard {
			break
		}
	}
	return n, stream, nil
}

// ObjectID returns the object this reader is attached to.
func (r *Reader) ObjectID() uint16 { return r.objectID }

// Stream returns the stream this reader was opened on, or
// chunk.WildcardStream.
func (r *Reader) Stream() uint8 { return r.stream }
