// Package mount implements the two-pass recovery scan that rebuilds the
// lookup table from whatever is already on storage.
package mount

import (
	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/lookup"
	"github.com/distr1/afs/internal/storage"
)

// ObjectFound is invoked once for every object whose block 0 is
// discovered during the scan, with the leading run of same-stream data
// chunks found at the start of that block.
type ObjectFound func(objectID uint16, stream uint8, data []byte)

// Scan rebuilds table by reading every block on disk, classifying it as
// in-use (with a valid v1/v2 header), maybe-erased (all-zero header) or
// unknown (anything else), then, in a second pass, demoting any in-use
// non-zero-index block whose object has no block-0 entry to garbage.
func Scan(ctx *storage.Ctx, table *lookup.Table, onFound ObjectFound) error {
	numBlocks := table.NumBlocks()
	for block := uint16(0); block < numBlocks; block++ {
		if err := scanBlock(ctx, table, block, onFound); err != nil {
			return err
		}
	}

	// Second pass: any in-use, non-zero block index whose object has no
	// block-0 entry anywhere belongs to a deleted object; reclaim it.
	for block := uint16(0); block < numBlocks; block++ {
		info := table.Inspect(block)
		if !info.InUse || info.BlockIndex == 0 {
			continue
		}
		if table.GetBlock(info.ObjectID, 0) == lookup.InvalidBlock {
			table.MarkGarbage(block)
		}
	}
	return nil
}

func scanBlock(ctx *storage.Ctx, table *lookup.Table, block uint16, onFound ObjectFound) error {
	hdr, err := ctx.ReadBlockHeader(block)
	if err != nil {
		return err
	}
	version, ok := hdr.Version()
	if !ok {
		state := lookup.Unknown
		if isZero(hdr) {
			state = lookup.MaybeErased
		}
		table.SetBlockFree(block, state, false)
		return nil
	}
	isV2 := version == 2
	table.SetBlockFound(block, hdr.ObjectID, hdr.ObjectBlockIndex, isV2)
	if hdr.ObjectBlockIndex == 0 && onFound != nil {
		stream, data, err := leadingRun(ctx, block)
		if err != nil {
			return err
		}
		onFound(hdr.ObjectID, stream, data)
	}
	return nil
}

func isZero(h chunk.BlockHeader) bool {
	return h.Magic == [4]byte{} && h.ObjectID == 0 && h.ObjectBlockIndex == 0
}

// leadingRun reads the run of same-stream data chunks starting right
// after block 0's header, stopping at the first non-data chunk, a
// change of stream, or the end of the leading cache window — only the
// block head is inspected, so a caller storing short indexable metadata
// there gets it back without a full block read (done here through the
// storage façade instead of by hand-rolling access to the cache
// buffer).
func leadingRun(ctx *storage.Ctx, block uint16) (stream uint8, data []byte, err error) {
	pos := storage.Position{Block: block, Offset: uint32(chunk.HeaderSize)}
	limit := ctx.CacheSize()
	stream = chunk.WildcardStream
	var out []byte
	for pos.Offset+chunk.TagSize <= limit {
		hdr, err := ctx.ReadChunkHeader(&pos)
		if err != nil {
			return 0, nil, err
		}
		s, ok := chunk.IsData(hdr.Type)
		if !ok || pos.Offset+hdr.Length > limit {
			break
		}
		if stream == chunk.WildcardStream {
			stream = s
		} else if s != stream {
			break
		}
		buf := make([]byte, hdr.Length)
		if err := ctx.ReadData(&pos, buf); err != nil {
			return 0, nil, err
		}
		out = append(out, buf...)
	}
	return stream, out, nil
}
