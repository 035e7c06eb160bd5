package reader

import (
	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/lookup"
	"github.com/distr1/afs/internal/storage"
)

const (
	minDataOffsetForDensity = 1024
	densityMultiplier       = 1000000
	defaultDensity          = 980000
	minDensity              = 1000
)

func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func estimateDensity(dataOffset, storageOffset uint64) uint64 {
	if dataOffset < minDataOffsetForDensity || storageOffset == 0 {
		return defaultDensity
	}
	return clamp(dataOffset*densityMultiplier/storageOffset, minDensity, densityMultiplier)
}

func estimateIndex(density, target uint64, regionSize uint32) uint64 {
	return target * densityMultiplier / density / uint64(regionSize)
}

func streamOffset(offsets *[chunk.NumStreams]uint64, stream uint8) uint64 {
	if stream != chunk.WildcardStream {
		return offsets[stream]
	}
	var total uint64
	for _, v := range offsets {
		total += v
	}
	return total
}

func blockOffsetSum(offsets *[chunk.NumStreams]uint32, stream uint8) uint64 {
	if stream != chunk.WildcardStream {
		return uint64(offsets[stream])
	}
	var total uint64
	for _, v := range offsets {
		total += uint64(v)
	}
	return total
}

// seekToBlock advances directly to the highest block whose recorded
// per-stream start offset does not exceed the seek target, using the
// density estimate to jump close and short probe walks to land exactly.
// Returns the residual number of bytes still to advance within that
// block. Blocks without a readable offset chunk (an interrupted write)
// only ever shrink the search, never corrupt the cursor.
func (r *Reader) seekToBlock(offset uint64) uint64 {
	prevOffset := streamOffset(&r.objectOffset, r.stream)
	target := prevOffset + offset
	blockSize := r.ctx.Geometry.BlockSize
	currentIndex := uint16(r.storageOffset / uint64(blockSize))
	maxIndex := r.table.GetNumBlocks(r.objectID) - 1
	if maxIndex == lookup.InvalidBlock || currentIndex >= maxIndex {
		return offset
	}

	density := estimateDensity(prevOffset, r.storageOffset)
	guess := estimateIndex(density, target, blockSize) + 1
	if guess > uint64(maxIndex) {
		guess = uint64(maxIndex)
	}
	index := uint16(guess)
	if index <= currentIndex {
		index = currentIndex + 1
	}

	var best uint16
	var bestEntries [chunk.NumStreams]uint64
	haveBest := false
	for {
		block := r.table.GetBlock(r.objectID, index)
		e, ok, err := r.ctx.ReadOffsetChunk(block)
		sum := ^uint64(0)
		if ok && err == nil {
			sum = streamOffset(&e, r.stream)
		}
		if sum <= target {
			best, bestEntries, haveBest = index, e, true
			if index == maxIndex {
				break
			}
			// Undershot: refine the density from this data point and jump
			// ahead if the refreshed estimate beats a plain increment.
			density = estimateDensity(sum, uint64(index)*uint64(blockSize))
			next := index + 1
			if est := estimateIndex(density, target, blockSize) + 1; est > uint64(next) && est <= uint64(maxIndex) {
				next = uint16(est)
			}
			index = next
			continue
		}
		// Overshot (or the probe failed): shrink and retry below.
		if index == currentIndex+1 {
			break
		}
		index--
		if haveBest && index == best {
			break
		}
	}
	if !haveBest || best <= currentIndex {
		return offset
	}

	r.storageOffset = uint64(best) * uint64(blockSize)
	r.dataChunkLength = 0
	r.objectOffset = bestEntries
	r.blockOffset = [chunk.NumStreams]uint32{}
	moved := streamOffset(&bestEntries, r.stream) - prevOffset
	if moved > offset {
		moved = offset
	}
	return offset - moved
}

// seekToSubBlock mirrors seekToBlock one level down, using the seek
// chunks recorded at each sub-block boundary of the current (v2) block.
// Sub-block density is treated as uniform, so no re-estimation happens
// between probes. The footer's seek chunk stands in for the last
// sub-block's boundary when probing, but can only ever reject a probe:
// it summarizes the whole block, so landing on it would misstate how
// much of the last sub-block precedes the cursor.
func (r *Reader) seekToSubBlock(offset uint64) uint64 {
	blockSize := r.ctx.Geometry.BlockSize
	blockIndex := uint16(r.storageOffset / uint64(blockSize))
	block := r.table.GetBlock(r.objectID, blockIndex)
	if block == lookup.InvalidBlock || !r.table.IsV2(block) {
		return offset
	}
	subBlocks := r.ctx.Geometry.SubBlocksPerBlock
	subBlockSize := blockSize / subBlocks
	prevOffset := blockOffsetSum(&r.blockOffset, r.stream)
	target := prevOffset + offset
	currentIndex := (uint32(r.storageOffset%uint64(blockSize))) / subBlockSize
	maxIndex := subBlocks - 1
	if currentIndex >= maxIndex {
		return offset
	}

	density := estimateDensity(streamOffset(&r.objectOffset, r.stream), r.storageOffset)
	guess := estimateIndex(density, target, subBlockSize) + 1
	if guess > uint64(maxIndex) {
		guess = uint64(maxIndex)
	}
	index := uint32(guess)
	if index <= currentIndex {
		index = currentIndex + 1
	}

	var best uint32
	var bestEntries [chunk.NumStreams]uint32
	haveBest := false
	for {
		e, err := seekChunkAt(r.ctx, block, index)
		sum := ^uint64(0)
		if err == nil {
			sum = blockOffsetSum(&e, r.stream)
		}
		if sum <= target && index < maxIndex {
			best, bestEntries, haveBest = index, e, true
			index++
			continue
		}
		if index == currentIndex+1 {
			break
		}
		index--
		if haveBest && index == best {
			break
		}
	}
	if !haveBest || best <= currentIndex {
		return offset
	}

	r.storageOffset = uint64(blockIndex)*uint64(blockSize) + uint64(best)*uint64(subBlockSize)
	r.dataChunkLength = 0
	for i := range r.objectOffset {
		r.objectOffset[i] += uint64(bestEntries[i]) - uint64(r.blockOffset[i])
	}
	r.blockOffset = bestEntries
	moved := blockOffsetSum(&bestEntries, r.stream) - prevOffset
	if moved > offset {
		moved = offset
	}
	return offset - moved
}

func seekChunkAt(ctx *storage.Ctx, block uint16, subBlockIndex uint32) ([chunk.NumStreams]uint32, error) {
	var zero [chunk.NumStreams]uint32
	if subBlockIndex == 0 {
		return zero, nil
	}
	if subBlockIndex == ctx.Geometry.SubBlocksPerBlock-1 {
		entries, ok, err := ctx.ReadFooterSeekChunk(block)
		if err != nil {
			return zero, err
		}
		if !ok {
			return zero, errNoSeekChunk
		}
		return entries, nil
	}
	subBlockSize := ctx.Geometry.BlockSize / ctx.Geometry.SubBlocksPerBlock
	return ctx.ReadSeekChunkAt(storage.Position{Block: block, Offset: subBlockIndex * subBlockSize})
}

var errNoSeekChunk = seekChunkNotPresentError{}

type seekChunkNotPresentError struct{}

func (seekChunkNotPresentError) Error() string { return "reader: no seek chunk at sub-block" }

// Seek advances the reader by offset bytes, using the block- and
// sub-block-level jumps above before falling back to stepping through
// the remainder byte by byte (with no output buffer).
func (r *Reader) Seek(offset uint64) error {
	offset = r.seekToBlock(offset)
	offset = r.seekToSubBlock(offset)
	for offset > 0 {
		chunkLen := offset
		if chunkLen > 0xffffffff {
			chunkLen = 0xffffffff
		}
		read, more, err := r.step(nil, uint32(chunkLen))
		if err != nil {
			return err
		}
		if !more && read == 0 {
			return errSeekPastEnd
		}
		offset -= uint64(read)
		if !more {
			break
		}
	}
	return nil
}

var errSeekPastEnd = seekPastEndError{}

type seekPastEndError struct{}

func (seekPastEndError) Error() string { return "reader: seek past end of object" }

// SeekToLastBlock advances directly to the highest block index with a
// valid offset chunk, used by Size to avoid a full linear scan.
func (r *Reader) SeekToLastBlock() {
	blockSize := r.ctx.Geometry.BlockSize
	currentIndex := uint16(r.storageOffset / uint64(blockSize))
	numBlocks := r.table.GetNumBlocks(r.objectID)
	if numBlocks == 0 {
		return
	}
	last := numBlocks - 1
	for last > currentIndex {
		block := r.table.GetBlock(r.objectID, last)
		entries, ok, err := r.ctx.ReadOffsetChunk(block)
		if !ok || err != nil {
			last--
			continue
		}
		r.storageOffset = uint64(last) * uint64(blockSize)
		r.dataChunkLength = 0
		r.objectOffset = entries
		r.blockOffset = [chunk.NumStreams]uint32{}
		break
	}
}

// Size reports the total bytes written on the streams selected by mask
// (or, when this reader was opened on a single stream rather than the
// wildcard, on that stream alone). It tries the O(1) footer-based
// computation first and falls back to jumping to the last block that
// holds an offset chunk and scanning forward from there to the end.
func (r *Reader) Size(mask uint16) (uint64, error) {
	effectiveMask := mask
	if r.stream != chunk.WildcardStream {
		effectiveMask = 1 << uint(r.stream)
	}
	if size, ok := V2Size(r.ctx, r.table, r.objectID, effectiveMask); ok {
		return size, nil
	}

	saved := r.Save()
	defer r.Restore(saved)
	r.storageOffset = 0
	r.dataChunkLength = 0
	r.objectOffset = [chunk.NumStreams]uint64{}
	r.blockOffset = [chunk.NumStreams]uint32{}
	r.currentStream = chunk.WildcardStream
	r.SeekToLastBlock()
	for {
		_, more, err := r.step(nil, 0xffffffff)
		if err != nil {
			return 0, err
		}
		if !more {
			break
		}
	}
	var total uint64
	for i := 0; i < chunk.NumStreams; i++ {
		if effectiveMask&(1<<uint(i)) != 0 {
			total += r.objectOffset[i]
		}
	}
	return total, nil
}

// V2Size attempts the footer-based O(1) size computation for an object
// that ends in a v2 block, returning ok=false if it can't be used (e.g.
// the last block is still v1).
func V2Size(ctx *storage.Ctx, table *lookup.Table, objectID uint16, streamMask uint16) (size uint64, ok bool) {
	lastBlock := table.GetLastBlock(objectID)
	if lastBlock == lookup.InvalidBlock || !table.IsV2(lastBlock) {
		return 0, false
	}
	seekEntries, okFooter, err := ctx.ReadFooterSeekChunk(lastBlock)
	if err != nil || !okFooter {
		return 0, false
	}
	var offsetEntries [chunk.NumStreams]uint64
	if table.GetNumBlocks(objectID) > 1 {
		e, ok, err := ctx.ReadOffsetChunk(lastBlock)
		if err != nil || !ok {
			return 0, false
		}
		offsetEntries = e
	}
	for i := 0; i < chunk.NumStreams; i++ {
		if streamMask&(1<<uint(i)) != 0 {
			size += offsetEntries[i] + uint64(seekEntries[i])
		}
	}
	return size, true
}
