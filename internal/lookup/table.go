// Package lookup implements the in-memory lookup table mapping physical
// blocks to (object ID, object block index), plus the free-block
// classification and pseudo-random object ID allocator used during mount
// and writing.
package lookup

import "golang.org/x/exp/slices"

// InvalidBlock marks "no such block".
const InvalidBlock uint16 = 0xffff

// InvalidObjectID is never assigned to a real object.
const InvalidObjectID uint16 = 0

// FreeState ranks how confident we are that a free block is actually
// erased, cheapest-to-use first.
type FreeState uint16

const (
	Erased      FreeState = 0
	MaybeErased FreeState = 1
	Unknown     FreeState = 2
	Garbage     FreeState = 3
)

func value(objectID, blockIndexOrState uint16) uint32 {
	return uint32(objectID)<<16 | uint32(blockIndexOrState)
}

func getObjectID(v uint32) uint16     { return uint16(v >> 16) }
func getBlockIndex(v uint32) uint16   { return uint16(v) }
func getFreeState(v uint32) FreeState { return FreeState(uint16(v)) }

// Table is the in-memory lookup table: one uint32 per physical block plus
// a parallel version bitmap and the PRNG seed used to mint new object
// IDs.
type Table struct {
	values        []uint32
	versionBitmap []byte // bit set => block is a v2 block
	seed          uint32
	freeCount     uint16 // incrementally maintained count of free blocks
}

// New allocates a lookup table for a device with the given number of
// blocks. Every block starts out Unknown-free until the mount scan
// classifies it.
func New(numBlocks uint16) *Table {
	t := &Table{
		values:        make([]uint32, numBlocks),
		versionBitmap: make([]byte, (int(numBlocks)+7)/8),
		freeCount:     numBlocks,
	}
	for i := range t.values {
		t.values[i] = value(InvalidObjectID, uint16(Unknown))
	}
	return t
}

// NumBlocks returns the table's block count.
func (t *Table) NumBlocks() uint16 { return uint16(len(t.values)) }

func (t *Table) setValue(block uint16, objectID, blockIndex uint16) {
	if getObjectID(t.values[block]) == InvalidObjectID {
		t.freeCount--
	}
	t.values[block] = value(objectID, blockIndex)
}

func (t *Table) setFree(block uint16, state FreeState) {
	if getObjectID(t.values[block]) != InvalidObjectID {
		t.freeCount++
	}
	t.values[block] = value(InvalidObjectID, uint16(state))
}

func (t *Table) setIsV2(block uint16, v2 bool) {
	idx, bit := block/8, byte(1)<<(block&0x7)
	if v2 {
		t.versionBitmap[idx] |= bit
	} else {
		t.versionBitmap[idx] &^= bit
	}
}

// IsV2 reports whether block was stamped with the v2 header magic the
// last time it was classified.
func (t *Table) IsV2(block uint16) bool {
	return t.versionBitmap[block/8]&(1<<(block&0x7)) != 0
}

// Seed returns the current state of the object-ID PRNG, for diagnostics
// only; callers must not use it to predict the next minted ID.
func (t *Table) Seed() uint32 { return t.seed }

// CountVersions reports, across every in-use block, how many are v1
// (legacy, read-only) versus v2.
func (t *Table) CountVersions() (v1, v2 uint16) {
	for i, val := range t.values {
		if getObjectID(val) == InvalidObjectID {
			continue
		}
		if t.IsV2(uint16(i)) {
			v2++
		} else {
			v1++
		}
	}
	return v1, v2
}

// SetBlockFound records that block holds (objectID, blockIndex) at v2 (or
// not), and folds its value into the object ID PRNG seed. Used by the
// mount scan.
func (t *Table) SetBlockFound(block uint16, objectID, blockIndex uint16, isV2 bool) {
	t.setValue(block, objectID, blockIndex)
	t.setIsV2(block, isV2)
	t.seed ^= t.values[block]
}

// SetBlockFree records block as free with the given state. Used by the
// mount scan for blocks with no valid header.
func (t *Table) SetBlockFree(block uint16, state FreeState, isV2 bool) {
	t.setFree(block, state)
	t.setIsV2(block, isV2)
	t.seed ^= t.values[block]
}

// MarkGarbage demotes block (previously recorded in-use) to Garbage, used
// by mount's second pass to drop orphaned non-zero-index blocks whose
// object has no block 0.
func (t *Table) MarkGarbage(block uint16) {
	t.setFree(block, Garbage)
}

// GetBlock returns the physical block holding (objectID, blockIndex), or
// InvalidBlock if not present.
func (t *Table) GetBlock(objectID, blockIndex uint16) uint16 {
	want := value(objectID, blockIndex)
	i := slices.Index(t.values, want)
	if i < 0 {
		return InvalidBlock
	}
	return uint16(i)
}

// GetNumBlocks returns how many blocks belong to objectID.
func (t *Table) GetNumBlocks(objectID uint16) uint16 {
	var n uint16
	for _, v := range t.values {
		if getObjectID(v) == objectID {
			if idx := getBlockIndex(v) + 1; idx > n {
				n = idx
			}
		}
	}
	return n
}

// GetLastBlock returns the physical block holding the highest block index
// of objectID, or InvalidBlock if it owns no blocks.
func (t *Table) GetLastBlock(objectID uint16) uint16 {
	last := InvalidBlock
	var maxIdx uint16
	for i, v := range t.values {
		if getObjectID(v) != objectID {
			continue
		}
		idx := getBlockIndex(v)
		if last == InvalidBlock || idx > maxIdx {
			last = uint16(i)
			maxIdx = idx
		}
	}
	return last
}

// NextObjectID mints a pseudo-random, currently-unused object ID using
// the classic LCG (seed = seed*1664525 + 1013904223), retrying on
// collisions with INVALID_OBJECT_ID or an in-use ID.
func (t *Table) NextObjectID() uint16 {
	for {
		t.seed = t.seed*1664525 + 1013904223
		id := uint16(t.seed)
		if id == InvalidObjectID {
			continue
		}
		inUse := slices.ContainsFunc(t.values, func(v uint32) bool {
			return getObjectID(v) == id
		})
		if !inUse {
			return id
		}
	}
}

// IterNext returns the next object found at or after *block (by scanning
// for a block-0 entry), advancing *block past it. Returns InvalidObjectID
// once exhausted.
func (t *Table) IterNext(block *uint16) uint16 {
	for i := *block; i < uint16(len(t.values)); i++ {
		v := t.values[i]
		id := getObjectID(v)
		if id == InvalidObjectID || getBlockIndex(v) != 0 {
			continue
		}
		*block = i + 1
		return id
	}
	return InvalidObjectID
}

// DeleteObject frees every block belonging to objectID (block 0 becomes
// Erased, the rest become Garbage) and returns the former block-0
// physical block.
func (t *Table) DeleteObject(objectID uint16) uint16 {
	firstBlock := InvalidBlock
	for i, v := range t.values {
		if getObjectID(v) != objectID {
			continue
		}
		if getBlockIndex(v) == 0 {
			firstBlock = uint16(i)
			t.setFree(uint16(i), Erased)
		} else {
			t.setFree(uint16(i), Garbage)
		}
	}
	return firstBlock
}

// TotalUsedBlocks returns how many blocks are currently assigned to an
// object.
func (t *Table) TotalUsedBlocks() uint16 {
	return uint16(len(t.values)) - t.freeCount
}

// FreeCount returns the number of blocks not currently assigned to any
// object, maintained incrementally by every call that changes a block's
// in-use status rather than rescanned on demand.
func (t *Table) FreeCount() uint16 { return t.freeCount }

// IsFull reports whether every block is in use.
func (t *Table) IsFull() bool {
	return t.freeCount == 0
}

// AcquireBlock picks the cheapest free block (preferring Erased, then
// MaybeErased, then Unknown, then Garbage) and assigns it to
// (objectID, blockIndex), stamping it v2. isErased reports whether the
// chosen block was already known-erased (so the caller can skip erasing
// it).
func (t *Table) AcquireBlock(objectID, blockIndex uint16) (block uint16, isErased bool, ok bool) {
	best := InvalidBlock
	bestState := FreeState(0xffff)
	for i, v := range t.values {
		if getObjectID(v) != InvalidObjectID {
			continue
		}
		state := getFreeState(v)
		if state < bestState {
			best = uint16(i)
			bestState = state
		}
		if state == Erased {
			break
		}
	}
	if best == InvalidBlock {
		return InvalidBlock, false, false
	}
	t.setValue(best, objectID, blockIndex)
	t.setIsV2(best, true)
	return best, bestState == Erased, true
}

// WipeNextInUse finds the next in-use block at or after startBlock and
// frees it, returning its index. should_erase starts as the caller's
// secure-wipe preference for this call and is forced true once a
// block-0 entry is seen (every object's first block must always be
// erased so the object can never reappear); the caller should pass a
// fresh copy of its secure flag on every call rather than reusing this
// return value across objects.
func (t *Table) WipeNextInUse(startBlock uint16, shouldErase bool) (block uint16, erased bool, ok bool) {
	for i := startBlock; i < uint16(len(t.values)); i++ {
		v := t.values[i]
		id := getObjectID(v)
		if id == InvalidObjectID {
			continue
		}
		blockIndex := getBlockIndex(v)
		shouldErase = blockIndex == 0 || shouldErase
		if shouldErase {
			t.setFree(i, Erased)
		} else {
			t.setFree(i, Garbage)
		}
		return i, shouldErase, true
	}
	return InvalidBlock, false, false
}

// GetNumErased returns how many blocks are currently free and marked
// Erased.
func (t *Table) GetNumErased() uint16 {
	var n uint16
	for _, v := range t.values {
		if v == value(InvalidObjectID, uint16(Erased)) {
			n++
		}
	}
	return n
}

// NextPendingErase finds the next free-but-not-yet-erased block at or
// after startBlock, marks it Erased, and returns its index.
func (t *Table) NextPendingErase(startBlock uint16) uint16 {
	for i := startBlock; i < uint16(len(t.values)); i++ {
		v := t.values[i]
		if getObjectID(v) == InvalidObjectID && getFreeState(v) != Erased {
			t.setFree(i, Erased)
			return i
		}
	}
	return InvalidBlock
}

// BlockInfo is the decoded form of one lookup-table entry, for
// diagnostics and tests.
type BlockInfo struct {
	InUse      bool
	ObjectID   uint16
	BlockIndex uint16
	FreeState  FreeState
}

// Inspect decodes block's current entry.
func (t *Table) Inspect(block uint16) BlockInfo {
	v := t.values[block]
	id := getObjectID(v)
	if id == InvalidObjectID {
		return BlockInfo{InUse: false, FreeState: getFreeState(v)}
	}
	return BlockInfo{InUse: true, ObjectID: id, BlockIndex: getBlockIndex(v)}
}
