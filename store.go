package afs

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/diag"
	"github.com/distr1/afs/internal/lookup"
	"github.com/distr1/afs/internal/mount"
	"github.com/distr1/afs/internal/objects"
	"github.com/distr1/afs/internal/reader"
	"github.com/distr1/afs/internal/storage"
	"github.com/distr1/afs/internal/writer"
)

// Store is a mounted AFS instance. It owns no goroutines and takes no
// locks — a single thread of control owns it, and the storage driver's
// callbacks must not reenter the same Store.
type Store struct {
	opts  Options
	ctx   *storage.Ctx
	table *lookup.Table
	open  *objects.Registry
}

// New validates opts and mounts the store, scanning every physical block
// and populating the lookup table.
func New(opts Options) (*Store, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &Store{
		opts:  opts,
		ctx:   storage.New(opts.Driver, opts.geometry(), opts.cacheWindow()),
		table: lookup.New(opts.NumBlocks),
		open:  objects.New(),
	}
	var cb mount.ObjectFound
	if opts.ObjectFoundFunc != nil {
		cb = mount.ObjectFound(opts.ObjectFoundFunc)
	}
	if err := mount.Scan(s.ctx, s.table, cb); err != nil {
		return nil, xerrors.Errorf("afs: mount: %w", err)
	}
	opts.logger().Printf("afs: mounted, %d/%d blocks in use", s.table.TotalUsedBlocks(), s.table.NumBlocks())
	return s, nil
}

// newObjectCtx returns a fresh storage context for one open object,
// sharing the store's driver and geometry but owning its own cache
// window, kept separate from the mount-time buffer and from every other
// concurrently open object's buffer so that interleaved calls on
// distinct objects never stomp on each other's unflushed bytes.
func (s *Store) newObjectCtx() *storage.Ctx {
	return storage.New(s.opts.Driver, s.opts.geometry(), s.opts.cacheWindow())
}

// Close unmounts the store. Every object must already be closed; the
// backing driver is left untouched (the medium is the sole source of
// truth, so a later New over the same driver sees the same contents).
func (s *Store) Close() error {
	assertf(s.open.IsEmpty(), "afs: cannot close the store while objects are open")
	return nil
}

// Create allocates a new object ID and returns an Object open for
// writing.
func (s *Store) Create() (*Object, error) {
	id := s.table.NextObjectID()
	s.open.Add(id, objects.Writing)
	w := writer.New(s.newObjectCtx(), s.table, id)
	return &Object{store: s, id: id, w: w}, nil
}

// Open opens an existing object for reading on stream (or
// WildcardStream for all streams interleaved in write order).
func (s *Store) Open(objectID uint16, stream uint8) (*Object, error) {
	assertf(objectID != objects.InvalidObjectID, "afs: object ID 0 is reserved")
	assertf(stream < chunk.NumStreams || stream == chunk.WildcardStream,
		"afs: stream %d out of range", stream)
	if s.table.GetBlock(objectID, 0) == lookup.InvalidBlock {
		return nil, ErrObjectNotFound
	}
	s.open.Add(objectID, objects.Reading)
	r := reader.Open(s.newObjectCtx(), s.table, objectID, stream)
	return &Object{store: s, id: objectID, r: r}, nil
}

// Delete removes an object entirely, erasing its first block so a later
// mount can never resurrect it. The object must not currently be open.
func (s *Store) Delete(objectID uint16) error {
	assertf(!s.open.Contains(objectID), "afs: cannot delete an open object")
	if s.table.GetBlock(objectID, 0) == lookup.InvalidBlock {
		return ErrObjectNotFound
	}
	first := s.table.DeleteObject(objectID)
	if first != lookup.InvalidBlock {
		if err := s.ctx.Erase(first); err != nil {
			return xerrors.Errorf("afs: delete: %w", err)
		}
	}
	return nil
}

// List returns every stored object ID, including objects currently open
// for writing that have not yet committed a block to media.
func (s *Store) List() []uint16 {
	var out []uint16
	var cursor uint16
	for {
		id := s.table.IterNext(&cursor)
		if id == objects.InvalidObjectID {
			break
		}
		out = append(out, id)
	}
	for _, id := range s.open.WritingIDs() {
		if s.table.GetBlock(id, 0) == lookup.InvalidBlock {
			out = append(out, id)
		}
	}
	return out
}

// NumBlocks reports how many blocks objectID currently occupies.
func (s *Store) NumBlocks(objectID uint16) uint16 {
	return s.table.GetNumBlocks(objectID)
}

// Size reports how many blocks are currently in use across the whole
// store.
func (s *Store) Size() uint16 {
	return s.table.TotalUsedBlocks()
}

// IsStorageFull reports whether every block is in use, which causes
// writes to subsequently fail. Backed by an O(1) incrementally maintained
// counter rather than a rescan.
func (s *Store) IsStorageFull() bool {
	return s.table.IsFull()
}

// Wipe deletes every object. When secure is true every block is
// physically erased; when false only each object's first block is
// erased (so it can never be resurrected by a future mount) and the
// rest are simply marked Garbage, which is faster but leaves old
// payload bytes in place until those blocks are reused.
func (s *Store) Wipe(secure bool) error {
	assertf(s.open.IsEmpty(), "afs: cannot wipe while objects are open")
	var cursor uint16
	for {
		block, shouldErase, ok := s.table.WipeNextInUse(cursor, secure)
		if !ok {
			break
		}
		cursor = block + 1
		if shouldErase {
			if err := s.ctx.Erase(block); err != nil {
				return xerrors.Errorf("afs: wipe: %w", err)
			}
		}
	}
	return nil
}

// PrepareStorage pre-erases up to n currently-free-but-not-yet-erased
// blocks, for predictable future write latency.
func (s *Store) PrepareStorage(ctx context.Context, n uint16) error {
	var cursor uint16
	for i := uint16(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		block := s.table.NextPendingErase(cursor)
		if block == lookup.InvalidBlock {
			break
		}
		cursor = block + 1
		if err := s.ctx.Erase(block); err != nil {
			return xerrors.Errorf("afs: prepare storage: %w", err)
		}
	}
	return nil
}

// Snapshot assembles a read-only status report, for tools and tests:
// aggregate counts only, never chunk-level bytes.
func (s *Store) Snapshot() diag.Snapshot {
	v1, v2 := s.table.CountVersions()
	snap := diag.Snapshot{
		NumBlocks:    s.table.NumBlocks(),
		UsedBlocks:   s.table.TotalUsedBlocks(),
		ErasedBlocks: s.table.GetNumErased(),
		V1Blocks:     v1,
		V2Blocks:     v2,
		Seed:         s.table.Seed(),
	}
	for _, id := range s.List() {
		snap.Objects = append(snap.Objects, diag.ObjectInfo{
			ObjectID:  id,
			NumBlocks: s.table.GetNumBlocks(id),
			Writing:   s.open.Contains(id) && s.table.GetBlock(id, 0) == lookup.InvalidBlock,
		})
	}
	for b := uint16(0); b < s.table.NumBlocks(); b++ {
		info := s.table.Inspect(b)
		bi := diag.BlockInfo{Block: b, InUse: info.InUse, ObjectID: info.ObjectID, BlockIdx: info.BlockIndex}
		if !info.InUse {
			bi.FreeState = freeStateName(info.FreeState)
		}
		snap.Blocks = append(snap.Blocks, bi)
	}
	return snap
}

func freeStateName(s lookup.FreeState) string {
	switch s {
	case lookup.Erased:
		return "erased"
	case lookup.MaybeErased:
		return "maybe_erased"
	case lookup.Garbage:
		return "garbage"
	default:
		return "unknown"
	}
}
