package reader

import "github.com/distr1/afs/internal/chunk"

// SavedPosition is a snapshot of a Reader's cursor, usable to rewind a
// read after a caller peeks ahead (e.g. to look at an object's header
// before deciding how much of the body to consume).
type SavedPosition struct {
	objectOffset    [chunk.NumStreams]uint64
	blockOffset     [chunk.NumStreams]uint32
	storageOffset   uint64
	dataChunkLength uint32
	currentStream   uint8
}

// Save captures the current cursor.
func (r *Reader) Save() SavedPosition {
	return SavedPosition{
		objectOffset:    r.objectOffset,
		blockOffset:     r.blockOffset,
		storageOffset:   r.storageOffset,
		dataChunkLength: r.dataChunkLength,
		currentStream:   r.currentStream,
	}
}

// Restore rewinds the cursor to a previously saved position.
func (r *Reader) Restore(p SavedPosition) {
	r.objectOffset = p.objectOffset
	r.blockOffset = p.blockOffset
	r.storageOffset = p.storageOffset
	r.dataChunkLength = p.dataChunkLength
	r.currentStream = p.currentStream
}
