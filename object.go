package afs

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/reader"
	"github.com/distr1/afs/internal/writer"
)

// WildcardStream opens an Object for reading across all sixteen streams,
// interleaved in the order they were originally written.
const WildcardStream uint8 = chunk.WildcardStream

// Object is a handle returned by Store.Create or Store.Open. A handle is
// either a writer (from Create) or a reader (from Open), never both, and
// must be closed exactly once.
type Object struct {
	store *Store

	id uint16
	w  *writer.Writer
	r  *reader.Reader

	closed bool
}

// ID returns the object's 16-bit identifier.
func (o *Object) ID() uint16 { return o.id }

// Write appends data on stream to an object opened with Create, looping
// internally until every byte is accepted or the store runs out of
// space. A short write paired with ErrStorageFull means the bytes
// already accepted are durable once Close succeeds; none of data is
// silently dropped on success.
func (o *Object) Write(stream uint8, data []byte) (int, error) {
	assertf(o.w != nil, "afs: object %d is not open for writing", o.id)
	assertf(!o.closed, "afs: write on closed object %d", o.id)
	assertf(stream < chunk.NumStreams, "afs: stream %d out of range", stream)

	var written int
	for len(data) > 0 {
		n, err := o.w.Write(stream, data)
		if err != nil {
			return written, wrapStorageFull(err)
		}
		if n == 0 {
			break
		}
		written += n
		data = data[n:]
	}
	return written, nil
}

// Read fills data from an object opened with Open on a specific stream,
// returning io.EOF once the object's end is reached. Media that stops
// parsing (a corrupt chunk tag, an interrupted write) is treated as the
// end of the object rather than surfaced as an error: everything up to
// the damage remains readable, nothing after it is. Calling Read on a
// handle opened with WildcardStream is a contract violation — use
// ReadChunk instead, since wildcard mode needs to report which stream
// each run of bytes came from.
func (o *Object) Read(data []byte) (int, error) {
	assertf(o.r != nil, "afs: object %d is not open for reading", o.id)
	assertf(o.r.Stream() != chunk.WildcardStream, "afs: use ReadChunk on a wildcard-opened object")
	n, _, _ := o.r.Read(data)
	if n == 0 && len(data) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadChunk fills data with bytes of the object and reports which stream
// they belong to. On an object opened with WildcardStream it stops at the
// first chunk boundary even if data has room for more, so each call
// returns a run from a single stream; it is the only way to read such an
// object. On a single-stream open it behaves like Read: it fills data
// across chunk boundaries and always reports the opened stream. Like
// Read, unparseable media is treated as the end of the object.
func (o *Object) ReadChunk(data []byte) (n int, stream uint8, err error) {
	assertf(o.r != nil, "afs: object %d is not open for reading", o.id)
	n, stream, _ = o.r.Read(data)
	if n == 0 && len(data) > 0 {
		return 0, stream, io.EOF
	}
	return n, stream, nil
}

// Seek advances the read position forward by delta bytes on the opened
// stream (or, in wildcard mode, across the sum of all streams). Seeking
// is forward-only, matching the append-only nature of the medium.
func (o *Object) Seek(delta uint64) error {
	assertf(o.r != nil, "afs: object %d is not open for reading", o.id)
	if err := o.r.Seek(delta); err != nil {
		return xerrors.Errorf("afs: seek: %w", err)
	}
	return nil
}

// Size reports the number of bytes written on the opened stream. When
// opened with WildcardStream, streamMask selects which of the sixteen
// streams to sum; it is ignored (and should be passed as 0) for a
// single-stream open, where it always means "the opened stream".
func (o *Object) Size(streamMask uint16) (uint64, error) {
	assertf(o.r != nil, "afs: object %d is not open for reading", o.id)
	n, err := o.r.Size(streamMask)
	if err != nil {
		return 0, xerrors.Errorf("afs: size: %w", err)
	}
	return n, nil
}

// ReadPosition is an opaque snapshot of a read cursor, produced by
// SaveReadPosition and consumed by RestoreReadPosition. It remains valid
// across a Close/Open cycle on the same object, since the underlying
// medium is unaffected by closing a reader.
type ReadPosition struct {
	p reader.SavedPosition
}

// SaveReadPosition captures the current read cursor.
func (o *Object) SaveReadPosition() ReadPosition {
	assertf(o.r != nil, "afs: object %d is not open for reading", o.id)
	return ReadPosition{p: o.r.Save()}
}

// RestoreReadPosition rewinds the read cursor to a previously saved
// position.
func (o *Object) RestoreReadPosition(pos ReadPosition) {
	assertf(o.r != nil, "afs: object %d is not open for reading", o.id)
	o.r.Restore(pos.p)
}

// Close finalizes a writer (emitting the END chunk and final footer) or
// releases a reader. Closing a writer can fail with ErrStorageFull if
// there was no room left for the closing footer.
func (o *Object) Close() error {
	assertf(!o.closed, "afs: object %d already closed", o.id)
	o.closed = true
	o.store.open.Remove(o.id)
	if o.w == nil {
		return nil
	}
	if err := o.w.Close(); err != nil {
		return wrapStorageFull(err)
	}
	return nil
}

func wrapStorageFull(err error) error {
	if err == nil {
		return nil
	}
	if xerrors.Is(err, writer.ErrNoSpace) {
		return ErrStorageFull
	}
	return xerrors.Errorf("afs: write: %w", err)
}
