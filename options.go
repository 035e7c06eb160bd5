package afs

import (
	"io"
	"log"

	"golang.org/x/xerrors"

	"github.com/distr1/afs/internal/chunk"
	"github.com/distr1/afs/internal/storage"
)

// Driver is the storage collaborator a Store reads, writes and erases
// blocks through. Block indices are relative (0..NumBlocks-1).
type Driver = storage.Driver

// ObjectFoundFunc is invoked once per object discovered during mount,
// with the bytes of its leading run of same-stream data in its first
// block — a small indexable header many callers store at the front of an
// object.
type ObjectFoundFunc func(objectID uint16, stream uint8, data []byte)

// Options configures a Store. It is validated eagerly by New, so a
// geometry mistake surfaces at mount time rather than on the first
// write.
type Options struct {
	// BlockSize is the erase-block size of the backing device (typically
	// the allocation-unit size of the flash media, e.g. 4MiB on SD cards).
	BlockSize uint32
	// NumBlocks is the total number of blocks on the device.
	NumBlocks uint16
	// MinReadWriteSize is the minimum granularity the driver can read or
	// write (typically the sector size, e.g. 512 bytes).
	MinReadWriteSize uint32
	// SubBlocks is how many sub-blocks each block is divided into for the
	// purpose of seek chunks; BlockSize must be evenly divisible by it,
	// and each sub-block must be large enough to hold a full seek chunk.
	SubBlocks uint32
	// Driver performs the actual block reads, writes and erases.
	Driver Driver
	// ObjectFoundFunc, if set, is invoked once per object found while
	// mounting.
	ObjectFoundFunc ObjectFoundFunc
	// Logger receives a one-line summary when the store is mounted.
	// Defaults to a discarding logger if nil.
	Logger *log.Logger
	// CacheWindowBlocks sizes the storage context's read/write cache as a
	// multiple of MinReadWriteSize. Defaults to 1.
	CacheWindowBlocks uint32
}

func (o *Options) validate() error {
	if o.BlockSize == 0 || o.MinReadWriteSize == 0 || o.SubBlocks == 0 {
		return xerrors.New("afs: BlockSize, MinReadWriteSize and SubBlocks must be non-zero")
	}
	if o.BlockSize%o.MinReadWriteSize != 0 {
		return xerrors.New("afs: BlockSize must be a multiple of MinReadWriteSize")
	}
	if o.BlockSize%o.SubBlocks != 0 {
		return xerrors.New("afs: BlockSize must be evenly divisible by SubBlocks")
	}
	subBlockSize := o.BlockSize / o.SubBlocks
	if subBlockSize < chunk.FooterSize {
		return xerrors.New("afs: sub-block size must be at least the footer length")
	}
	if o.NumBlocks == 0 {
		return xerrors.New("afs: NumBlocks must be non-zero")
	}
	window := o.MinReadWriteSize * o.cacheWindow()
	if o.BlockSize%window != 0 {
		return xerrors.New("afs: cache window must evenly divide BlockSize")
	}
	if subBlockSize%window != 0 && window%subBlockSize != 0 {
		return xerrors.New("afs: cache window must divide (or be a multiple of) the sub-block size")
	}
	if o.Driver == nil {
		return xerrors.New("afs: Driver is required")
	}
	return nil
}

func (o *Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.New(io.Discard, "", 0)
}

func (o *Options) geometry() storage.Geometry {
	return storage.Geometry{
		BlockSize:         o.BlockSize,
		NumBlocks:         o.NumBlocks,
		MinReadWriteSize:  o.MinReadWriteSize,
		SubBlocksPerBlock: o.SubBlocks,
	}
}

func (o *Options) cacheWindow() uint32 {
	if o.CacheWindowBlocks == 0 {
		return 1
	}
	return o.CacheWindowBlocks
}
