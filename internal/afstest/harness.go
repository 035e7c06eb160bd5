// Package afstest provides a shared harness for exercising a mounted
// afs.Store in tests: a small, fast in-memory driver and a builder for
// legacy on-disk fixtures no current code path can produce.
package afstest

import (
	"io"
	"sync"

	"github.com/orcaman/writerseeker"

	"github.com/distr1/afs"
)

// Geometry is a small, fast device geometry suitable for unit tests —
// far smaller than the real ~4MiB/8-sub-block target, but proportioned
// the same way (block size a multiple of MinReadWriteSize, evenly
// divisible by SubBlocks, with a sub-block comfortably larger than the
// 128-byte footer).
type Geometry struct {
	BlockSize        uint32
	NumBlocks        uint16
	MinReadWriteSize uint32
	SubBlocks        uint32
}

// SmallGeometry is the default fixture geometry: 4KiB blocks, 8
// sub-blocks of 512B each (matching MinReadWriteSize, so every
// sub-block boundary is also a flushable boundary), 16 blocks.
func SmallGeometry() Geometry {
	return Geometry{
		BlockSize:        4096,
		NumBlocks:        16,
		MinReadWriteSize: 512,
		SubBlocks:        8,
	}
}

// Driver is an in-memory afs.Driver backed by
// github.com/orcaman/writerseeker's seekable byte buffer, standing in
// for a fixed-size flash image kept entirely in memory. Unlike
// blockdev.Memory (a slice of per-block byte slices), this exercises a
// single flat seekable buffer the way a real image file would be laid
// out, which is closer to what blockdev.File does against a real file.
type Driver struct {
	mu        sync.Mutex
	ws        writerseeker.WriterSeeker
	blockSize uint32
	numBlocks uint16
}

// NewDriver allocates a zero-filled (erased) image of numBlocks *
// blockSize bytes.
func NewDriver(g Geometry) (*Driver, error) {
	d := &Driver{blockSize: g.BlockSize, numBlocks: g.NumBlocks}
	total := int64(g.NumBlocks) * int64(g.BlockSize)
	if total > 0 {
		if _, err := d.ws.Seek(total-1, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := d.ws.Write([]byte{0}); err != nil {
			return nil, err
		}
		if _, err := d.ws.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Driver) offset(block uint16, within uint32) int64 {
	return int64(block)*int64(d.blockSize) + int64(within)
}

// ReadBlock implements afs.Driver / storage.Driver.
func (d *Driver) ReadBlock(block uint16, offset uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.ws.BytesReader()
	if _, err := r.Seek(d.offset(block, offset), io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(r, buf)
	return err
}

// WriteBlock implements afs.Driver / storage.Driver.
func (d *Driver) WriteBlock(block uint16, offset uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.ws.Seek(d.offset(block, offset), io.SeekStart); err != nil {
		return err
	}
	_, err := d.ws.Write(buf)
	return err
}

// EraseBlock implements afs.Driver / storage.Driver by zeroing the whole
// block, matching the platform convention that erased flash reads back
// as zero bytes.
func (d *Driver) EraseBlock(block uint16) error {
	return d.WriteBlock(block, 0, make([]byte, d.blockSize))
}

// Bytes returns a copy of the entire backing image, for tests that
// assert on raw on-disk layout.
func (d *Driver) Bytes() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return io.ReadAll(d.ws.BytesReader())
}

// Options builds afs.Options for g against driver, with no
// ObjectFoundFunc and a discarding logger (tests that need those set
// them explicitly after calling this).
func Options(g Geometry, driver afs.Driver) afs.Options {
	return afs.Options{
		BlockSize:        g.BlockSize,
		NumBlocks:        g.NumBlocks,
		MinReadWriteSize: g.MinReadWriteSize,
		SubBlocks:        g.SubBlocks,
		Driver:           driver,
	}
}

// NewStore mounts a fresh store over a brand-new, fully-erased image
// using geometry g.
func NewStore(g Geometry) (*afs.Store, *Driver, error) {
	d, err := NewDriver(g)
	if err != nil {
		return nil, nil, err
	}
	s, err := afs.New(Options(g, d))
	if err != nil {
		return nil, nil, err
	}
	return s, d, nil
}
