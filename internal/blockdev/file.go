// Package blockdev provides storage.Driver implementations over real and
// in-memory block devices, plus a udev-based helper to wait for a device
// node to appear.
package blockdev

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// File is a storage.Driver backed by a regular file or block special file,
// opened for direct read/write access.
type File struct {
	f         *os.File
	numBlocks uint16
	blockSize uint32
}

// OpenFile opens path (a regular file or a block device node) for use as
// AFS backing storage. The file is opened with O_DSYNC so every WriteBlock
// and EraseBlock is durable on return, which is the crash-safety boundary
// the store's recovery scan counts on. If the file is shorter than
// numBlocks*blockSize it is extended with fallocate (regular files only;
// block devices must already be sized).
func OpenFile(path string, numBlocks uint16, blockSize uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_DSYNC, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("blockdev: open %s: %w", path, err)
	}
	want := int64(numBlocks) * int64(blockSize)
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Mode().IsRegular() && fi.Size() < want {
		if err := unix.Fallocate(int(f.Fd()), 0, 0, want); err != nil {
			// Fallocate isn't supported on every filesystem (tmpfs,
			// some network mounts); fall back to a plain truncate, which
			// still gives the right apparent size.
			if err := f.Truncate(want); err != nil {
				f.Close()
				return nil, xerrors.Errorf("blockdev: truncate %s: %w", path, err)
			}
		}
	}
	return &File{f: f, numBlocks: numBlocks, blockSize: blockSize}, nil
}

func (d *File) offset(block uint16, within uint32) int64 {
	return int64(block)*int64(d.blockSize) + int64(within)
}

// ReadBlock implements storage.Driver.
func (d *File) ReadBlock(block uint16, offset uint32, buf []byte) error {
	_, err := d.f.ReadAt(buf, d.offset(block, offset))
	return err
}

// WriteBlock implements storage.Driver.
func (d *File) WriteBlock(block uint16, offset uint32, buf []byte) error {
	_, err := d.f.WriteAt(buf, d.offset(block, offset))
	return err
}

// EraseBlock implements storage.Driver by zeroing the whole block,
// matching this platform's convention that erased flash reads back as
// all-zero bytes, which is what lets mount's classifier recognize a
// never-written block as maybe-erased rather than unknown.
func (d *File) EraseBlock(block uint16) error {
	erased := make([]byte, d.blockSize)
	_, err := d.f.WriteAt(erased, d.offset(block, 0))
	return err
}

// Sync flushes any OS-buffered writes to stable storage.
func (d *File) Sync() error { return d.f.Sync() }

// Close releases the underlying file descriptor.
func (d *File) Close() error { return d.f.Close() }
