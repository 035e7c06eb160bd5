package blockdev

import (
	"os"

	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"
)

// Mmap is a read-only storage.Driver backed by a memory-mapped file,
// useful for read-heavy tools (such as afsutil fsck) that don't want the
// overhead of repeated ReadAt syscalls.
type Mmap struct {
	r         *mmap.ReaderAt
	blockSize uint32
	writer    *os.File // non-nil if writes are also permitted
}

// OpenMmap memory-maps path for reads. If writable is true, writes and
// erases fall back to ordinary WriteAt calls against a second, separately
// opened handle (mmap.ReaderAt in x/exp/mmap is read-only).
func OpenMmap(path string, blockSize uint32, writable bool) (*Mmap, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("blockdev: mmap open %s: %w", path, err)
	}
	d := &Mmap{r: r, blockSize: blockSize}
	if writable {
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			r.Close()
			return nil, err
		}
		d.writer = f
	}
	return d, nil
}

func (d *Mmap) offset(block uint16, within uint32) int64 {
	return int64(block)*int64(d.blockSize) + int64(within)
}

// ReadBlock implements storage.Driver.
func (d *Mmap) ReadBlock(block uint16, offset uint32, buf []byte) error {
	_, err := d.r.ReadAt(buf, d.offset(block, offset))
	return err
}

// WriteBlock implements storage.Driver; it returns an error if the device
// was opened read-only.
func (d *Mmap) WriteBlock(block uint16, offset uint32, buf []byte) error {
	if d.writer == nil {
		return xerrors.New("blockdev: mmap device opened read-only")
	}
	_, err := d.writer.WriteAt(buf, d.offset(block, offset))
	return err
}

// EraseBlock implements storage.Driver by zeroing the block, matching
// this platform's erased-flash convention. Returns an error if the
// device was opened read-only.
func (d *Mmap) EraseBlock(block uint16) error {
	if d.writer == nil {
		return xerrors.New("blockdev: mmap device opened read-only")
	}
	erased := make([]byte, d.blockSize)
	_, err := d.writer.WriteAt(erased, d.offset(block, 0))
	return err
}

// Close unmaps the file and closes the write handle, if any.
func (d *Mmap) Close() error {
	if d.writer != nil {
		d.writer.Close()
	}
	return d.r.Close()
}
