package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/distr1/afs"
	"github.com/distr1/afs/internal/blockdev"
)

// geometryFlags are the image parameters every subcommand that opens or
// creates an image needs; flag names and defaults match a typical NOR/NAND
// part, not any particular piece of hardware.
type geometryFlags struct {
	blockSize   uint
	numBlocks   uint
	minRW       uint
	subBlocks   uint
	awaitDevice string
}

func addGeometryFlags(fset *flag.FlagSet, g *geometryFlags) {
	fset.UintVar(&g.blockSize, "block_size", 4096, "erase block size in bytes")
	fset.UintVar(&g.numBlocks, "num_blocks", 256, "number of erase blocks")
	fset.UintVar(&g.minRW, "min_rw_size", 512, "minimum read/write granularity in bytes")
	fset.UintVar(&g.subBlocks, "sub_blocks", 8, "sub-blocks per erase block, for seek chunks")
	fset.StringVar(&g.awaitDevice, "await_device", "", "block device name (e.g. mmcblk0) to wait for before opening; for hot-pluggable media")
}

func mountOptions(g geometryFlags, d afs.Driver) afs.Options {
	return afs.Options{
		BlockSize:        uint32(g.blockSize),
		NumBlocks:        uint16(g.numBlocks),
		MinReadWriteSize: uint32(g.minRW),
		SubBlocks:        uint32(g.subBlocks),
		Driver:           d,
		Logger:           defaultLogger(),
	}
}

func usage(fset *flag.FlagSet, helpText string) func() {
	return func() {
		fmt.Fprintln(os.Stderr, helpText)
		fset.PrintDefaults()
	}
}

// openStore mounts an existing image at path using g, printing mount
// diagnostics to stderr the way a production daemon's logger would.
func openStore(path string, g geometryFlags) (*afs.Store, *blockdev.File, error) {
	if g.awaitDevice != "" {
		if err := blockdev.AwaitDevice(g.awaitDevice, nil); err != nil {
			return nil, nil, xerrors.Errorf("waiting for %s: %w", g.awaitDevice, err)
		}
	}
	d, err := blockdev.OpenFile(path, uint16(g.numBlocks), uint32(g.blockSize))
	if err != nil {
		return nil, nil, xerrors.Errorf("opening %s: %w", path, err)
	}
	s, err := afs.New(mountOptions(g, d))
	if err != nil {
		d.Close()
		return nil, nil, xerrors.Errorf("mounting %s: %w", path, err)
	}
	return s, d, nil
}
