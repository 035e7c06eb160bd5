package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/distr1/afs"
	"github.com/distr1/afs/internal/blockdev"
)

const fsckHelp = `afsutil fsck [-flags] <image>

Mounts an image read-only (memory-mapped) and reports whether it
scanned cleanly. Mounting itself performs the scan (classifying every
block and demoting orphaned blocks to garbage), so a successful mount
is the pass/fail signal; fsck additionally flags objects that are in
the lookup table but claim zero blocks. Nothing is written back: the demotions stay
in memory.
`

func cmdFsck(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("fsck", flag.ExitOnError)
	var g geometryFlags
	addGeometryFlags(fset, &g)
	fset.Usage = usage(fset, fsckHelp)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		fset.Usage()
		os.Exit(2)
	}

	d, err := blockdev.OpenMmap(fset.Arg(0), uint32(g.blockSize), false)
	if err != nil {
		fmt.Printf("FAIL: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()
	s, err := afs.New(mountOptions(g, d))
	if err != nil {
		fmt.Printf("FAIL: %v\n", err)
		os.Exit(1)
	}

	snap := s.Snapshot()
	var suspect int
	for _, o := range snap.Objects {
		if o.NumBlocks == 0 {
			suspect++
			fmt.Printf("object %d: in lookup table but claims 0 blocks\n", o.ObjectID)
		}
	}
	if suspect == 0 {
		fmt.Printf("OK: %d object(s), %d/%d blocks used\n", len(snap.Objects), snap.UsedBlocks, snap.NumBlocks)
		return nil
	}
	return xerrors.Errorf("fsck: %d suspect object(s)", suspect)
}
