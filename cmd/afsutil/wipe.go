package main

import (
	"context"
	"flag"
	"os"
)

const wipeHelp = `afsutil wipe [-flags] <image>

Deletes every object on an image. With -secure, every block an object
ever occupied is physically erased; without it, only each object's
first block is erased and the rest are marked garbage, which is faster
but leaves old payload bytes on the image until those blocks are reused.
`

func cmdWipe(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("wipe", flag.ExitOnError)
	var g geometryFlags
	addGeometryFlags(fset, &g)
	secure := fset.Bool("secure", false, "physically erase every block an object occupied, not just its first block")
	fset.Usage = usage(fset, wipeHelp)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		fset.Usage()
		os.Exit(2)
	}

	s, d, err := openStore(fset.Arg(0), g)
	if err != nil {
		return err
	}
	defer d.Close()

	before := s.Snapshot().UsedBlocks
	logger := defaultLogger()
	reportOnInterrupt(func() {
		logger.Printf("wipe interrupted: %d/%d blocks were used before the wipe started", before, g.numBlocks)
	})

	if err := s.Wipe(*secure); err != nil {
		return err
	}
	logger.Printf("wiped %d block(s), secure=%v", before, *secure)
	return nil
}
