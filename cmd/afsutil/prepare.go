package main

import (
	"context"
	"flag"
	"os"

	"golang.org/x/xerrors"
)

const prepareHelp = `afsutil prepare [-flags] <image>

Pre-erases up to -n currently free blocks that are not yet known to be
erased, so future writes don't pay erase latency inline. Safe to run
repeatedly; it is a no-op once every free block is erased.
`

func cmdPrepare(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("prepare", flag.ExitOnError)
	var g geometryFlags
	addGeometryFlags(fset, &g)
	n := fset.Uint("n", 16, "maximum number of blocks to erase")
	fset.Usage = usage(fset, prepareHelp)
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

	logger := defaultLogger()
	// The report must not touch the store: it runs on the signal
	// goroutine while PrepareStorage may still be mid-erase.
	reportOnInterrupt(func() {
		logger.Printf("prepare interrupted; blocks already erased stay erased")
	})

	before := s.Snapshot().ErasedBlocks
	err = s.PrepareStorage(ctx, uint16(*n))
	erased := s.Snapshot().ErasedBlocks - before
	if xerrors.Is(err, context.Canceled) {
		logger.Printf("prepare stopped early after erasing %d block(s)", erased)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Printf("erased %d block(s)", erased)
	return nil
}
