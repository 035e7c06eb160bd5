package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

const listHelp = `afsutil list [-flags] <image>

Mounts an image and prints one line per object: its ID and block count.
When stdout is a terminal, a header row and a summary line are added.
`

func cmdList(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("list", flag.ExitOnError)
	var g geometryFlags
	addGeometryFlags(fset, &g)
	fset.Usage = usage(fset, listHelp)
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

	ids := s.List()
	tty := isatty.IsTerminal(os.Stdout.Fd())
	if tty {
		fmt.Printf("%-8s %-8s\n", "object", "blocks")
	}
	for _, id := range ids {
		fmt.Printf("%-8d %-8d\n", id, s.NumBlocks(id))
	}
	if tty {
		fmt.Printf("%d object(s), %d/%d blocks used\n", len(ids), s.Size(), g.numBlocks)
	}
	return nil
}
