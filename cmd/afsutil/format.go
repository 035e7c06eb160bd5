package main

import (
	"context"
	"flag"
	"io"

	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const formatHelp = `afsutil format [-flags] <image> [<image>...]

Creates (or atomically re-creates) one or more zero-filled AFS backing
images of the configured geometry. Each image is written to a temp file
next to the destination and renamed into place, so a crash or interrupt
during format never leaves a partially-written image at the destination
path. With more than one image argument, all images are formatted
concurrently.
`

func cmdFormat(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("format", flag.ExitOnError)
	var g geometryFlags
	addGeometryFlags(fset, &g)
	fset.Usage = usage(fset, formatHelp)
	if err := fset.Parse(args); err != nil {
		return err
	}
	images := fset.Args()
	if len(images) == 0 {
		return xerrors.New("format: at least one image path is required")
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, path := range images {
		path := path
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return formatOne(path, g)
		})
	}
	return eg.Wait()
}

func formatOne(path string, g geometryFlags) error {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("format %s: %w", path, err)
	}
	defer f.Cleanup()

	size := int64(g.numBlocks) * int64(g.blockSize)
	if _, err := io.CopyN(f, zeroReader{}, size); err != nil {
		return xerrors.Errorf("format %s: %w", path, err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("format %s: %w", path, err)
	}
	defaultLogger().Printf("formatted %s: %d blocks of %d bytes", path, g.numBlocks, g.blockSize)
	return nil
}

// zeroReader produces an endless run of zero bytes, matching the
// erased-flash-reads-as-zero convention blockdev.File.EraseBlock relies on.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
