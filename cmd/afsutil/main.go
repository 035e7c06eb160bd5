// Command afsutil formats, inspects and manages AFS object store images
// backed by a regular file or block device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/xerrors"
)

var debug = flag.Bool("debug", false, "format error messages with additional detail")

var (
	interruptMu     sync.Mutex
	interruptReport func()
)

// reportOnInterrupt arranges for report to run if the user interrupts the
// running subcommand, so a half-finished wipe or prepare still says how
// far it got before the process winds down.
func reportOnInterrupt(report func()) {
	interruptMu.Lock()
	defer interruptMu.Unlock()
	interruptReport = report
}

// interruptibleContext cancels the returned context on the first SIGINT
// (after printing the registered progress report, if any) and force-exits
// on the second, for subcommands stuck in an uncancellable driver call.
func interruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		if _, ok := <-c; !ok {
			return
		}
		interruptMu.Lock()
		report := interruptReport
		interruptMu.Unlock()
		if report != nil {
			report()
		}
		cancel()
		if _, ok := <-c; ok {
			os.Exit(130)
		}
	}()
	return ctx, func() {
		signal.Stop(c)
		close(c)
		cancel()
	}
}

func funcmain() error {
	flag.Parse()

	verbs := map[string]func(ctx context.Context, args []string) error{
		"format":  cmdFormat,
		"list":    cmdList,
		"status":  cmdStatus,
		"wipe":    cmdWipe,
		"prepare": cmdPrepare,
		"fsck":    cmdFsck,
	}

	args := flag.Args()
	verb := "list"
	if len(args) > 0 {
		verb, args = args[0], args[1:]
	}

	if verb == "help" {
		fmt.Fprintln(os.Stderr, "afsutil [-flags] <command> [-flags] <args>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "\tformat  - create (or re-create) a backing image")
		fmt.Fprintln(os.Stderr, "\tlist    - mount an image and print its objects")
		fmt.Fprintln(os.Stderr, "\tstatus  - print a block-state histogram and object summary")
		fmt.Fprintln(os.Stderr, "\twipe    - delete every object on an image")
		fmt.Fprintln(os.Stderr, "\tprepare - pre-erase free blocks for predictable write latency")
		fmt.Fprintln(os.Stderr, "\tfsck    - mount an image and report whether it scans cleanly")
		os.Exit(2)
	}

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintln(os.Stderr, "syntax: afsutil <command> [options]")
		os.Exit(2)
	}

	ctx, cancel := interruptibleContext()
	defer cancel()
	if err := v(ctx, args); err != nil {
		if *debug {
			return xerrors.Errorf("%s: %+v", verb, err)
		}
		return xerrors.Errorf("%s: %v", verb, err)
	}
	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
