package blockdev

import (
	"os"
	"strings"

	"github.com/s-urbaniak/uevent"
	"golang.org/x/xerrors"
)

// AwaitDevice blocks until the block device node devname (e.g. "sda1",
// "dm-0") appears, or ctx-less timeout is handled by the caller closing
// stop. It is meant for early-boot or hot-plug flash media that may not
// be enumerated yet when the caller starts up.
//
// Device-mapper devices report their "add" uevent before they are
// actually readable, so for dm-* names this waits for the subsequent
// "change" event instead, mirroring how udev-based tooling waits for
// DM activation to finish.
func AwaitDevice(devname string, stop <-chan struct{}) error {
	if _, err := os.Stat("/dev/" + devname); err == nil {
		return nil
	}

	r, err := uevent.NewReader()
	if err != nil {
		return xerrors.Errorf("blockdev: uevent reader: %w", err)
	}
	defer r.Close()
	dec := uevent.NewDecoder(r)

	type result struct {
		err error
	}
	done := make(chan result, 1)
	go func() {
		for {
			ev, err := dec.Decode()
			if err != nil {
				done <- result{err: xerrors.Errorf("blockdev: uevent: %w", err)}
				return
			}
			if ev.Subsystem != "block" {
				continue
			}
			name, ok := ev.Vars["DEVNAME"]
			if !ok || name != devname {
				continue
			}
			wantAction := "add"
			if strings.HasPrefix(devname, "dm-") {
				wantAction = "change"
			}
			if ev.Action != wantAction {
				continue
			}
			done <- result{}
			return
		}
	}()

	select {
	case res := <-done:
		return res.err
	case <-stop:
		return xerrors.New("blockdev: await device: stopped")
	}
}
