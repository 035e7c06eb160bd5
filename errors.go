package afs

import "golang.org/x/xerrors"

// Sentinel errors. Store and Object methods return ErrObjectNotFound and
// ErrStorageFull; ErrInvalidHandle, ErrClosed and ErrCorrupt are defined
// but no method returns them (misuse of a handle panics, and corrupt
// media reads as the end of an object). Use errors.Is to test for them;
// internal failures are wrapped with xerrors.Errorf so the chain stays
// intact.
var (
	ErrObjectNotFound = xerrors.New("afs: object not found")
	ErrStorageFull    = xerrors.New("afs: storage full")
	ErrInvalidHandle  = xerrors.New("afs: invalid handle")
	ErrClosed         = xerrors.New("afs: handle already closed")
	ErrCorrupt        = xerrors.New("afs: corrupt on-disk data")
)

// assertf panics with a formatted message when cond is false. Used only
// for contract violations (double-open, object ID 0, nil handles) that a
// correct caller never triggers — never for operational failures, which
// are returned as errors instead.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(xerrors.Errorf(format, args...))
	}
}
