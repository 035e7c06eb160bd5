// Package afs implements an append-only, log-structured object store for
// block-erasable flash media: objects are written once, read back on up
// to 16 interleaved logical streams, and deleted in bulk — there is no
// in-place update of previously written bytes.
package afs
