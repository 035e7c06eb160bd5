// Package diag exposes plain-struct introspection of a store's state, for
// tooling (afsutil status/fsck) and tests to inspect without reaching into
// unexported fields.
package diag

// ObjectInfo describes one object known to the lookup table or currently
// being written.
type ObjectInfo struct {
	ObjectID  uint16
	NumBlocks uint16
	Writing   bool
}

// BlockInfo mirrors lookup.BlockInfo for external consumption.
type BlockInfo struct {
	Block     uint16
	InUse     bool
	ObjectID  uint16
	BlockIdx  uint16
	FreeState string
}

// Snapshot is a point-in-time view of a store, produced by Store.Snapshot.
type Snapshot struct {
	NumBlocks    uint16
	UsedBlocks   uint16
	ErasedBlocks uint16
	V1Blocks     uint16
	V2Blocks     uint16
	Seed         uint32
	Objects      []ObjectInfo
	Blocks       []BlockInfo
}
