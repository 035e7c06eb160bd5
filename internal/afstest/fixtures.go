package afstest

import (
	"github.com/distr1/afs/internal/chunk"
)

// WriteLegacyBlock hand-constructs a v1 (AFS1-magic, no footer) block 0
// directly on driver: a header followed by one data chunk per
// (stream, payload) pair in order, then an END chunk. No code path in
// this repository writes v1 blocks any more (the writer only ever emits
// v2); this exists purely to synthesize legacy media for read-path
// tests.
func WriteLegacyBlock(driver *Driver, block uint16, objectID uint16, streams []uint8, payloads [][]byte) error {
	hdr := chunk.BlockHeader{Magic: chunk.MagicV1, ObjectID: objectID, ObjectBlockIndex: 0}
	buf := hdr.Encode()
	for i, stream := range streams {
		buf = append(buf, chunk.EncodeDataChunk(stream, payloads[i])...)
	}
	buf = append(buf, chunk.EncodeEndChunk()...)
	return driver.WriteBlock(block, 0, buf)
}
