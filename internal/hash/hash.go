// Package hash provides the two distinct hashing concerns the SA manager
// needs: a fast, non-cryptographic hash for table bucket placement (keyed
// on the initiator SPI only, per the table's sharding rule), and a
// cryptographic digest of full packets for retransmit detection.
package hash

import (
	"hash"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/sha256-simd"
)

// TableBucket returns the bucket hash of an initiator SPI. The table masks
// this down to its row index; the hash deliberately ignores the responder
// SPI so an entry's row never changes when the responder chooses its SPI.
func TableBucket(initSPI uint64) uint64 {
	var buf [8]byte
	buf[0] = byte(initSPI)
	buf[1] = byte(initSPI >> 8)
	buf[2] = byte(initSPI >> 16)
	buf[3] = byte(initSPI >> 24)
	buf[4] = byte(initSPI >> 32)
	buf[5] = byte(initSPI >> 40)
	buf[6] = byte(initSPI >> 48)
	buf[7] = byte(initSPI >> 56)
	return xxhash.Sum64(buf[:])
}

// digestPool pools SHA-256 scratch states so PacketHasher.Digest doesn't
// allocate a new hash.Hash on every retransmit check — the hot path this
// guards runs once per inbound IKE_SA_INIT candidate.
var digestPool = sync.Pool{
	New: func() any { return sha256.New() },
}

// PacketHasher implements the manager's Hasher collaborator over an
// accelerated SHA-256 implementation, used to digest the bytes of the
// first protocol message of a negotiation for duplicate/retransmit
// detection.
type PacketHasher struct{}

// NewPacketHasher returns the default Hasher collaborator.
func NewPacketHasher() PacketHasher { return PacketHasher{} }

// Digest returns the SHA-256 digest of data.
func (PacketHasher) Digest(data []byte) []byte {
	h := digestPool.Get().(hash.Hash)
	defer func() {
		h.Reset()
		digestPool.Put(h)
	}()
	h.Write(data)
	return h.Sum(nil)
}
