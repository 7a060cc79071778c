package ikesa

import "sync"

// segment is one lock domain of the table: a single mutex guarding the
// entry lists of every row assigned to it. A table with segmentCount
// segments and tableSize rows assigns row r to segment r % segmentCount,
// so a segment typically owns several rows.
type segment struct {
	mu    sync.Mutex
	count int
}

// Lock and Unlock make *segment a sync.Locker, so entries' condition
// variables can bind directly to their owning segment.
func (s *segment) Lock()   { s.mu.Lock() }
func (s *segment) Unlock() { s.mu.Unlock() }
