package ikesa

import (
	"github.com/behrlich/go-ikesa/internal/constants"
	"github.com/behrlich/go-ikesa/internal/hash"
)

// row is the entry list owned by one table bucket. It is only ever
// touched while the owning segment's mutex is held.
type row struct {
	entries []*entry
}

// table is the fixed-size, segment-sharded hash table backing the
// manager. Row count and segment count are each rounded up to a power of
// two at construction, so row and segment selection reduce to a mask.
type table struct {
	rows        []row
	segments    []*segment
	tableMask   uint64
	segmentMask uint64
}

func newTable(tableSize, segmentCount int) *table {
	tableSize = constants.NextPow2(tableSize, constants.MaxTableSize)
	segmentCount = constants.ClampSegmentCount(segmentCount, tableSize)

	t := &table{
		rows:        make([]row, tableSize),
		segments:    make([]*segment, segmentCount),
		tableMask:   uint64(tableSize - 1),
		segmentMask: uint64(segmentCount - 1),
	}
	for i := range t.segments {
		t.segments[i] = &segment{}
	}
	return t
}

// rowIndex returns the table row an initiator SPI belongs to. The
// responder SPI never enters this computation, so an entry's row is fixed
// for its whole lifetime even though its SA-id's responder SPI starts at
// zero and is filled in later.
func (t *table) rowIndex(initSPI uint64) uint64 {
	return hash.TableBucket(initSPI) & t.tableMask
}

// segmentFor returns the segment that owns a given row index.
func (t *table) segmentFor(rowIdx uint64) *segment {
	return t.segments[rowIdx&t.segmentMask]
}

func (t *table) insert(idx uint64, e *entry) {
	t.rows[idx].entries = append(t.rows[idx].entries, e)
}

func (t *table) remove(idx uint64, e *entry) {
	es := t.rows[idx].entries
	for i, x := range es {
		if x == e {
			es[i] = es[len(es)-1]
			t.rows[idx].entries = es[:len(es)-1]
			return
		}
	}
}

// segmentOrder returns every row index in segment-major order: all rows
// owned by segment 0, then all rows owned by segment 1, and so on. This is
// the traversal order the enumerators use so a cursor never needs more
// than one segment mutex at a time.
func (t *table) segmentOrder() []int {
	order := make([]int, 0, len(t.rows))
	nseg := len(t.segments)
	for s := 0; s < nseg; s++ {
		for r := s; r < len(t.rows); r += nseg {
			order = append(order, r)
		}
	}
	return order
}
