package ikesa

import (
	"net"

	"github.com/behrlich/go-ikesa/internal/interfaces"
)

// EnumeratedSA is one entry surfaced by Enumerator.Next: the raw SA
// handle plus the entry's cached remote host, visited without leasing.
type EnumeratedSA struct {
	SA        interfaces.SAHandle
	OtherHost net.IP
}

// Enumerator is a read-only cursor over every entry currently in the
// table, in segment-major order. It acquires at most one segment mutex
// at a time and never attempts to check an entry out, so it never
// blocks on a busy entry and never contends with checkout/checkin for
// longer than a single row's snapshot. Concurrent inserts and removes
// may or may not be observed; an entry present for the cursor's whole
// lifetime is visited exactly once.
type Enumerator struct {
	tbl    *table
	order  []int
	pos    int
	cur    []*entry
	curPos int
}

// NewEnumerator returns a raw, non-leasing cursor over the manager's
// table.
func (m *Manager) NewEnumerator() *Enumerator {
	return &Enumerator{tbl: m.tbl, order: m.tbl.segmentOrder()}
}

// Next advances to the next entry and returns it without leasing it.
func (en *Enumerator) Next() (EnumeratedSA, bool) {
	for {
		if en.curPos < len(en.cur) {
			e := en.cur[en.curPos]
			en.curPos++
			return EnumeratedSA{SA: e.sa, OtherHost: e.otherHost}, true
		}
		if en.pos >= len(en.order) {
			return EnumeratedSA{}, false
		}
		rowIdx := en.order[en.pos]
		en.pos++
		seg := en.tbl.segmentFor(uint64(rowIdx))
		seg.Lock()
		en.cur = append([]*entry(nil), en.tbl.rows[rowIdx].entries...)
		seg.Unlock()
		en.curPos = 0
	}
}

// Close releases any state the cursor is holding. Safe to call multiple
// times; safe to skip if the cursor was drained to completion.
func (en *Enumerator) Close() {
	en.cur = nil
	en.pos = len(en.order)
}

// LiveEnumerator is a cursor like Enumerator, except it actually checks
// each entry out via the normal wait_for_entry protocol and yields only
// the ones it successfully acquires, presenting them as leased SA
// handles. The caller must Checkin (or CheckinAndDestroy) every handle
// Next returns.
type LiveEnumerator struct {
	m      *Manager
	order  []int
	rowi   int
	cur    []*entry
	curPos int
	curRow int
}

// NewLiveEnumerator returns a leasing cursor over the manager's table.
func (m *Manager) NewLiveEnumerator() *LiveEnumerator {
	return &LiveEnumerator{m: m, order: m.tbl.segmentOrder()}
}

// Next advances to and leases the next acquirable entry.
func (le *LiveEnumerator) Next() (interfaces.SAHandle, bool) {
	for {
		for le.curPos < len(le.cur) {
			e := le.cur[le.curPos]
			le.curPos++

			seg := le.m.tbl.segmentFor(uint64(le.curRow))
			seg.Lock()
			ok := waitForEntry(e)
			if ok {
				e.checkedOut = true
			}
			seg.Unlock()
			if ok {
				le.m.bus.SetCurrentSA(e.sa)
				return e.sa, true
			}
		}
		if le.rowi >= len(le.order) {
			return nil, false
		}
		rowIdx := le.order[le.rowi]
		le.rowi++
		seg := le.m.tbl.segmentFor(uint64(rowIdx))
		seg.Lock()
		le.cur = append([]*entry(nil), le.m.tbl.rows[rowIdx].entries...)
		seg.Unlock()
		le.curPos = 0
		le.curRow = rowIdx
	}
}

// Close is a no-op: LiveEnumerator never holds a mutex between calls to
// Next. It exists for API symmetry with Enumerator.
func (le *LiveEnumerator) Close() {}
