package ikesa

import (
	"net"
	"sync"

	"github.com/behrlich/go-ikesa/internal/constants"
	"github.com/behrlich/go-ikesa/internal/interfaces"
)

// entry is one table slot: an SA handle plus the bookkeeping the manager
// needs to lease it out safely. Every field is guarded by the mutex of the
// segment that owns the entry's row; entry itself holds no lock of its
// own.
type entry struct {
	said interfaces.SAID
	sa   interfaces.SAHandle

	cond *sync.Cond

	checkedOut      bool
	waiters         uint32
	driveoutNew     bool
	driveoutWaiting bool

	messageID int64

	initHash  []byte
	otherHost net.IP
	myID      interfaces.Identity
	otherID   interfaces.Identity
}

func newEntry(id interfaces.SAID, sa interfaces.SAHandle, seg *segment) *entry {
	return &entry{
		said:      id,
		sa:        sa,
		cond:      sync.NewCond(seg),
		messageID: constants.NoMessageID,
	}
}

// waitForEntry implements the entry's checkout wait protocol. The caller
// must hold the entry's segment mutex. It returns true once the entry is
// safe to check out (and has marked no state itself — the caller sets
// checkedOut), or false if the entry is being driven out and must not be
// handed to anyone.
//
// A driveout in progress (driveoutNew) rejects new waiters immediately,
// without ever joining the wait queue: once an entry starts draining, no
// further callers should pile onto its condition variable. An existing
// waiter, once woken, relays the wakeup with a single Signal before
// returning failure, so every previously queued waiter — and the thread
// draining the entry — eventually wakes even though only one waiter is
// signaled at a time.
func waitForEntry(e *entry) bool {
	if e.driveoutNew {
		return false
	}
	for e.checkedOut && !e.driveoutWaiting {
		e.waiters++
		e.cond.Wait()
		e.waiters--
	}
	if e.driveoutWaiting {
		e.cond.Signal()
		return false
	}
	return true
}
