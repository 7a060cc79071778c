package ikesa

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/behrlich/go-ikesa/internal/constants"
	"github.com/behrlich/go-ikesa/internal/interfaces"
	"github.com/behrlich/go-ikesa/internal/logging"
)

// Config configures a Manager's table dimensions and reuse policy.
// Configured sizes that are zero or negative collapse to 1; sizes above
// MaxTableSize clamp to it. Both sizes are rounded up to a power of two.
type Config struct {
	TableSize    int
	SegmentCount int

	// ReuseIKESA controls whether checkout_by_config scans for an
	// existing SA to the same peer before minting a new one.
	ReuseIKESA bool
}

// DefaultConfig returns the manager's default sizing and policy.
func DefaultConfig() Config {
	return Config{
		TableSize:    constants.DefaultTableSize,
		SegmentCount: constants.DefaultSegmentCount,
		ReuseIKESA:   true,
	}
}

// Options carries the manager's optional collaborators.
type Options struct {
	Logger   *logging.Logger
	Observer Observer
}

// Manager is the concurrent registry of IKE SAs. All exported methods are
// safe for concurrent use.
type Manager struct {
	tbl     *table
	rng     interfaces.RNG
	hasher  interfaces.Hasher
	bus     interfaces.EventBus
	factory interfaces.SAFactory
	reuse   bool

	logger   *logging.Logger
	observer Observer
	metrics  *Metrics
}

// NewManager builds a Manager from its required collaborators. factory,
// rng, hasher and bus must all be non-nil.
func NewManager(cfg Config, factory interfaces.SAFactory, rng interfaces.RNG, hasher interfaces.Hasher, bus interfaces.EventBus, opts *Options) (*Manager, error) {
	if factory == nil {
		return nil, NewError("NewManager", ErrCodeInvalidConfig, "factory must not be nil")
	}
	if rng == nil {
		return nil, NewError("NewManager", ErrCodeInvalidConfig, "rng must not be nil")
	}
	if hasher == nil {
		return nil, NewError("NewManager", ErrCodeInvalidConfig, "hasher must not be nil")
	}
	if bus == nil {
		return nil, NewError("NewManager", ErrCodeInvalidConfig, "bus must not be nil")
	}

	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(nil)
	}
	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = metrics
	}

	return &Manager{
		tbl:      newTable(cfg.TableSize, cfg.SegmentCount),
		rng:      rng,
		hasher:   hasher,
		bus:      bus,
		factory:  factory,
		reuse:    cfg.ReuseIKESA,
		logger:   logger,
		observer: observer,
		metrics:  metrics,
	}, nil
}

// Metrics returns the manager's metrics snapshot source.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Len returns the number of entries currently registered.
func (m *Manager) Len() int {
	total := 0
	for _, seg := range m.tbl.segments {
		seg.Lock()
		total += seg.count
		seg.Unlock()
	}
	return total
}

func (m *Manager) lockRow(initSPI uint64) (uint64, *segment) {
	idx := m.tbl.rowIndex(initSPI)
	seg := m.tbl.segmentFor(idx)
	seg.Lock()
	return idx, seg
}

func (m *Manager) freshSPI() (uint64, error) {
	var buf [8]byte
	for i := 0; i < 16; i++ {
		if err := m.rng.Fill(buf[:]); err != nil {
			return 0, WrapError("freshSPI", ErrCodeInvalidConfig, "rng fill failed", err)
		}
		spi := binary.BigEndian.Uint64(buf[:])
		if spi != 0 {
			return spi, nil
		}
	}
	return 0, NewError("freshSPI", ErrCodeInvalidConfig, "rng produced only zero SPIs")
}

func hostMatches(stored, requested net.IP) bool {
	if requested == nil || requested.IsUnspecified() {
		return true
	}
	return stored.Equal(requested)
}

// identityMatches reports whether a cached entry identity matches a
// requested one. An entry side that has not resolved yet (nil or IsAny)
// behaves like a wildcard and matches anything, the same way an
// unresolved side is treated as ID_ANY and always matches.
func identityMatches(stored, requested interfaces.Identity) bool {
	if stored == nil || stored.IsAny() {
		return true
	}
	return stored.Matches(requested)
}

// scanAndAcquire walks every entry in segment-major order, acquiring
// (via waitForEntry) the first one match accepts. It returns found=false
// if no entry matched at all, and a checkout_rejected error if a matching
// entry was found but could not be acquired because it is being driven
// out.
func (m *Manager) scanAndAcquire(op string, match func(e *entry) bool) (interfaces.SAHandle, bool, error) {
	for _, row := range m.tbl.segmentOrder() {
		seg := m.tbl.segmentFor(uint64(row))
		seg.Lock()
		for _, e := range m.tbl.rows[row].entries {
			if !match(e) {
				continue
			}
			if !waitForEntry(e) {
				seg.Unlock()
				return nil, true, errCheckoutRejected(op, "matching entry is being driven out")
			}
			e.checkedOut = true
			seg.Unlock()
			return e.sa, true, nil
		}
		seg.Unlock()
	}
	return nil, false, nil
}

// CheckoutNew registers and leases a brand-new SA with a fresh initiator
// SPI. Used when this host is the initiator of a negotiation that has no
// existing entry.
func (m *Manager) CheckoutNew(isInitiator bool) (interfaces.SAHandle, error) {
	m.bus.SetCurrentSA(nil)

	initSPI, err := m.freshSPI()
	if err != nil {
		return nil, err
	}
	id := interfaces.SAID{InitSPI: initSPI, IsInitiator: isInitiator}
	sa := m.factory.NewSA(id)

	idx, seg := m.lockRow(initSPI)
	e := newEntry(id, sa, seg)
	e.checkedOut = true
	m.tbl.insert(idx, e)
	seg.count++
	seg.Unlock()

	m.observer.ObserveCheckout("new", true)
	m.bus.SetCurrentSA(sa)
	return sa, nil
}

// Checkout leases the entry matching id, tolerating an unfilled responder
// SPI on either side (match-as-in-flight).
func (m *Manager) Checkout(id interfaces.SAID) (interfaces.SAHandle, error) {
	m.bus.SetCurrentSA(nil)
	sa, found, err := m.scanAndAcquire("Checkout", func(e *entry) bool {
		return e.said.MatchAsInFlight(id)
	})
	if err != nil {
		m.observer.ObserveCheckout("by_id", false)
		return nil, err
	}
	if !found {
		m.observer.ObserveCheckout("by_id", false)
		return nil, errCheckoutRejected("Checkout", "no entry matches that SA-id")
	}
	m.observer.ObserveCheckout("by_id", true)
	m.bus.SetCurrentSA(sa)
	return sa, nil
}

// CheckoutByID leases the SA (or, if child is true, the SA owning a child
// SA) with the given unique numeric id.
func (m *Manager) CheckoutByID(id uint32, child bool) (interfaces.SAHandle, error) {
	m.bus.SetCurrentSA(nil)
	match := func(e *entry) bool {
		if child {
			for _, c := range e.sa.Children() {
				if c.Reqid == id {
					return true
				}
			}
			return false
		}
		return e.sa.UniqueID() == id
	}
	sa, found, err := m.scanAndAcquire("CheckoutByID", match)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errNotFound("CheckoutByID", "no SA with that unique id")
	}
	m.bus.SetCurrentSA(sa)
	return sa, nil
}

// CheckoutByName leases the SA (or, if child is true, the SA owning a
// child SA) with the given configured name.
func (m *Manager) CheckoutByName(name string, child bool) (interfaces.SAHandle, error) {
	m.bus.SetCurrentSA(nil)
	match := func(e *entry) bool {
		if child {
			for _, c := range e.sa.Children() {
				if c.Name == name {
					return true
				}
			}
			return false
		}
		return e.sa.Name() == name
	}
	sa, found, err := m.scanAndAcquire("CheckoutByName", match)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errNotFound("CheckoutByName", "no SA with that name")
	}
	m.bus.SetCurrentSA(sa)
	return sa, nil
}

// CheckoutDuplicate leases an SA other than sa that shares both of sa's
// authenticated identities, used to detect and collapse duplicate
// simultaneous connection attempts to the same peer.
func (m *Manager) CheckoutDuplicate(sa interfaces.SAHandle) (interfaces.SAHandle, error) {
	m.bus.SetCurrentSA(nil)
	selfID := sa.ID()
	myIDStr := sa.MyID().String()
	otherIDStr := sa.OtherID().String()

	match := func(e *entry) bool {
		if e.said.Equal(selfID) {
			return false
		}
		if e.myID == nil || e.otherID == nil {
			return false
		}
		return e.myID.String() == myIDStr && e.otherID.String() == otherIDStr
	}
	dup, found, err := m.scanAndAcquire("CheckoutDuplicate", match)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errNotFound("CheckoutDuplicate", "no duplicate SA for that identity pair")
	}
	m.bus.SetCurrentSA(dup)
	return dup, nil
}

// CheckoutByConfig leases an existing SA to the same peer
// config/identities/hosts when reuse is enabled and one exists; otherwise
// it registers and leases a brand-new initiator SA under cfg. A reusable
// SA is any one not in StateDeleting with at least one resolved identity;
// its state is not otherwise checked.
func (m *Manager) CheckoutByConfig(cfg interfaces.PeerConfig, myID, otherID interfaces.Identity, myHost, otherHost net.IP) (interfaces.SAHandle, error) {
	m.bus.SetCurrentSA(nil)

	if m.reuse {
		match := func(e *entry) bool {
			if e.sa.State() == interfaces.StateDeleting {
				return false
			}
			if (e.myID == nil || e.myID.IsAny()) && (e.otherID == nil || e.otherID.IsAny()) {
				return false
			}
			if e.sa.ConfigName() != cfg.Name() {
				return false
			}
			if !hostMatches(e.sa.MyHost(), myHost) {
				return false
			}
			if !hostMatches(e.otherHost, otherHost) {
				return false
			}
			return identityMatches(e.myID, myID) && identityMatches(e.otherID, otherID)
		}
		sa, found, err := m.scanAndAcquire("CheckoutByConfig", match)
		if err != nil {
			return nil, err
		}
		if found {
			m.observer.ObserveCheckout("by_config_reuse", true)
			m.bus.SetCurrentSA(sa)
			return sa, nil
		}
	}

	initSPI, err := m.freshSPI()
	if err != nil {
		return nil, err
	}
	id := interfaces.SAID{InitSPI: initSPI, IsInitiator: true}
	sa := m.factory.NewSA(id)
	sa.SetConfigName(cfg.Name())

	idx, seg := m.lockRow(initSPI)
	e := newEntry(id, sa, seg)
	e.checkedOut = true
	e.otherHost = otherHost
	m.tbl.insert(idx, e)
	seg.count++
	seg.Unlock()

	m.observer.ObserveCheckout("by_config_new", true)
	m.bus.SetCurrentSA(sa)
	return sa, nil
}

// CheckoutByMessage routes an inbound message to the entry it belongs to,
// synthesizing a new responder entry for an unmatched IKE_SA_INIT request
// and dropping retransmits of a message currently being processed.
func (m *Manager) CheckoutByMessage(msg interfaces.Message) (interfaces.SAHandle, error) {
	m.bus.SetCurrentSA(nil)

	raw := msg.SAID()
	// The message's SA-id reflects the sender's own role; our table
	// stores entries keyed by our role, which is always the opposite.
	key := interfaces.SAID{InitSPI: raw.InitSPI, RespSPI: raw.RespSPI, IsInitiator: !raw.IsInitiator}

	var (
		sa  interfaces.SAHandle
		err error
	)
	if msg.ExchangeType() == interfaces.ExchangeIKESAInit && msg.IsRequest() {
		sa, err = m.checkoutByInitMessage(key, msg)
	} else {
		sa, err = m.checkoutByOngoingMessage(key, msg)
	}
	if err != nil {
		return nil, err
	}
	m.bus.SetCurrentSA(sa)
	return sa, nil
}

func (m *Manager) checkoutByInitMessage(key interfaces.SAID, msg interfaces.Message) (interfaces.SAHandle, error) {
	digest := m.hasher.Digest(msg.Bytes())

	idx, seg := m.lockRow(key.InitSPI)
	var found *entry
	for _, e := range m.tbl.rows[idx].entries {
		if key.RespSPI == 0 && e.said.IsInitiator == key.IsInitiator && e.said.InitSPI == key.InitSPI && bytes.Equal(e.initHash, digest) {
			found = e
			break
		}
	}

	if found != nil {
		if found.messageID == 0 {
			seg.Unlock()
			m.logger.Debug("dropping retransmit of in-flight IKE_SA_INIT", "init_spi", key.InitSPI)
			m.observer.ObserveCheckout("message_init_retransmit", false)
			return nil, errCheckoutRejected("CheckoutByMessage", "retransmit of message already being processed")
		}
		if !waitForEntry(found) {
			seg.Unlock()
			return nil, errCheckoutRejected("CheckoutByMessage", "matching entry is being driven out")
		}
		found.checkedOut = true
		found.messageID = 0
		seg.Unlock()
		m.observer.ObserveCheckout("message_init_duplicate", true)
		return found.sa, nil
	}

	respSPI, err := m.freshSPI()
	if err != nil {
		seg.Unlock()
		return nil, err
	}
	newID := interfaces.SAID{InitSPI: key.InitSPI, RespSPI: respSPI, IsInitiator: key.IsInitiator}
	sa := m.factory.NewSA(newID)
	e := newEntry(newID, sa, seg)
	e.initHash = digest
	e.messageID = 0
	e.checkedOut = true
	// Reuses idx, the same hash(init_spi) bucket computed for the lookup
	// above: the entry's row is determined purely by its initiator SPI,
	// so creation and lookup must land in the same bucket.
	m.tbl.insert(idx, e)
	seg.count++
	seg.Unlock()
	m.observer.ObserveCheckout("message_init_new", true)
	return sa, nil
}

func (m *Manager) checkoutByOngoingMessage(key interfaces.SAID, msg interfaces.Message) (interfaces.SAHandle, error) {
	idx, seg := m.lockRow(key.InitSPI)
	var found *entry
	for _, e := range m.tbl.rows[idx].entries {
		if e.said.MatchAsInFlight(key) {
			found = e
			break
		}
	}
	if found == nil {
		seg.Unlock()
		m.observer.ObserveCheckout("message_ongoing", false)
		return nil, errCheckoutRejected("CheckoutByMessage", "no entry matches this message's SA-id")
	}
	if msg.IsRequest() && found.messageID == int64(msg.MessageID()) {
		seg.Unlock()
		m.logger.Debug("dropping retransmit", "init_spi", key.InitSPI, "message_id", msg.MessageID())
		m.observer.ObserveCheckout("message_ongoing_retransmit", false)
		return nil, errCheckoutRejected("CheckoutByMessage", "retransmit of message already being processed")
	}
	if !waitForEntry(found) {
		seg.Unlock()
		return nil, errCheckoutRejected("CheckoutByMessage", "matching entry is being driven out")
	}
	found.checkedOut = true
	found.messageID = int64(msg.MessageID())
	if found.said.RespSPI == 0 && key.RespSPI != 0 {
		found.said.RespSPI = key.RespSPI
	}
	seg.Unlock()
	m.observer.ObserveCheckout("message_ongoing", true)
	return found.sa, nil
}

// Checkin returns sa to the table, refreshing the entry's cached SA-id and
// identities from the handle's current values, and wakes any goroutine
// blocked in a wait_for_entry loop on it.
func (m *Manager) Checkin(sa interfaces.SAHandle) error {
	current := sa.ID()
	idx, seg := m.lockRow(current.InitSPI)
	for _, e := range m.tbl.rows[idx].entries {
		if e.sa != sa {
			continue
		}
		e.said = current
		e.checkedOut = false
		e.messageID = constants.NoMessageID
		e.otherHost = sa.OtherHost()
		if e.myID == nil || e.myID.IsAny() {
			e.myID = sa.MyID()
		}
		if e.otherID == nil || e.otherID.IsAny() {
			e.otherID = sa.OtherID()
		}
		e.cond.Signal()
		seg.Unlock()
		m.observer.ObserveCheckin(true)
		m.bus.SetCurrentSA(nil)
		return nil
	}
	seg.Unlock()
	m.observer.ObserveCheckin(false)
	m.bus.SetCurrentSA(nil)
	return errNotFound("Checkin", "sa is not registered with this manager")
}

// CheckinAndDestroy returns sa and immediately drives it out of the
// table: it rejects any future checkout, wakes and fails every goroutine
// currently waiting for it, removes it, and destroys the handle.
func (m *Manager) CheckinAndDestroy(sa interfaces.SAHandle) error {
	current := sa.ID()
	idx, seg := m.lockRow(current.InitSPI)
	var target *entry
	for _, e := range m.tbl.rows[idx].entries {
		if e.sa == sa {
			target = e
			break
		}
	}
	if target == nil {
		seg.Unlock()
		m.bus.SetCurrentSA(nil)
		return errNotFound("CheckinAndDestroy", "sa is not registered with this manager")
	}

	target.driveoutNew = true
	target.driveoutWaiting = true
	target.cond.Broadcast()
	for target.waiters > 0 {
		target.cond.Wait()
	}
	m.tbl.remove(idx, target)
	seg.count--
	seg.Unlock()

	m.bus.SetCurrentSA(nil)
	target.sa.Destroy()
	m.observer.ObserveDestroy()
	return nil
}

// Flush drives every entry out of the table, running each one's delete
// and destroy exactly once, and returns once the table is empty. No
// caller code runs while any segment mutex is held: every entry is
// detached from its row first, and all mutexes are released before
// Delete/Destroy are invoked.
func (m *Manager) Flush() {
	segs := m.tbl.segments
	for _, seg := range segs {
		seg.Lock()
	}

	for i := range m.tbl.rows {
		for _, e := range m.tbl.rows[i].entries {
			e.driveoutNew = true
			e.driveoutWaiting = true
		}
	}
	for i := range m.tbl.rows {
		for _, e := range m.tbl.rows[i].entries {
			e.cond.Broadcast()
			for e.waiters > 0 {
				e.cond.Wait()
			}
		}
	}

	var toDestroy []*entry
	for i := range m.tbl.rows {
		toDestroy = append(toDestroy, m.tbl.rows[i].entries...)
		m.tbl.rows[i].entries = nil
	}
	for _, seg := range segs {
		seg.count = 0
	}

	for _, seg := range segs {
		seg.Unlock()
	}

	for _, e := range toDestroy {
		m.bus.SetCurrentSA(e.sa)
		if err := e.sa.Delete(); err != nil {
			m.logger.Warn("flush: delete failed", "init_spi", e.said.InitSPI, "err", err.Error())
		}
		e.sa.Destroy()
	}
	m.bus.SetCurrentSA(nil)
	m.observer.ObserveFlush(len(toDestroy))
}

// HalfOpenCount counts responder entries still in StateConnecting. If ip
// is non-nil, only entries whose cached remote host equals ip are
// counted; this is the figure used for half-open DoS accounting.
func (m *Manager) HalfOpenCount(ip net.IP) int {
	en := m.NewEnumerator()
	defer en.Close()

	count := 0
	for {
		res, ok := en.Next()
		if !ok {
			break
		}
		if res.SA.ID().IsInitiator {
			continue
		}
		if res.SA.State() != interfaces.StateConnecting {
			continue
		}
		if ip != nil && !res.OtherHost.Equal(ip) {
			continue
		}
		count++
	}
	return count
}
