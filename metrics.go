package ikesa

import "sync/atomic"

// Observer receives notifications of manager activity. The manager calls
// it inline with every operation, so implementations must not block or
// call back into the manager.
type Observer interface {
	// ObserveCheckout is called after checkout attempts by CheckoutNew,
	// Checkout, CheckoutByConfig and CheckoutByMessage. op identifies
	// which checkout variant ran (e.g. "new", "by_id",
	// "message_init_new"). CheckoutByID, CheckoutByName and
	// CheckoutDuplicate do not report to it, and neither does an RNG
	// failure or (outside Checkout) a driveout rejection.
	ObserveCheckout(op string, success bool)
	// ObserveCheckin is called after every checkin attempt.
	ObserveCheckin(success bool)
	// ObserveDestroy is called once per entry destroyed via
	// CheckinAndDestroy.
	ObserveDestroy()
	// ObserveFlush is called once per Flush call, with the number of
	// entries it destroyed.
	ObserveFlush(destroyed int)
}

// NoOpObserver discards everything. It is not the default: with no
// Observer configured, NewManager reports to its built-in Metrics.
type NoOpObserver struct{}

func (NoOpObserver) ObserveCheckout(string, bool) {}
func (NoOpObserver) ObserveCheckin(bool)          {}
func (NoOpObserver) ObserveDestroy()              {}
func (NoOpObserver) ObserveFlush(int)             {}

// Metrics accumulates manager activity counters. It is itself an
// Observer, so it can be passed directly to Options.Observer. The
// instance returned by Manager.Metrics() only counts when no other
// Observer is configured; otherwise it stays at zero.
type Metrics struct {
	checkouts          atomic.Uint64
	checkoutRejections atomic.Uint64
	checkins           atomic.Uint64
	checkinRejections  atomic.Uint64
	destroys           atomic.Uint64
	flushes            atomic.Uint64
	flushDestroyed     atomic.Uint64
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) ObserveCheckout(_ string, success bool) {
	if success {
		m.checkouts.Add(1)
	} else {
		m.checkoutRejections.Add(1)
	}
}

func (m *Metrics) ObserveCheckin(success bool) {
	if success {
		m.checkins.Add(1)
	} else {
		m.checkinRejections.Add(1)
	}
}

func (m *Metrics) ObserveDestroy() {
	m.destroys.Add(1)
}

func (m *Metrics) ObserveFlush(destroyed int) {
	m.flushes.Add(1)
	m.flushDestroyed.Add(uint64(destroyed))
}

// MetricsSnapshot is a point-in-time read of a Metrics, safe to retain
// and compare after the live counters have moved on.
type MetricsSnapshot struct {
	Checkouts          uint64
	CheckoutRejections uint64
	Checkins           uint64
	CheckinRejections  uint64
	Destroys           uint64
	Flushes            uint64
	FlushDestroyed     uint64
}

// Snapshot reads every counter into a MetricsSnapshot. The read is not
// atomic across fields, matching the manager's own "advisory, not
// globally consistent" accounting elsewhere.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Checkouts:          m.checkouts.Load(),
		CheckoutRejections: m.checkoutRejections.Load(),
		Checkins:           m.checkins.Load(),
		CheckinRejections:  m.checkinRejections.Load(),
		Destroys:           m.destroys.Load(),
		Flushes:            m.flushes.Load(),
		FlushDestroyed:     m.flushDestroyed.Load(),
	}
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.checkouts.Store(0)
	m.checkoutRejections.Store(0)
	m.checkins.Store(0)
	m.checkinRejections.Store(0)
	m.destroys.Store(0)
	m.flushes.Store(0)
	m.flushDestroyed.Store(0)
}
