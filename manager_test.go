package ikesa

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := Config{TableSize: 16, SegmentCount: 4, ReuseIKESA: true}
	mgr, err := NewManager(cfg, &MockFactory{}, &MockRNG{}, MockHasher{}, &MockBus{}, nil)
	require.NoError(t, err)
	return mgr
}

func TestNewManagerRejectsNilCollaborators(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewManager(cfg, nil, &MockRNG{}, MockHasher{}, &MockBus{}, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeInvalidConfig))

	_, err = NewManager(cfg, &MockFactory{}, nil, MockHasher{}, &MockBus{}, nil)
	require.Error(t, err)

	_, err = NewManager(cfg, &MockFactory{}, &MockRNG{}, nil, &MockBus{}, nil)
	require.Error(t, err)

	_, err = NewManager(cfg, &MockFactory{}, &MockRNG{}, MockHasher{}, nil, nil)
	require.Error(t, err)
}

func TestCheckoutNewAndCheckinRoundtrip(t *testing.T) {
	mgr := newTestManager(t)

	sa, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	require.Equal(t, 1, mgr.Len())

	require.NoError(t, mgr.Checkin(sa))

	sa2, err := mgr.Checkout(sa.ID())
	require.NoError(t, err)
	require.Same(t, sa, sa2)
	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutMatchAsInFlightIgnoresUnknownResponderSPI(t *testing.T) {
	mgr := newTestManager(t)

	sa, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	require.NoError(t, mgr.Checkin(sa))

	lookup := SAID{InitSPI: sa.ID().InitSPI, RespSPI: 0xFFFF, IsInitiator: true}
	sa2, err := mgr.Checkout(lookup)
	require.NoError(t, err)
	require.Same(t, sa, sa2)
	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutMissingReturnsRejected(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Checkout(SAID{InitSPI: 0xDEAD, IsInitiator: true})
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeCheckoutRejected))
}

func TestCheckoutByMessageInitRequestCreatesResponderEntry(t *testing.T) {
	mgr := newTestManager(t)
	msg := MockMessage{
		Said:     SAID{InitSPI: 0x1111, IsInitiator: true},
		Request:  true,
		Exchange: ExchangeIKESAInit,
		Payload:  []byte("ike-sa-init-1"),
	}

	sa, err := mgr.CheckoutByMessage(msg)
	require.NoError(t, err)
	require.False(t, sa.ID().IsInitiator, "we are the responder for an inbound IKE_SA_INIT request")
	require.Equal(t, uint64(0x1111), sa.ID().InitSPI)
	require.NotZero(t, sa.ID().RespSPI)

	require.NoError(t, mgr.Checkin(sa))
}

func TestCheckoutByMessageInitRetransmitDroppedWhileInFlight(t *testing.T) {
	mgr := newTestManager(t)
	msg := MockMessage{
		Said:     SAID{InitSPI: 0x2222, IsInitiator: true},
		Request:  true,
		Exchange: ExchangeIKESAInit,
		Payload:  []byte("ike-sa-init-2"),
	}

	sa, err := mgr.CheckoutByMessage(msg)
	require.NoError(t, err)

	// Same message arrives again before the first is checked in: it must
	// be dropped as a retransmit of the in-flight request, not
	// re-delivered.
	_, err = mgr.CheckoutByMessage(msg)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeCheckoutRejected))

	require.NoError(t, mgr.Checkin(sa))

	// After checkin, the same bytes constitute a duplicate of a
	// completed exchange and may be reacquired.
	sa2, err := mgr.CheckoutByMessage(msg)
	require.NoError(t, err)
	require.Same(t, sa, sa2)
	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutByMessageFillsResponderSPI(t *testing.T) {
	mgr := newTestManager(t)

	sa, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	initSPI := sa.ID().InitSPI
	require.NoError(t, mgr.Checkin(sa))

	msg := MockMessage{
		Said:    SAID{InitSPI: initSPI, RespSPI: 0xABCD, IsInitiator: false},
		Request: false,
	}
	sa2, err := mgr.CheckoutByMessage(msg)
	require.NoError(t, err)
	require.Same(t, sa, sa2)

	idx, seg := mgr.lockRow(initSPI)
	var got SAID
	for _, e := range mgr.tbl.rows[idx].entries {
		if e.sa == sa2 {
			got = e.said
		}
	}
	seg.Unlock()
	require.Equal(t, uint64(0xABCD), got.RespSPI)

	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutByMessageOngoingRetransmitDropped(t *testing.T) {
	mgr := newTestManager(t)
	sa, err := mgr.CheckoutNew(false)
	require.NoError(t, err)
	require.NoError(t, mgr.Checkin(sa))

	msg := MockMessage{
		Said:    SAID{InitSPI: sa.ID().InitSPI, RespSPI: sa.ID().RespSPI, IsInitiator: true},
		Request: true,
		MsgID:   5,
	}
	sa2, err := mgr.CheckoutByMessage(msg)
	require.NoError(t, err)
	require.Same(t, sa, sa2)

	_, err = mgr.CheckoutByMessage(msg)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeCheckoutRejected))

	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutByConfigReusesEstablishedSA(t *testing.T) {
	mgr := newTestManager(t)
	cfg := MockPeerConfig{Named: "peer-a"}
	myID := MockIdentity{Value: "me"}
	otherID := MockIdentity{Value: "peer"}
	myHost := net.ParseIP("10.0.0.1")
	otherHost := net.ParseIP("10.0.0.2")

	sa1, err := mgr.CheckoutByConfig(cfg, myID, otherID, myHost, otherHost)
	require.NoError(t, err)

	h := sa1.(*MockSAHandle)
	h.SetMyID(myID)
	h.SetOtherID(otherID)
	h.SetMyHost(myHost)
	h.SetOtherHost(otherHost)
	require.NoError(t, mgr.Checkin(sa1))

	sa2, err := mgr.CheckoutByConfig(cfg, myID, otherID, myHost, otherHost)
	require.NoError(t, err)
	require.Same(t, sa1, sa2, "matching config/identities/hosts should reuse the existing SA")
	require.Equal(t, 1, mgr.Len())
	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutByConfigSkipsEntriesWithUnknownIdentity(t *testing.T) {
	mgr := newTestManager(t)
	cfg := MockPeerConfig{Named: "peer-a"}
	myHost := net.ParseIP("10.0.0.1")
	otherHost := net.ParseIP("10.0.0.2")

	sa1, err := mgr.CheckoutByConfig(cfg, MockIdentity{Value: "me"}, MockIdentity{Value: "peer"}, myHost, otherHost)
	require.NoError(t, err)
	require.NoError(t, mgr.Checkin(sa1)) // identities never set: stay "any"

	sa2, err := mgr.CheckoutByConfig(cfg, MockIdentity{Value: "me"}, MockIdentity{Value: "peer"}, myHost, otherHost)
	require.NoError(t, err)
	require.NotSame(t, sa1, sa2, "an entry with unresolved identities must not be reused")
	require.Equal(t, 2, mgr.Len())
	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutByConfigReusesEntryWithOneUnresolvedIdentity(t *testing.T) {
	mgr := newTestManager(t)
	cfg := MockPeerConfig{Named: "peer-a"}
	myID := MockIdentity{Value: "me"}
	otherID := MockIdentity{Value: "peer"}
	myHost := net.ParseIP("10.0.0.1")
	otherHost := net.ParseIP("10.0.0.2")

	sa1, err := mgr.CheckoutByConfig(cfg, myID, otherID, myHost, otherHost)
	require.NoError(t, err)
	h := sa1.(*MockSAHandle)
	h.SetMyID(myID) // otherID is left unresolved ("any")
	h.SetMyHost(myHost)
	h.SetOtherHost(otherHost)
	require.NoError(t, mgr.Checkin(sa1))

	sa2, err := mgr.CheckoutByConfig(cfg, myID, otherID, myHost, otherHost)
	require.NoError(t, err)
	require.Same(t, sa1, sa2, "an entry with only one side still unresolved should still be reusable")
	require.Equal(t, 1, mgr.Len())
	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutByConfigWildcardRequestedHostReusesConcreteEntry(t *testing.T) {
	mgr := newTestManager(t)
	cfg := MockPeerConfig{Named: "road-warrior"}
	myID := MockIdentity{Value: "me"}
	otherID := MockIdentity{Value: "peer"}
	myHost := net.ParseIP("10.0.0.1")
	otherHost := net.ParseIP("10.0.0.2")

	sa1, err := mgr.CheckoutByConfig(cfg, myID, otherID, myHost, otherHost)
	require.NoError(t, err)
	h := sa1.(*MockSAHandle)
	h.SetMyID(myID)
	h.SetOtherID(otherID)
	h.SetMyHost(myHost)
	h.SetOtherHost(otherHost)
	require.NoError(t, mgr.Checkin(sa1))

	// A config whose remote address is "%any" looks up with a nil/unspecified
	// otherHost: that should still match the concrete negotiated peer.
	sa2, err := mgr.CheckoutByConfig(cfg, myID, otherID, myHost, nil)
	require.NoError(t, err)
	require.Same(t, sa1, sa2, "a wildcarded requested host should match any concrete entry host")
	require.Equal(t, 1, mgr.Len())
	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutByConfigDisabledAlwaysCreatesNew(t *testing.T) {
	cfg := Config{TableSize: 16, SegmentCount: 4, ReuseIKESA: false}
	mgr, err := NewManager(cfg, &MockFactory{}, &MockRNG{}, MockHasher{}, &MockBus{}, nil)
	require.NoError(t, err)

	pcfg := MockPeerConfig{Named: "peer-a"}
	myID := MockIdentity{Value: "me"}
	otherID := MockIdentity{Value: "peer"}
	myHost := net.ParseIP("10.0.0.1")
	otherHost := net.ParseIP("10.0.0.2")

	sa1, err := mgr.CheckoutByConfig(pcfg, myID, otherID, myHost, otherHost)
	require.NoError(t, err)
	sa1.(*MockSAHandle).SetMyID(myID)
	sa1.(*MockSAHandle).SetOtherID(otherID)
	require.NoError(t, mgr.Checkin(sa1))

	sa2, err := mgr.CheckoutByConfig(pcfg, myID, otherID, myHost, otherHost)
	require.NoError(t, err)
	require.NotSame(t, sa1, sa2)
	require.Equal(t, 2, mgr.Len())
	require.NoError(t, mgr.Checkin(sa2))
}

func TestCheckoutDuplicateFindsOtherEntryWithSameIdentities(t *testing.T) {
	mgr := newTestManager(t)

	saA, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	saA.(*MockSAHandle).SetMyID(MockIdentity{Value: "me"})
	saA.(*MockSAHandle).SetOtherID(MockIdentity{Value: "peer"})
	require.NoError(t, mgr.Checkin(saA))

	saB, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	saB.(*MockSAHandle).SetMyID(MockIdentity{Value: "me"})
	saB.(*MockSAHandle).SetOtherID(MockIdentity{Value: "peer"})
	require.NoError(t, mgr.Checkin(saB))

	saA2, err := mgr.Checkout(saA.ID())
	require.NoError(t, err)

	dup, err := mgr.CheckoutDuplicate(saA2)
	require.NoError(t, err)
	require.Same(t, saB, dup)

	require.NoError(t, mgr.Checkin(saA2))
	require.NoError(t, mgr.Checkin(dup))
}

func TestCheckoutDuplicateBlocksUntilCheckedIn(t *testing.T) {
	mgr := newTestManager(t)

	saA, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	saA.(*MockSAHandle).SetMyID(MockIdentity{Value: "me"})
	saA.(*MockSAHandle).SetOtherID(MockIdentity{Value: "peer"})
	require.NoError(t, mgr.Checkin(saA))

	saB, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	saB.(*MockSAHandle).SetMyID(MockIdentity{Value: "me"})
	saB.(*MockSAHandle).SetOtherID(MockIdentity{Value: "peer"})
	require.NoError(t, mgr.Checkin(saB))
	_, err = mgr.Checkout(saB.ID())
	require.NoError(t, err)
	// saB stays checked out.

	done := make(chan SAHandle, 1)
	go func() {
		dup, err := mgr.CheckoutDuplicate(saA)
		require.NoError(t, err)
		done <- dup
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("CheckoutDuplicate returned before the duplicate was checked in")
	default:
	}

	require.NoError(t, mgr.Checkin(saB))
	dup := <-done
	require.Same(t, saB, dup)
	require.NoError(t, mgr.Checkin(dup))
}

func TestCheckinAndDestroyRemovesEntry(t *testing.T) {
	mgr := newTestManager(t)
	sa, err := mgr.CheckoutNew(true)
	require.NoError(t, err)

	require.NoError(t, mgr.CheckinAndDestroy(sa))
	require.Equal(t, 0, mgr.Len())
	require.Equal(t, 1, sa.(*MockSAHandle).DestroyCalls)

	_, err = mgr.Checkout(sa.ID())
	require.Error(t, err)
}

func TestCheckinAndDestroyWakesBlockedCheckout(t *testing.T) {
	mgr := newTestManager(t)
	sa, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	id := sa.ID()

	blocked := make(chan error, 1)
	go func() {
		_, err := mgr.Checkout(id)
		blocked <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, mgr.CheckinAndDestroy(sa))

	err = <-blocked
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeCheckoutRejected))
}

func TestFlushDestroysEveryEntry(t *testing.T) {
	mgr := newTestManager(t)
	sa1, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	require.NoError(t, mgr.Checkin(sa1))
	sa2, err := mgr.CheckoutNew(false)
	require.NoError(t, err)
	require.NoError(t, mgr.Checkin(sa2))

	require.Equal(t, 2, mgr.Len())
	mgr.Flush()
	require.Equal(t, 0, mgr.Len())

	require.Equal(t, 1, sa1.(*MockSAHandle).DeleteCalls)
	require.Equal(t, 1, sa1.(*MockSAHandle).DestroyCalls)
	require.Equal(t, 1, sa2.(*MockSAHandle).DeleteCalls)
	require.Equal(t, 1, sa2.(*MockSAHandle).DestroyCalls)

	snap := mgr.Metrics().Snapshot()
	require.Equal(t, uint64(1), snap.Flushes)
	require.Equal(t, uint64(2), snap.FlushDestroyed)
}

func TestFlushUnderConcurrentCheckoutLoad(t *testing.T) {
	mgr := newTestManager(t)

	const workers = 16
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				sa, err := mgr.CheckoutNew(true)
				if err != nil {
					continue
				}
				_ = mgr.Checkin(sa)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	mgr.Flush()
	close(stop)
	wg.Wait()

	mgr.Flush()
	require.Equal(t, 0, mgr.Len())
}

func TestHalfOpenCount(t *testing.T) {
	mgr := newTestManager(t)
	msg := MockMessage{
		Said:     SAID{InitSPI: 0x3333, IsInitiator: true},
		Request:  true,
		Exchange: ExchangeIKESAInit,
		Payload:  []byte("half-open-probe"),
	}
	sa, err := mgr.CheckoutByMessage(msg)
	require.NoError(t, err)

	h := sa.(*MockSAHandle)
	h.SetState(StateConnecting)
	otherHost := net.ParseIP("1.2.3.4")
	h.SetOtherHost(otherHost)
	require.NoError(t, mgr.Checkin(sa))

	require.Equal(t, 1, mgr.HalfOpenCount(nil))
	require.Equal(t, 1, mgr.HalfOpenCount(otherHost))
	require.Equal(t, 0, mgr.HalfOpenCount(net.ParseIP("9.9.9.9")))
}

func TestLiveEnumeratorYieldsAndLeasesEveryEntry(t *testing.T) {
	mgr := newTestManager(t)
	sa1, err := mgr.CheckoutNew(true)
	require.NoError(t, err)
	require.NoError(t, mgr.Checkin(sa1))
	sa2, err := mgr.CheckoutNew(false)
	require.NoError(t, err)
	require.NoError(t, mgr.Checkin(sa2))

	en := mgr.NewLiveEnumerator()
	seen := map[SAHandle]bool{}
	for {
		sa, ok := en.Next()
		if !ok {
			break
		}
		seen[sa] = true
		require.NoError(t, mgr.Checkin(sa))
	}
	require.Len(t, seen, 2)
	require.True(t, seen[sa1])
	require.True(t, seen[sa2])
}
