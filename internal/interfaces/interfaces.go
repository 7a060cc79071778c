// Package interfaces defines the collaborator contracts the IKE SA manager
// consumes but does not implement: the SA handle itself, the identities it
// carries, the RNG and hasher it borrows for SPI generation and retransmit
// detection, the event bus it notifies at the edges of every operation, and
// the factory it uses to mint brand-new SA handles. Kept separate from the
// root package to avoid import cycles between the manager and its test
// doubles.
package interfaces

import "net"

// SAState is the lifecycle state of an SA handle, as observed by the
// manager. The manager never drives these transitions itself; it only
// reads State() for half-open accounting and checkout_by_config's reuse
// scan, and writes nothing.
type SAState int

const (
	StateCreated SAState = iota
	StateConnecting
	StateEstablished
	StateRekeying
	StateDeleting
	StateDestroying
)

func (s SAState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateRekeying:
		return "rekeying"
	case StateDeleting:
		return "deleting"
	case StateDestroying:
		return "destroying"
	default:
		return "unknown"
	}
}

// SAID identifies one IKE SA negotiation. The responder SPI is zero until
// the peer has chosen one. Equality is componentwise.
type SAID struct {
	InitSPI     uint64
	RespSPI     uint64
	IsInitiator bool
}

// Equal reports whether two SA-ids are componentwise identical.
func (id SAID) Equal(other SAID) bool {
	return id.InitSPI == other.InitSPI && id.RespSPI == other.RespSPI && id.IsInitiator == other.IsInitiator
}

// MatchAsInFlight reports whether id and other identify the same
// in-progress negotiation, tolerating a responder SPI that one side has
// not yet learned: a zero RespSPI on either side is a wildcard.
func (id SAID) MatchAsInFlight(other SAID) bool {
	if id.InitSPI != other.InitSPI || id.IsInitiator != other.IsInitiator {
		return false
	}
	if id.RespSPI == 0 || other.RespSPI == 0 {
		return true
	}
	return id.RespSPI == other.RespSPI
}

// Identity is an authenticated or configured peer identity (IKE ID
// payload). The zero value of an implementation's "any" identity matches
// everything it is compared against from the stored side.
type Identity interface {
	String() string
	IsAny() bool
	// Matches reports whether the receiver (the stored, possibly
	// wildcarded side) matches other (the concrete side being looked up).
	Matches(other Identity) bool
}

// ChildSA is the minimal view of a child SA the manager needs for
// checkout_by_id/checkout_by_name lookups.
type ChildSA struct {
	Reqid uint32
	Name  string
}

// SAHandle is the opaque, externally-owned IKE SA object the manager
// leases out to workers. The manager never interprets its internals; it
// only reads identity/state fields for lookup and caching, and calls
// Destroy/Delete when checkin-and-destroy or flush tears an entry down.
type SAHandle interface {
	ID() SAID
	SetID(SAID)

	State() SAState

	UniqueID() uint32
	Name() string

	MyID() Identity
	OtherID() Identity
	SetMyID(Identity)
	SetOtherID(Identity)

	MyHost() net.IP
	OtherHost() net.IP
	SetOtherHost(net.IP)

	// ConfigName names the peer configuration this SA was instantiated
	// from, used by checkout_by_config's reuse lookup. Empty until set.
	ConfigName() string
	SetConfigName(string)

	Children() []ChildSA

	// Destroy releases the handle's own resources. Called exactly once,
	// outside any segment mutex.
	Destroy()

	// Delete runs protocol-level teardown (e.g. sending a delete
	// notification to the peer). Called once by flush, outside any
	// segment mutex, before Destroy. checkin-and-destroy does not call
	// it; it only calls Destroy.
	Delete() error
}

// SAFactory constructs a brand-new SA handle for an entry the manager is
// about to create (checkout_new, an unmatched checkout_by_message, or a
// non-reusing checkout_by_config). The source language builds this object
// directly inside the manager; the Go realization injects it as a
// collaborator so the manager stays ignorant of SA construction.
type SAFactory interface {
	NewSA(id SAID) SAHandle
}

// RNG supplies uniformly random bytes, used to synthesize fresh SPIs.
type RNG interface {
	Fill(buf []byte) error
}

// Hasher supplies a cryptographic digest, used to fingerprint the first
// protocol message of a negotiation for retransmit detection.
type Hasher interface {
	Digest(data []byte) []byte
}

// EventBus is notified of which SA a calling thread is about to act on, at
// the edges of every manager operation. Nil clears the current SA.
type EventBus interface {
	SetCurrentSA(sa SAHandle)
}

// ExchangeType identifies the IKEv2 exchange an inbound Message belongs
// to. Only IKESAInit needs special handling in checkout_by_message; every
// other exchange type shares one code path.
type ExchangeType int

const (
	ExchangeUnknown ExchangeType = iota
	ExchangeIKESAInit
	ExchangeIKEAuth
	ExchangeCreateChildSA
	ExchangeInformational
)

// Message is the minimal view of a parsed inbound IKEv2 message the
// manager needs to route it to the right entry.
type Message interface {
	SAID() SAID
	IsRequest() bool
	MessageID() uint32
	ExchangeType() ExchangeType
	Bytes() []byte
}

// PeerConfig is the minimal view of a peer configuration the manager needs
// for checkout_by_config's reuse lookup.
type PeerConfig interface {
	Name() string
}
