// Package ikesa implements the IKE SA manager: a concurrent registry of
// in-progress and established IKEv2 SAs, keyed by SA-id and sharded across
// a fixed set of locks so unrelated negotiations never contend with each
// other.
//
// The manager owns lifecycle and lookup only. It never parses packets,
// never runs cryptography, and never speaks to the network; those concerns
// live behind the collaborator interfaces in internal/interfaces and are
// supplied by the caller.
package ikesa

import "github.com/behrlich/go-ikesa/internal/interfaces"

// Re-exported collaborator types, so callers only ever import the root
// package.
type (
	SAID         = interfaces.SAID
	SAState      = interfaces.SAState
	Identity     = interfaces.Identity
	ChildSA      = interfaces.ChildSA
	SAHandle     = interfaces.SAHandle
	SAFactory    = interfaces.SAFactory
	RNG          = interfaces.RNG
	Hasher       = interfaces.Hasher
	EventBus     = interfaces.EventBus
	ExchangeType = interfaces.ExchangeType
	Message      = interfaces.Message
	PeerConfig   = interfaces.PeerConfig
)

const (
	StateCreated     = interfaces.StateCreated
	StateConnecting  = interfaces.StateConnecting
	StateEstablished = interfaces.StateEstablished
	StateRekeying    = interfaces.StateRekeying
	StateDeleting    = interfaces.StateDeleting
	StateDestroying  = interfaces.StateDestroying

	ExchangeUnknown       = interfaces.ExchangeUnknown
	ExchangeIKESAInit     = interfaces.ExchangeIKESAInit
	ExchangeIKEAuth       = interfaces.ExchangeIKEAuth
	ExchangeCreateChildSA = interfaces.ExchangeCreateChildSA
	ExchangeInformational = interfaces.ExchangeInformational
)
