// Package rng provides the manager's default RNG collaborator.
package rng

import "crypto/rand"

// CryptoRNG fills buffers from the operating system's CSPRNG. SPI
// generation needs uniformly random, unpredictable bytes — exactly
// crypto/rand.Read's contract — and no dependency in the retrieval pack
// exposes a narrower "fill this buffer" RNG surface, so this one concern
// is left on the standard library.
type CryptoRNG struct{}

// New returns the default RNG collaborator.
func New() CryptoRNG { return CryptoRNG{} }

// Fill writes len(buf) cryptographically random bytes into buf.
func (CryptoRNG) Fill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}
