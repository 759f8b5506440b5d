package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
)

// SeedSize is the length in bytes of a day key or per-epoch seed.
const SeedSize = 32

// EphIDSize is the length in bytes of an ephemeral broadcast identifier.
// It matches the usable payload of a BLE advertisement.
const EphIDSize = 16

// Seed is a fixed-length secret. In the low-cost design it is the rotating
// per-day key SK_t; in the unlinkable design it is one of the independent
// per-epoch seeds. Seeds are secret until deliberately disclosed.
type Seed [SeedSize]byte

// NewSeedFromBytes creates a Seed from a byte slice.
// The input is copied; the caller may reuse the slice.
func NewSeedFromBytes(data []byte) (Seed, error) {
	var s Seed
	if len(data) != SeedSize {
		return s, errors.New("invalid seed size")
	}
	copy(s[:], data)
	return s, nil
}

// NewSeedFromString creates a Seed from a hex-encoded string.
func NewSeedFromString(data string) (Seed, error) {
	rawBytes, err := hex.DecodeString(data)
	if err != nil {
		return Seed{}, err
	}
	return NewSeedFromBytes(rawBytes)
}

// Bytes returns a copy of the seed material.
// This method should be used carefully as it exposes sensitive key material.
func (s Seed) Bytes() []byte {
	out := make([]byte, SeedSize)
	copy(out, s[:])
	return out
}

// Equal compares two seeds in constant time.
func (s Seed) Equal(other Seed) bool {
	return subtle.ConstantTimeCompare(s[:], other[:]) == 1
}

// String returns a hex-encoded representation of the seed.
// Intended for test vectors and debugging only.
func (s Seed) String() string {
	return hex.EncodeToString(s[:])
}

// GenerateSeed draws a fresh random seed from the process-wide
// cryptographically secure source.
func GenerateSeed() (Seed, error) {
	return GenerateSeedFrom(rand.Reader)
}

// GenerateSeedFrom draws a fresh seed from the given source. Production code
// should use GenerateSeed; tests may substitute a deterministic reader to
// make seed generation reproducible.
func GenerateSeedFrom(r io.Reader) (Seed, error) {
	var s Seed
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return s, err
	}
	return s, nil
}

// EphID is an ephemeral broadcast identifier, valid for exactly one epoch.
// EphIDs are public by construction: they are broadcast over the air and
// recorded by nearby devices.
type EphID [EphIDSize]byte

// NewEphIDFromBytes creates an EphID from a byte slice.
// The input is copied; the caller may reuse the slice.
func NewEphIDFromBytes(data []byte) (EphID, error) {
	var id EphID
	if len(data) != EphIDSize {
		return id, errors.New("invalid ephid size")
	}
	copy(id[:], data)
	return id, nil
}

// Bytes returns the identifier as a byte slice, for serialization or
// handing to the radio layer.
func (id EphID) Bytes() []byte {
	out := make([]byte, EphIDSize)
	copy(out, id[:])
	return out
}

// Equal compares two identifiers for equality.
func (id EphID) Equal(other EphID) bool {
	return id == other
}

// String returns a hex-encoded representation of the identifier.
func (id EphID) String() string {
	return hex.EncodeToString(id[:])
}
