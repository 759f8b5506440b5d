// Package crypto provides the cryptographic primitives for proximity tracing.
//
// This package implements the low-level derivations shared by both protocol
// variants:
//
//   - Day-key chains: SK_{t+1} = H(SK_t), a one-way rotation that gives
//     forward secrecy (disclosing today's key reveals nothing about
//     yesterday's identifiers)
//   - Ephemeral identifier derivation: an HMAC-keyed AES-CTR stream expands a
//     day key into the day's EphID table (low-cost variant), and a truncated
//     hash maps an independent per-epoch seed to its EphID (unlinkable
//     variant)
//   - Hashed observations: the epoch-bound digests inserted into and queried
//     against compact disclosure filters
//
// The one-way function used by the chain is selectable at construction time
// (SHA-256 by default, SHA3-256 as an alternative); an unsupported algorithm
// identifier fails when the Deriver is built, never during per-call
// derivation.
//
// All derivations are deterministic given their inputs so that test vectors
// are bit-reproducible. Randomness enters only through GenerateSeed and
// SecureShuffle, which draw from a caller-supplied or process-wide
// cryptographically secure source.
package crypto
