// Package cuckoo implements the compact membership structure used by the
// unlinkable disclosure payload.
//
// The structure is a partial-key cuckoo filter: each item is reduced to a
// short fingerprint stored in one of two buckets, with the alternate bucket
// computed from the fingerprint alone so that relocation never needs the
// original item. Membership tests have zero false negatives for inserted
// items and a false-positive probability bounded by the fingerprint width,
// which is sized from the configured target rate.
//
// All hashing inside the filter is keyed. The 16-byte filter key is chosen at
// random when the filter is built and recorded in the serialized header, so a
// verifier that decodes a published filter derives the same bucket indices
// and fingerprints and can query it reproducibly. The index, alternate-index
// and fingerprint subkeys are expanded from the filter key with HKDF.
package cuckoo
