package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// broadcastKeyInfo is the domain-separation string that turns a day key into
// the AES-CTR stream key for EphID expansion.
var broadcastKeyInfo = []byte("broadcast key")

// HashAlgo identifies the one-way function used for chain rotation and
// identifier derivation.
type HashAlgo string

const (
	// HashSHA256 is the default algorithm and matches the published
	// protocol test vectors.
	HashSHA256 HashAlgo = "sha256"

	// HashSHA3256 selects SHA3-256. Interoperable deployments must agree
	// on the algorithm out-of-band.
	HashSHA3256 HashAlgo = "sha3-256"
)

// Deriver evaluates the protocol's one-way and pseudorandom functions for a
// fixed algorithm choice. Construction is the only place an algorithm
// identifier is validated; a successfully built Deriver never fails on a
// per-call basis.
type Deriver struct {
	algo   HashAlgo
	hasher func() hash.Hash
}

// NewDeriver validates the algorithm identifier and returns a Deriver for it.
func NewDeriver(algo HashAlgo) (*Deriver, error) {
	d := &Deriver{algo: algo}
	switch algo {
	case HashSHA256:
		d.hasher = sha256.New
	case HashSHA3256:
		d.hasher = sha3.New256
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
	return d, nil
}

// Algo returns the configured algorithm identifier.
func (d *Deriver) Algo() HashAlgo {
	return d.algo
}

func (d *Deriver) digest(data ...[]byte) [32]byte {
	h := d.hasher()
	for _, b := range data {
		h.Write(b)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// NextDayKey advances the low-cost chain one day: SK_{t+1} = H(SK_t).
// The function is one-way; yesterday's key cannot be recovered from today's.
func (d *Deriver) NextDayKey(sk Seed) Seed {
	return Seed(d.digest(sk[:]))
}

// BroadcastStreamKey derives the AES-CTR stream key for a day's EphID table
// as HMAC(SK_t, "broadcast key").
func (d *Deriver) BroadcastStreamKey(sk Seed) [32]byte {
	mac := hmac.New(d.hasher, sk[:])
	mac.Write(broadcastKeyInfo)
	var out [32]byte
	mac.Sum(out[:0])
	return out
}

// EphIDsForDay expands a day key into the full table of n identifiers by
// running AES in CTR mode as a stream cipher over an all-zero plaintext.
// Table entry i is the i-th EphIDSize-byte window of the keystream.
//
// The returned table is in epoch order; broadcast-order shuffling is the
// caller's concern.
func (d *Deriver) EphIDsForDay(sk Seed, n int) []EphID {
	streamKey := d.BroadcastStreamKey(sk)
	block, err := aes.NewCipher(streamKey[:])
	if err != nil {
		// AES-256 key size is fixed by construction.
		panic(err)
	}

	var iv [aes.BlockSize]byte
	stream := cipher.NewCTR(block, iv[:])

	keystream := make([]byte, n*EphIDSize)
	stream.XORKeyStream(keystream, keystream)

	ids := make([]EphID, n)
	for i := range ids {
		copy(ids[i][:], keystream[i*EphIDSize:(i+1)*EphIDSize])
	}
	return ids
}

// EphIDForEpoch derives the single identifier PRF(SK_t, epoch) without
// materializing the whole table. An EphID spans exactly one AES block, so the
// CTR counter can be seeked directly to the epoch index. The result is
// bit-identical to EphIDsForDay(sk, n)[epoch].
func (d *Deriver) EphIDForEpoch(sk Seed, epoch int) EphID {
	streamKey := d.BroadcastStreamKey(sk)
	block, err := aes.NewCipher(streamKey[:])
	if err != nil {
		panic(err)
	}

	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[8:], uint64(epoch))

	var id EphID
	block.Encrypt(id[:], iv[:])
	return id
}

// EphIDFromSeed maps an independent per-epoch seed to its identifier in the
// unlinkable design: EphID = H(seed) truncated to EphIDSize.
func (d *Deriver) EphIDFromSeed(seed Seed) EphID {
	raw := d.digest(seed[:])
	var id EphID
	copy(id[:], raw[:EphIDSize])
	return id
}

// HashedObservation binds an observed identifier to the epoch it was seen in:
// H(EphID || epoch) with the epoch encoded as 4 big-endian bytes. Both sides
// of a disclosure compute this digest, so its encoding is part of the wire
// format and must not change.
func (d *Deriver) HashedObservation(id EphID, epoch uint32) [32]byte {
	var epochBytes [4]byte
	binary.BigEndian.PutUint32(epochBytes[:], epoch)
	return d.digest(id[:], epochBytes[:])
}

// HashedObservationFromSeed computes the hashed observation an honest
// observer of this seed's identifier would have recorded for the epoch.
func (d *Deriver) HashedObservationFromSeed(seed Seed, epoch uint32) [32]byte {
	return d.HashedObservation(d.EphIDFromSeed(seed), epoch)
}
