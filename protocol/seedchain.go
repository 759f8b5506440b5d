package protocol

import (
	"fmt"

	"github.com/proxtrace/proxtrace/crypto"
)

// SeedChain maintains the low-cost variant's rotating day key. Rotation is
// strictly forward through the one-way function; the chain also retains the
// last RetentionDays keys read-only so that a past contagious day can still
// be disclosed.
type SeedChain struct {
	deriver      *crypto.Deriver
	current      crypto.Seed
	daysAdvanced int
	maxDays      int

	// past holds previously active keys, most recent first, capped at the
	// retention window. Entries are never re-activated.
	past      []crypto.Seed
	retention int

	epochsPerDay int
}

// NewSeedChain starts a chain at the given root key.
func NewSeedChain(deriver *crypto.Deriver, root crypto.Seed, maxDays, retentionDays, epochsPerDay int) *SeedChain {
	return &SeedChain{
		deriver:      deriver,
		current:      root,
		maxDays:      maxDays,
		retention:    retentionDays,
		epochsPerDay: epochsPerDay,
	}
}

// Rotate replaces the current key with H(current). Deterministic given the
// root and rotation count, so chains are reproducible for test vectors.
func (c *SeedChain) Rotate() error {
	if c.daysAdvanced >= c.maxDays {
		return fmt.Errorf("%w after %d days", ErrChainExhausted, c.daysAdvanced)
	}

	c.past = append([]crypto.Seed{c.current}, c.past...)
	if len(c.past) > c.retention {
		c.past = c.past[:c.retention]
	}

	c.current = c.deriver.NextDayKey(c.current)
	c.daysAdvanced++
	return nil
}

// Current returns the active day key.
func (c *SeedChain) Current() crypto.Seed {
	return c.current
}

// DaysAdvanced returns how many times the chain has rotated since its root.
func (c *SeedChain) DaysAdvanced() int {
	return c.daysAdvanced
}

// KeyForDaysBack returns the key that was active n days ago; n = 0 is the
// current key. Keys outside the retention window are gone for good.
func (c *SeedChain) KeyForDaysBack(n int) (crypto.Seed, error) {
	if n == 0 {
		return c.current, nil
	}
	if n < 0 || n > len(c.past) {
		return crypto.Seed{}, fmt.Errorf("%w: key for %d days back not retained", ErrTimeOutOfRange, n)
	}
	return c.past[n-1], nil
}

// DeriveEphID returns PRF(current key, epoch) for a day-relative epoch index.
func (c *SeedChain) DeriveEphID(epoch int) (crypto.EphID, error) {
	if epoch < 0 || epoch >= c.epochsPerDay {
		return crypto.EphID{}, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidEpoch, epoch, c.epochsPerDay)
	}
	return c.deriver.EphIDForEpoch(c.current, epoch), nil
}

// Reset replaces the chain with a fresh root and destroys the retained
// history. Called after a disclosure so that future broadcasts cannot be
// linked to the published key.
func (c *SeedChain) Reset(root crypto.Seed) {
	c.current = root
	c.past = nil
	c.daysAdvanced = 0
}
