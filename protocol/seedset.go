package protocol

import (
	"fmt"
	"io"

	"github.com/proxtrace/proxtrace/crypto"
)

// SeedSet maintains the unlinkable variant's per-epoch seeds: one fresh
// random seed per epoch per day. Past days' seeds are retained read-only so
// they can be disclosed after a diagnosis, until Purge removes them.
type SeedSet struct {
	deriver      *crypto.Deriver
	rand         io.Reader
	epochsPerDay int

	days       map[Day][]crypto.Seed
	currentDay Day
}

// NewSeedSet creates an empty set. Seeds are drawn from r, which must be a
// cryptographically secure source in production.
func NewSeedSet(deriver *crypto.Deriver, r io.Reader, epochsPerDay int) *SeedSet {
	return &SeedSet{
		deriver:      deriver,
		rand:         r,
		epochsPerDay: epochsPerDay,
		days:         make(map[Day][]crypto.Seed),
	}
}

// NewDay draws a full day's worth of independent seeds and makes day the
// active one. A day's seeds are drawn exactly once; regenerating an existing
// day would detach its seeds from identifiers already broadcast.
func (s *SeedSet) NewDay(day Day) error {
	if _, exists := s.days[day]; exists {
		return fmt.Errorf("%w: seeds for day %d already drawn", ErrAlreadyRotated, day.Unix())
	}

	seeds := make([]crypto.Seed, s.epochsPerDay)
	for i := range seeds {
		seed, err := crypto.GenerateSeedFrom(s.rand)
		if err != nil {
			return fmt.Errorf("draw epoch seed: %w", err)
		}
		seeds[i] = seed
	}

	s.days[day] = seeds
	s.currentDay = day
	return nil
}

// DeriveEphID returns the identifier for the active day's epoch.
func (s *SeedSet) DeriveEphID(epoch int) (crypto.EphID, error) {
	seed, err := s.Seed(s.currentDay, epoch)
	if err != nil {
		return crypto.EphID{}, err
	}
	return s.deriver.EphIDFromSeed(seed), nil
}

// Seed returns one retained seed.
func (s *SeedSet) Seed(day Day, epoch int) (crypto.Seed, error) {
	if epoch < 0 || epoch >= s.epochsPerDay {
		return crypto.Seed{}, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidEpoch, epoch, s.epochsPerDay)
	}
	seeds, ok := s.days[day]
	if !ok {
		return crypto.Seed{}, fmt.Errorf("%w: no seeds for day %d", ErrTimeOutOfRange, day.Unix())
	}
	return seeds[epoch], nil
}

// Disclose returns the seeds for a caller-specified set of epochs of one day,
// in the order requested. Used to build a disclosure payload.
func (s *SeedSet) Disclose(day Day, epochs []int) ([]crypto.Seed, error) {
	out := make([]crypto.Seed, 0, len(epochs))
	for _, epoch := range epochs {
		seed, err := s.Seed(day, epoch)
		if err != nil {
			return nil, err
		}
		out = append(out, seed)
	}
	return out, nil
}

// Purge drops retained seeds for all days before the cutoff.
func (s *SeedSet) Purge(before Day) {
	for day := range s.days {
		if day < before {
			delete(s.days, day)
		}
	}
}
