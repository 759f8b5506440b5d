package protocol

import (
	"fmt"
	"io"

	"github.com/proxtrace/proxtrace/crypto"
)

// EphIDTable holds one day's broadcast identifiers, indexed by day-relative
// epoch. The table is regenerated whole at each day rotation and is the only
// structure the radio layer reads from.
type EphIDTable struct {
	day Day
	ids []crypto.EphID
}

// Day returns the day this table covers.
func (t *EphIDTable) Day() Day {
	return t.day
}

// IDAt returns the identifier to broadcast during an epoch.
func (t *EphIDTable) IDAt(epoch int) (crypto.EphID, error) {
	if epoch < 0 || epoch >= len(t.ids) {
		return crypto.EphID{}, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidEpoch, epoch, len(t.ids))
	}
	return t.ids[epoch], nil
}

// newLowCostTable expands a day key into the broadcast table. A non-nil
// shuffleRand decouples broadcast order from derivation order so an observer
// cannot infer epoch indices from the table; nil keeps derivation order for
// test-vector reproduction.
func newLowCostTable(deriver *crypto.Deriver, key crypto.Seed, day Day, epochsPerDay int, shuffleRand io.Reader) (*EphIDTable, error) {
	ids := deriver.EphIDsForDay(key, epochsPerDay)
	if shuffleRand != nil {
		if err := crypto.SecureShuffleFrom(shuffleRand, ids); err != nil {
			return nil, err
		}
	}
	return &EphIDTable{day: day, ids: ids}, nil
}

// newUnlinkableTable derives the broadcast table from a day's seed set. Seeds
// are independent, so no shuffle is needed; the identifiers carry no
// cross-epoch structure to hide.
func newUnlinkableTable(set *SeedSet, day Day, epochsPerDay int) (*EphIDTable, error) {
	ids := make([]crypto.EphID, epochsPerDay)
	for i := range ids {
		seed, err := set.Seed(day, i)
		if err != nil {
			return nil, err
		}
		ids[i] = set.deriver.EphIDFromSeed(seed)
	}
	return &EphIDTable{day: day, ids: ids}, nil
}
