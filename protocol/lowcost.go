package protocol

import (
	"fmt"
	"time"

	"github.com/proxtrace/proxtrace/crypto"
)

// lowCostTracer implements the hash-chained design. Disclosure publishes the
// day key for the first contagious day; verifiers walk the chain forward and
// re-derive every subsequent day's identifiers from it.
type lowCostTracer struct {
	*tracerBase
	chain *SeedChain
}

func newLowCostTracer(base *tracerBase, rootSeed *crypto.Seed) (*lowCostTracer, error) {
	var root crypto.Seed
	var err error
	if rootSeed != nil {
		root = *rootSeed
	} else if root, err = crypto.GenerateSeedFrom(base.rand); err != nil {
		return nil, fmt.Errorf("generate root day key: %w", err)
	}

	t := &lowCostTracer{
		tracerBase: base,
		chain: NewSeedChain(base.deriver, root, base.cfg.MaxChainDays,
			base.cfg.RetentionDays, base.cfg.EpochsPerDay),
	}
	if err := t.regenerateTable(base.Today()); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *lowCostTracer) regenerateTable(day Day) error {
	table, err := newLowCostTable(t.deriver, t.chain.Current(), day,
		t.cfg.EpochsPerDay, t.shuffleRand())
	if err != nil {
		return fmt.Errorf("generate ephid table: %w", err)
	}
	t.table = table
	return nil
}

// NextDay implements ContactTracer. Every fallible step runs before any state
// commits: the next day's table is built from the derived next key first, so
// a failure leaves the chain, the table, and the day all on yesterday.
func (t *lowCostTracer) NextDay() error {
	next, err := t.beginRotation()
	if err != nil {
		return err
	}
	table, err := newLowCostTable(t.deriver, t.deriver.NextDayKey(t.chain.Current()),
		next, t.cfg.EpochsPerDay, t.shuffleRand())
	if err != nil {
		t.abortRotation(next)
		return fmt.Errorf("generate ephid table: %w", err)
	}
	if err := t.chain.Rotate(); err != nil {
		t.abortRotation(next)
		return err
	}
	t.table = table
	t.contacts.AdvanceDay(next)
	t.log.Debug("rotated to next day", "day", next.Start(), "chain_days", t.chain.DaysAdvanced())
	return nil
}

// GetTracingInformation implements ContactTracer. The low-cost design
// discloses a single key; lastContagious is accepted for interface
// compatibility but the chain covers everything after firstContagious anyway.
// After a successful disclosure the current key is replaced with a fresh
// random one and the retained history destroyed, so future broadcasts cannot
// be linked to the published key.
func (t *lowCostTracer) GetTracingInformation(firstContagious, _ time.Time) (TracingDataBatch, error) {
	firstDay := DayOf(firstContagious)
	daysBack := t.Today().Sub(firstDay)
	if daysBack < 0 {
		return nil, fmt.Errorf("%w: contagious window starts in the future", ErrTimeOutOfRange)
	}

	key, err := t.chain.KeyForDaysBack(daysBack)
	if err != nil {
		return nil, err
	}
	batch := NewLowCostBatch(firstDay, key)

	freshRoot, err := crypto.GenerateSeedFrom(t.rand)
	if err != nil {
		return nil, fmt.Errorf("generate replacement day key: %w", err)
	}
	t.chain.Reset(freshRoot)
	if err := t.regenerateTable(t.Today()); err != nil {
		return nil, err
	}
	t.log.Info("tracing key disclosed, chain reset", "first_day", firstDay.Start())

	return batch, nil
}

// MatchesWithBatch implements ContactTracer. For each day the disclosed key
// covers, the full identifier table is re-derived and stored records are
// tested for membership. Set membership rather than positional comparison:
// broadcast tables are shuffled, and an identifier is often still heard in
// the epoch after its own (clock skew between devices), so a record's epoch
// window need not line up with the identifier's derivation index.
func (t *lowCostTracer) MatchesWithBatch(batch TracingDataBatch) ([]ContactRecord, error) {
	lb, ok := batch.(*LowCostBatch)
	if !ok {
		return nil, fmt.Errorf("%w: expected low-cost batch, got %q", ErrMalformedBatch, batch.Variant())
	}

	today := t.Today()
	if lb.Day() > today {
		return nil, fmt.Errorf("%w: batch day %v is in the future", ErrMalformedBatch, lb.Day().Start())
	}

	recordsByDay := make(map[Day][]ContactRecord)
	for _, rec := range t.contacts.Records() {
		recordsByDay[rec.Day] = append(recordsByDay[rec.Day], rec)
	}

	var matched []ContactRecord
	key := lb.Key()
	for day := lb.Day(); day <= today; day = day.Add(1) {
		if records := recordsByDay[day]; len(records) > 0 {
			ids := make(map[crypto.EphID]struct{}, t.cfg.EpochsPerDay)
			for _, id := range t.deriver.EphIDsForDay(key, t.cfg.EpochsPerDay) {
				ids[id] = struct{}{}
			}
			for _, rec := range records {
				if _, hit := ids[rec.EphID]; hit {
					matched = append(matched, rec)
				}
			}
		}
		key = t.deriver.NextDayKey(key)
	}
	return matched, nil
}

// MatchesWithBatches implements ContactTracer.
func (t *lowCostTracer) MatchesWithBatches(batches []TracingDataBatch) []ContactRecord {
	return matchesWithBatches(t, t.log, batches)
}
