package protocol

import (
	"fmt"
	"time"

	"github.com/proxtrace/proxtrace/cuckoo"
)

// unlinkableTracer implements the independent-seed design. Every epoch gets
// its own random seed, so disclosed epochs carry no linkage to undisclosed
// ones; the disclosure payload is a membership filter over epoch-bound
// observation digests rather than the seeds themselves.
type unlinkableTracer struct {
	*tracerBase
	seeds *SeedSet
}

func newUnlinkableTracer(base *tracerBase) (*unlinkableTracer, error) {
	t := &unlinkableTracer{
		tracerBase: base,
		seeds:      NewSeedSet(base.deriver, base.rand, base.cfg.EpochsPerDay),
	}
	today := base.Today()
	if err := t.seeds.NewDay(today); err != nil {
		return nil, err
	}
	table, err := newUnlinkableTable(t.seeds, today, base.cfg.EpochsPerDay)
	if err != nil {
		return nil, err
	}
	t.table = table
	return t, nil
}

// NextDay implements ContactTracer.
func (t *unlinkableTracer) NextDay() error {
	next, err := t.beginRotation()
	if err != nil {
		return err
	}
	if err := t.seeds.NewDay(next); err != nil {
		t.abortRotation(next)
		return err
	}
	table, err := newUnlinkableTable(t.seeds, next, t.cfg.EpochsPerDay)
	if err != nil {
		return err
	}
	t.table = table
	t.contacts.AdvanceDay(next)
	t.seeds.Purge(next.Add(-t.cfg.RetentionDays))
	t.log.Debug("rotated to next day", "day", next.Start())
	return nil
}

// GetTracingInformation implements ContactTracer. The disclosure covers the
// epochs of [firstContagious, lastContagious]; a zero lastContagious means
// the start of the current day. Each covered (seed, epoch) pair contributes
// its hashed observation to a freshly keyed filter.
func (t *unlinkableTracer) GetTracingInformation(firstContagious, lastContagious time.Time) (TracingDataBatch, error) {
	if lastContagious.IsZero() {
		lastContagious = t.Today().Start()
	}
	if lastContagious.Before(firstContagious) {
		return nil, fmt.Errorf("%w: contagious window ends before it starts", ErrTimeOutOfRange)
	}

	firstDay, lastDay := DayOf(firstContagious), DayOf(lastContagious)
	var items [][]byte
	for day := firstDay; day <= lastDay; day = day.Add(1) {
		startEpoch := 0
		if day == firstDay {
			startEpoch = epochWithinDay(day, firstContagious, t.cfg.EpochDuration)
		}
		endEpoch := t.cfg.EpochsPerDay - 1
		if day == lastDay {
			endEpoch = epochWithinDay(day, lastContagious, t.cfg.EpochDuration)
		}

		epochs := make([]int, 0, endEpoch-startEpoch+1)
		for e := startEpoch; e <= endEpoch; e++ {
			epochs = append(epochs, e)
		}
		seeds, err := t.seeds.Disclose(day, epochs)
		if err != nil {
			return nil, err
		}
		for i, seed := range seeds {
			digest := t.deriver.HashedObservationFromSeed(seed,
				absoluteEpochAt(day, epochs[i], t.cfg.EpochDuration))
			items = append(items, digest[:])
		}
	}

	filter, err := cuckoo.Build(items, t.cfg.FilterFalsePositiveRate)
	if err != nil {
		return nil, fmt.Errorf("build disclosure filter: %w", err)
	}
	t.log.Info("tracing seeds disclosed", "first_day", firstDay.Start(), "epochs", len(items))
	return NewUnlinkableBatch(firstDay, filter), nil
}

// MatchesWithBatch implements ContactTracer. Each stored record re-derives
// the hashed observation for every epoch it spans and queries the disclosed
// filter. A hit is a soft signal: false positives are possible at the
// configured rate, false negatives are not.
func (t *unlinkableTracer) MatchesWithBatch(batch TracingDataBatch) ([]ContactRecord, error) {
	ub, ok := batch.(*UnlinkableBatch)
	if !ok {
		return nil, fmt.Errorf("%w: expected unlinkable batch, got %q", ErrMalformedBatch, batch.Variant())
	}

	filter := ub.Filter()
	var matched []ContactRecord
	for _, rec := range t.contacts.Records() {
		for epoch := rec.StartEpoch; epoch <= rec.EndEpoch; epoch++ {
			digest := t.deriver.HashedObservation(rec.EphID,
				absoluteEpochAt(rec.Day, epoch, t.cfg.EpochDuration))
			if filter.Contains(digest[:]) {
				matched = append(matched, rec)
				break
			}
		}
	}
	return matched, nil
}

// MatchesWithBatches implements ContactTracer.
func (t *unlinkableTracer) MatchesWithBatches(batches []TracingDataBatch) []ContactRecord {
	return matchesWithBatches(t, t.log, batches)
}
