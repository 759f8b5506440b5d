package protocol

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/proxtrace/proxtrace/crypto"
)

// Observation is one raw sighting handed in by the radio layer: an identifier
// someone broadcast nearby, when it was heard, and optionally how loud.
// Observations are unvalidated beyond their timestamp.
type Observation struct {
	EphID crypto.EphID `json:"ephid"`
	Time  time.Time    `json:"time"`

	// RSSI is the received signal strength in dBm, zero when the radio
	// layer did not report one. Kept for host-side risk scoring; the core
	// does not weight by it.
	RSSI int `json:"rssi,omitempty"`
}

// ContactRecord is an immutable promoted contact: one identifier observed
// across enough distinct epochs of one day to count as exposure.
type ContactRecord struct {
	Day        Day          `json:"day"`
	StartEpoch int          `json:"start_epoch"`
	EndEpoch   int          `json:"end_epoch"`
	Epochs     int          `json:"epochs"`
	EphID      crypto.EphID `json:"ephid"`
}

// pendingContact tracks a contiguous run of epochs in which one identifier
// has been observed, before it is promoted or discarded.
type pendingContact struct {
	start  int
	last   int
	epochs int
}

// ContactManager owns the observation log for the current day and the
// promoted contact records for the retention window. Append-only within a
// day; ProcessEpoch compacts an epoch's raw observations into contact runs
// and then discards them.
type ContactManager struct {
	cfg *TracingConfig
	log *slog.Logger

	day          Day
	observations map[int][]Observation
	pending      map[crypto.EphID]*pendingContact
	records      []ContactRecord
}

func newContactManager(cfg *TracingConfig, log *slog.Logger, day Day) *ContactManager {
	return &ContactManager{
		cfg:          cfg,
		log:          log,
		day:          day,
		observations: make(map[int][]Observation),
		pending:      make(map[crypto.EphID]*pendingContact),
	}
}

// AddObservation appends one observation to the current day's log. Timestamps
// outside the current day fail with ErrStaleObservation.
func (m *ContactManager) AddObservation(obs Observation) error {
	if DayOf(obs.Time) != m.day {
		return fmt.Errorf("%w: %v not within day %v", ErrStaleObservation, obs.Time, m.day.Start())
	}

	epoch := epochWithinDay(m.day, obs.Time, m.cfg.EpochDuration)
	m.observations[epoch] = append(m.observations[epoch], obs)

	// Reshuffle so the stored log does not leak receive order.
	if err := crypto.SecureShuffle(m.observations[epoch]); err != nil {
		return err
	}
	return nil
}

// ReceiveScans appends a batch of observations, dropping stale ones with a
// log line. Returns the number accepted. Late-arriving scans from the radio
// layer are expected; a dropped scan is not an error condition.
func (m *ContactManager) ReceiveScans(observations []Observation) int {
	accepted := 0
	for _, obs := range observations {
		if err := m.AddObservation(obs); err != nil {
			m.log.Warn("dropping stale observation", "time", obs.Time, "err", err)
			continue
		}
		accepted++
	}
	return accepted
}

// ProcessEpoch folds the given epoch's raw observations into per-identifier
// contact runs and returns any records promoted by it. Runs end when their
// identifier goes unseen for an epoch; a finished run is promoted only if it
// covered at least MinContactEpochs distinct epochs, otherwise discarded.
// The epoch's raw observations are dropped afterwards.
func (m *ContactManager) ProcessEpoch(epoch int) ([]ContactRecord, error) {
	if epoch < 0 || epoch >= m.cfg.EpochsPerDay {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidEpoch, epoch, m.cfg.EpochsPerDay)
	}

	present := make(map[crypto.EphID]bool)
	for _, obs := range m.observations[epoch] {
		present[obs.EphID] = true
	}

	var promoted []ContactRecord
	for id := range present {
		if run, ok := m.pending[id]; ok {
			if run.last == epoch-1 {
				run.last = epoch
				run.epochs++
				continue
			}
			// Gap since the last sighting: the old run is over.
			if rec, ok := m.closeRun(id, run); ok {
				promoted = append(promoted, rec)
			}
		}
		m.pending[id] = &pendingContact{start: epoch, last: epoch, epochs: 1}
	}

	for id, run := range m.pending {
		if run.last < epoch {
			if rec, ok := m.closeRun(id, run); ok {
				promoted = append(promoted, rec)
			}
			delete(m.pending, id)
		}
	}

	delete(m.observations, epoch)
	return promoted, nil
}

// closeRun promotes a finished run to a ContactRecord if it met the duration
// threshold. Runs below threshold represent genuinely insufficient exposure
// and are dropped without retry.
func (m *ContactManager) closeRun(id crypto.EphID, run *pendingContact) (ContactRecord, bool) {
	if run.epochs < m.cfg.MinContactEpochs {
		return ContactRecord{}, false
	}
	rec := ContactRecord{
		Day:        m.day,
		StartEpoch: run.start,
		EndEpoch:   run.last,
		Epochs:     run.epochs,
		EphID:      id,
	}
	m.records = append(m.records, rec)
	m.log.Debug("contact recorded", "day", rec.Day.Start(), "epochs", rec.Epochs)
	return rec, true
}

// AdvanceDay closes out the old day and moves the log to the new one: all
// open runs are finished (day boundaries end contacts), remaining raw
// observations are dropped, and records past the retention window are purged.
func (m *ContactManager) AdvanceDay(newDay Day) {
	for id, run := range m.pending {
		m.closeRun(id, run)
		delete(m.pending, id)
	}
	m.observations = make(map[int][]Observation)
	m.day = newDay

	cutoff := newDay.Add(-m.cfg.RetentionDays)
	kept := m.records[:0]
	for _, rec := range m.records {
		if rec.Day >= cutoff {
			kept = append(kept, rec)
		}
	}
	m.records = kept
}

// Records returns a copy of all retained contact records.
func (m *ContactManager) Records() []ContactRecord {
	out := make([]ContactRecord, len(m.records))
	copy(out, m.records)
	return out
}

// RecordsForDay returns the retained records for one day.
func (m *ContactManager) RecordsForDay(day Day) []ContactRecord {
	var out []ContactRecord
	for _, rec := range m.records {
		if rec.Day == day {
			out = append(out, rec)
		}
	}
	return out
}
