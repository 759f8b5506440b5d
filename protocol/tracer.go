package protocol

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/proxtrace/proxtrace/crypto"
)

// ContactTracer orchestrates one device's side of the protocol: day rotation,
// identifier lookup by time, observation ingestion, disclosure construction,
// and batch matching. A tracer is bound to one variant at construction and
// owns its seed state exclusively; the host must drive it from a single
// control thread.
type ContactTracer interface {
	// NextDay rotates the seed state and regenerates the day's identifier
	// table. Calling it again before the clock has entered a new day fails
	// with ErrAlreadyRotated.
	NextDay() error

	// EphIDForTime returns the identifier the radio should broadcast at t.
	// Fails with ErrTimeOutOfRange if t predates the tracer's first day or
	// falls outside the current day.
	EphIDForTime(t time.Time) (crypto.EphID, error)

	// AddObservation appends one raw sighting to the observation log.
	AddObservation(obs Observation) error

	// ReceiveScans appends a batch of sightings, dropping and logging
	// stale ones. Returns the number accepted.
	ReceiveScans(observations []Observation) int

	// ProcessEpoch aggregates the epoch's observations into contact runs
	// and returns any newly promoted contact records.
	ProcessEpoch(epoch int) ([]ContactRecord, error)

	// GetTracingInformation builds the disclosure payload covering the
	// contagious window. The caller must have confirmed the diagnosis
	// out-of-band; no diagnosis logic lives here.
	GetTracingInformation(firstContagious, lastContagious time.Time) (TracingDataBatch, error)

	// MatchesWithBatch tests every stored contact record against one
	// disclosed batch and returns the matching records, possibly none.
	// Only malformed batches error.
	MatchesWithBatch(batch TracingDataBatch) ([]ContactRecord, error)

	// MatchesWithBatches runs MatchesWithBatch over a download, skipping
	// malformed entries so one corrupt disclosure never aborts the pass.
	MatchesWithBatches(batches []TracingDataBatch) []ContactRecord

	// Records returns the retained contact records.
	Records() []ContactRecord

	// Today returns the tracer's current protocol day.
	Today() Day
}

// TracerOption customizes tracer construction.
type TracerOption func(*tracerOptions)

type tracerOptions struct {
	clock    func() time.Time
	rand     io.Reader
	log      *slog.Logger
	rootSeed *crypto.Seed
}

// WithClock substitutes the time source. Tests use a fixed clock to drive day
// boundaries deterministically.
func WithClock(clock func() time.Time) TracerOption {
	return func(o *tracerOptions) { o.clock = clock }
}

// WithRand substitutes the randomness source used for seed generation.
// Production tracers should leave this at the default crypto/rand reader.
func WithRand(r io.Reader) TracerOption {
	return func(o *tracerOptions) { o.rand = r }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) TracerOption {
	return func(o *tracerOptions) { o.log = log }
}

// WithRootSeed fixes the initial day key (low-cost) instead of drawing one at
// random. Required for reproducing test vectors.
func WithRootSeed(seed crypto.Seed) TracerOption {
	return func(o *tracerOptions) { o.rootSeed = &seed }
}

// NewContactTracer validates the configuration and builds the tracer for its
// variant. All configuration and algorithm errors surface here; a tracer
// that constructs successfully never fails mid-protocol from configuration.
func NewContactTracer(cfg *TracingConfig, opts ...TracerOption) (ContactTracer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracing config: %w", err)
	}

	deriver, err := crypto.NewDeriver(cfg.ChainHash)
	if err != nil {
		return nil, fmt.Errorf("invalid tracing config: %w", err)
	}

	options := &tracerOptions{
		clock: time.Now,
		rand:  rand.Reader,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	base := newTracerBase(cfg, deriver, options)
	switch cfg.Variant {
	case VariantLowCost:
		return newLowCostTracer(base, options.rootSeed)
	case VariantUnlinkable:
		return newUnlinkableTracer(base)
	default:
		// Unreachable: Validate rejects unknown variants.
		return nil, fmt.Errorf("unknown protocol variant %q", cfg.Variant)
	}
}

// tracerBase carries the state and behavior shared by both variants.
type tracerBase struct {
	cfg     *TracingConfig
	log     *slog.Logger
	deriver *crypto.Deriver
	nowFn   func() time.Time
	rand    io.Reader

	rootDay Day

	// todayUnix is the current protocol day's start timestamp. The atomic
	// compare-and-swap makes the rotation guard hold even for a host that
	// mistakenly calls NextDay from a radio callback.
	todayUnix atomic.Int64

	table    *EphIDTable
	contacts *ContactManager
}

func newTracerBase(cfg *TracingConfig, deriver *crypto.Deriver, options *tracerOptions) *tracerBase {
	today := DayOf(options.clock())
	b := &tracerBase{
		cfg:     cfg,
		log:     options.log,
		deriver: deriver,
		nowFn:   options.clock,
		rand:    options.rand,
		rootDay: today,
	}
	b.todayUnix.Store(int64(today))
	b.contacts = newContactManager(cfg, options.log, today)
	return b
}

// Today implements ContactTracer.
func (b *tracerBase) Today() Day {
	return Day(b.todayUnix.Load())
}

// shuffleRand returns the randomness source for broadcast-table shuffling,
// nil when shuffling is disabled.
func (b *tracerBase) shuffleRand() io.Reader {
	if b.cfg.DisableShuffle {
		return nil
	}
	return b.rand
}

// beginRotation checks the double-rotation guard and claims the next day.
// The caller must complete the rotation or roll back via abortRotation.
func (b *tracerBase) beginRotation() (Day, error) {
	current := b.Today()
	if DayOf(b.nowFn()) <= current {
		return 0, fmt.Errorf("%w: still within %v", ErrAlreadyRotated, current.Start())
	}
	next := current.Add(1)
	if !b.todayUnix.CompareAndSwap(int64(current), int64(next)) {
		return 0, fmt.Errorf("%w: concurrent rotation", ErrAlreadyRotated)
	}
	return next, nil
}

func (b *tracerBase) abortRotation(next Day) {
	b.todayUnix.CompareAndSwap(int64(next), int64(next.Add(-1)))
}

// EphIDForTime implements ContactTracer.
func (b *tracerBase) EphIDForTime(t time.Time) (crypto.EphID, error) {
	day := DayOf(t)
	today := b.Today()
	switch {
	case day < b.rootDay:
		return crypto.EphID{}, fmt.Errorf("%w: %v predates first tracing day %v",
			ErrTimeOutOfRange, t, b.rootDay.Start())
	case day > today:
		return crypto.EphID{}, fmt.Errorf("%w: %v postdates current day %v",
			ErrTimeOutOfRange, t, today.Start())
	case day != today:
		return crypto.EphID{}, fmt.Errorf("%w: identifiers for %v are gone, did you call NextDay",
			ErrTimeOutOfRange, day.Start())
	}
	return b.table.IDAt(epochWithinDay(day, t, b.cfg.EpochDuration))
}

// AddObservation implements ContactTracer.
func (b *tracerBase) AddObservation(obs Observation) error {
	return b.contacts.AddObservation(obs)
}

// ReceiveScans implements ContactTracer.
func (b *tracerBase) ReceiveScans(observations []Observation) int {
	return b.contacts.ReceiveScans(observations)
}

// ProcessEpoch implements ContactTracer.
func (b *tracerBase) ProcessEpoch(epoch int) ([]ContactRecord, error) {
	return b.contacts.ProcessEpoch(epoch)
}

// Records implements ContactTracer.
func (b *tracerBase) Records() []ContactRecord {
	return b.contacts.Records()
}

// matchesWithBatches is the shared skip-and-continue wrapper around a
// variant's single-batch matcher.
func matchesWithBatches(t ContactTracer, log *slog.Logger, batches []TracingDataBatch) []ContactRecord {
	var matched []ContactRecord
	for i, batch := range batches {
		records, err := t.MatchesWithBatch(batch)
		if err != nil {
			log.Warn("skipping malformed tracing batch", "index", i, "err", err)
			continue
		}
		matched = append(matched, records...)
	}
	return matched
}
