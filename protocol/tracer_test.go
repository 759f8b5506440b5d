package protocol_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proxtrace/proxtrace/cuckoo"
	"github.com/proxtrace/proxtrace/protocol"
	"github.com/proxtrace/proxtrace/testutil"
)

var testStart = time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustBuildFilter(t *testing.T) *cuckoo.Filter {
	t.Helper()
	filter, err := cuckoo.Build([][]byte{{0x01}, {0x02}}, 0.01)
	require.NoError(t, err)
	return filter
}

func newTracer(t *testing.T, variant protocol.Variant, clock *testutil.Clock, opts ...protocol.TracerOption) protocol.ContactTracer {
	t.Helper()
	opts = append([]protocol.TracerOption{
		protocol.WithClock(clock.Now),
		protocol.WithLogger(testLogger()),
	}, opts...)
	tracer, err := protocol.NewContactTracer(testutil.NewTestConfig(variant), opts...)
	require.NoError(t, err)
	return tracer
}

func epochTime(day protocol.Day, epoch int) time.Time {
	return day.Start().Add(time.Duration(epoch)*6*time.Hour + time.Minute)
}

func TestConstructionValidatesConfig(t *testing.T) {
	_, err := protocol.NewContactTracer(nil)
	require.Error(t, err)

	cfg := testutil.NewTestConfig(protocol.VariantLowCost)
	cfg.Variant = "bogus"
	_, err = protocol.NewContactTracer(cfg)
	require.Error(t, err)

	cfg = testutil.NewTestConfig(protocol.VariantLowCost)
	cfg.ChainHash = "md5"
	_, err = protocol.NewContactTracer(cfg)
	require.Error(t, err)

	cfg = testutil.NewTestConfig(protocol.VariantLowCost)
	cfg.EpochsPerDay = 5 // 6h epochs times 5 overshoots the day
	_, err = protocol.NewContactTracer(cfg)
	require.Error(t, err)

	// Sub-second epochs would divide by zero in second-granularity epoch
	// arithmetic, even though 500ms times 172800 still covers a day.
	cfg = testutil.NewTestConfig(protocol.VariantLowCost)
	cfg.EpochDuration = 500 * time.Millisecond
	cfg.EpochsPerDay = 172800
	_, err = protocol.NewContactTracer(cfg)
	require.Error(t, err)
}

func TestNextDayGuard(t *testing.T) {
	for _, variant := range []protocol.Variant{protocol.VariantLowCost, protocol.VariantUnlinkable} {
		t.Run(string(variant), func(t *testing.T) {
			clock := testutil.NewClock(testStart)
			tracer := newTracer(t, variant, clock)
			day0 := tracer.Today()

			// Still within day zero.
			require.ErrorIs(t, tracer.NextDay(), protocol.ErrAlreadyRotated)

			clock.Advance(24 * time.Hour)
			require.NoError(t, tracer.NextDay())
			require.Equal(t, day0.Add(1), tracer.Today())

			// Second advance within the same day.
			require.ErrorIs(t, tracer.NextDay(), protocol.ErrAlreadyRotated)
		})
	}
}

func TestEphIDForTimeRange(t *testing.T) {
	clock := testutil.NewClock(testStart)
	tracer := newTracer(t, protocol.VariantLowCost, clock)
	day0 := tracer.Today()

	_, err := tracer.EphIDForTime(epochTime(day0, 1))
	require.NoError(t, err)

	_, err = tracer.EphIDForTime(day0.Start().Add(-time.Hour))
	require.ErrorIs(t, err, protocol.ErrTimeOutOfRange)

	_, err = tracer.EphIDForTime(day0.Add(1).Start())
	require.ErrorIs(t, err, protocol.ErrTimeOutOfRange)

	// After rotation, yesterday's identifiers are gone.
	clock.Advance(24 * time.Hour)
	require.NoError(t, tracer.NextDay())
	_, err = tracer.EphIDForTime(epochTime(day0, 1))
	require.ErrorIs(t, err, protocol.ErrTimeOutOfRange)
}

func TestEphIDsReproducibleFromRootSeed(t *testing.T) {
	root := testutil.SeedFromByte(0x5a)
	clockA := testutil.NewClock(testStart)
	clockB := testutil.NewClock(testStart)
	a := newTracer(t, protocol.VariantLowCost, clockA, protocol.WithRootSeed(root))
	b := newTracer(t, protocol.VariantLowCost, clockB, protocol.WithRootSeed(root))

	for epoch := 0; epoch < 4; epoch++ {
		at := epochTime(a.Today(), epoch)
		idA, err := a.EphIDForTime(at)
		require.NoError(t, err)
		idB, err := b.EphIDForTime(at)
		require.NoError(t, err)
		require.True(t, idA.Equal(idB))
	}

	clockA.Advance(24 * time.Hour)
	clockB.Advance(24 * time.Hour)
	require.NoError(t, a.NextDay())
	require.NoError(t, b.NextDay())

	idA, err := a.EphIDForTime(epochTime(a.Today(), 0))
	require.NoError(t, err)
	idB, err := b.EphIDForTime(epochTime(b.Today(), 0))
	require.NoError(t, err)
	require.True(t, idA.Equal(idB))
}

func TestChainExhaustedSurfacesFromNextDay(t *testing.T) {
	cfg := testutil.NewTestConfig(protocol.VariantLowCost, testutil.WithMaxChainDays(1))
	clock := testutil.NewClock(testStart)
	tracer, err := protocol.NewContactTracer(cfg,
		protocol.WithClock(clock.Now), protocol.WithLogger(testLogger()))
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	require.NoError(t, tracer.NextDay())
	day1 := tracer.Today()

	clock.Advance(24 * time.Hour)
	require.ErrorIs(t, tracer.NextDay(), protocol.ErrChainExhausted)

	// A failed rotation must not advance the tracer's day.
	require.Equal(t, day1, tracer.Today())
}

// haltableReader delegates to a deterministic source until halted, after
// which every read fails.
type haltableReader struct {
	inner  io.Reader
	halted bool
}

func (r *haltableReader) Read(p []byte) (int, error) {
	if r.halted {
		return 0, errors.New("entropy source closed")
	}
	return r.inner.Read(p)
}

func TestNextDayTableFailureCommitsNothing(t *testing.T) {
	r := &haltableReader{inner: testutil.NewDeterministicReader("rotation")}
	cfg := testutil.NewTestConfig(protocol.VariantLowCost)
	cfg.DisableShuffle = false
	clock := testutil.NewClock(testStart)
	tracer, err := protocol.NewContactTracer(cfg,
		protocol.WithClock(clock.Now), protocol.WithLogger(testLogger()),
		protocol.WithRand(r), protocol.WithRootSeed(testutil.SeedFromByte(0x01)))
	require.NoError(t, err)
	day0 := tracer.Today()

	clock.Advance(24 * time.Hour)
	r.halted = true
	require.Error(t, tracer.NextDay())
	require.Equal(t, day0, tracer.Today())

	// Yesterday's table is still the active one.
	id, err := tracer.EphIDForTime(epochTime(day0, 0))
	require.NoError(t, err)

	// Nothing committed, so the retry rotates cleanly to the next day with a
	// fresh table.
	r.halted = false
	require.NoError(t, tracer.NextDay())
	require.Equal(t, day0.Add(1), tracer.Today())
	next, err := tracer.EphIDForTime(epochTime(day0.Add(1), 0))
	require.NoError(t, err)
	require.False(t, id.Equal(next))
}

// runContactScenario plays out the literal exposure scenario: device A
// broadcasts its epoch-2 identifier, device B hears it across epochs 2 and 3,
// device C only in epoch 2. Returns A's tracer plus B's and C's.
func runContactScenario(t *testing.T, variant protocol.Variant, clock *testutil.Clock) (a, b, c protocol.ContactTracer) {
	t.Helper()
	a = newTracer(t, variant, clock, protocol.WithRootSeed(testutil.SeedFromByte(0x01)))
	b = newTracer(t, variant, clock)
	c = newTracer(t, variant, clock)
	day0 := a.Today()

	idA, err := a.EphIDForTime(epochTime(day0, 2))
	require.NoError(t, err)

	require.Equal(t, 2, b.ReceiveScans([]protocol.Observation{
		{EphID: idA, Time: epochTime(day0, 2), RSSI: -60},
		{EphID: idA, Time: epochTime(day0, 3), RSSI: -70},
	}))
	require.Equal(t, 1, c.ReceiveScans([]protocol.Observation{
		{EphID: idA, Time: epochTime(day0, 2), RSSI: -80},
	}))

	for epoch := 0; epoch < 4; epoch++ {
		_, err := b.ProcessEpoch(epoch)
		require.NoError(t, err)
		_, err = c.ProcessEpoch(epoch)
		require.NoError(t, err)
	}

	clock.Advance(24 * time.Hour)
	require.NoError(t, a.NextDay())
	require.NoError(t, b.NextDay())
	require.NoError(t, c.NextDay())
	return a, b, c
}

func TestEndToEndLowCost(t *testing.T) {
	clock := testutil.NewClock(testStart)
	a, b, c := runContactScenario(t, protocol.VariantLowCost, clock)
	day0 := a.Today().Add(-1)

	// B promoted a two-epoch contact; C's single epoch was insufficient.
	require.Len(t, b.Records(), 1)
	require.Empty(t, c.Records())

	// A is diagnosed and disclosed through the wire encoding.
	batch, err := a.GetTracingInformation(day0.Start(), time.Time{})
	require.NoError(t, err)
	decoded, err := protocol.DecodeBatch(protocol.VariantLowCost, batch.PayloadBytes())
	require.NoError(t, err)

	matched, err := b.MatchesWithBatch(decoded)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, day0, matched[0].Day)
	require.Equal(t, 2, matched[0].StartEpoch)
	require.Equal(t, 3, matched[0].EndEpoch)

	matched, err = c.MatchesWithBatch(decoded)
	require.NoError(t, err)
	require.Empty(t, matched)
}

func TestEndToEndUnlinkable(t *testing.T) {
	clock := testutil.NewClock(testStart)
	a, b, c := runContactScenario(t, protocol.VariantUnlinkable, clock)
	day0 := a.Today().Add(-1)

	batch, err := a.GetTracingInformation(day0.Start(), time.Time{})
	require.NoError(t, err)
	decoded, err := protocol.DecodeBatch(protocol.VariantUnlinkable, batch.PayloadBytes())
	require.NoError(t, err)

	matched, err := b.MatchesWithBatch(decoded)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, day0, matched[0].Day)

	matched, err = c.MatchesWithBatch(decoded)
	require.NoError(t, err)
	require.Empty(t, matched)
}

func TestLowCostKeyResetAfterDisclosure(t *testing.T) {
	clock := testutil.NewClock(testStart)
	tracer := newTracer(t, protocol.VariantLowCost, clock,
		protocol.WithRootSeed(testutil.SeedFromByte(0x01)))
	day0 := tracer.Today()

	before, err := tracer.EphIDForTime(epochTime(day0, 0))
	require.NoError(t, err)

	first, err := tracer.GetTracingInformation(day0.Start(), time.Time{})
	require.NoError(t, err)

	// Today's identifiers are regenerated under a fresh key.
	after, err := tracer.EphIDForTime(epochTime(day0, 0))
	require.NoError(t, err)
	require.False(t, before.Equal(after))

	// A repeat disclosure for the same day publishes a key from the fresh
	// chain, unlinkable to the first one.
	second, err := tracer.GetTracingInformation(day0.Start(), time.Time{})
	require.NoError(t, err)
	require.NotEqual(t, first.PayloadBytes(), second.PayloadBytes())
}

func TestMatchesWithBatchesSkipsMalformed(t *testing.T) {
	clock := testutil.NewClock(testStart)
	a, b, _ := runContactScenario(t, protocol.VariantLowCost, clock)
	day0 := a.Today().Add(-1)

	good, err := a.GetTracingInformation(day0.Start(), time.Time{})
	require.NoError(t, err)

	// An unlinkable batch slipped into a low-cost download must be skipped,
	// not abort the pass.
	wrongVariant := protocol.NewUnlinkableBatch(day0, mustBuildFilter(t))
	matched := b.MatchesWithBatches([]protocol.TracingDataBatch{wrongVariant, good})
	require.Len(t, matched, 1)
}

func TestGetTracingInformationRejectsFutureWindow(t *testing.T) {
	clock := testutil.NewClock(testStart)

	lowCost := newTracer(t, protocol.VariantLowCost, clock)
	_, err := lowCost.GetTracingInformation(lowCost.Today().Add(3).Start(), time.Time{})
	require.ErrorIs(t, err, protocol.ErrTimeOutOfRange)

	unlinkable := newTracer(t, protocol.VariantUnlinkable, clock)
	first := unlinkable.Today().Start()
	_, err = unlinkable.GetTracingInformation(first, first.Add(-time.Hour))
	require.ErrorIs(t, err, protocol.ErrTimeOutOfRange)
}
