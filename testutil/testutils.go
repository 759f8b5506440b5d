package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/proxtrace/proxtrace/crypto"
	"github.com/proxtrace/proxtrace/protocol"
)

// =====================================
// Clock
// =====================================

// Clock is a manually advanced time source for driving day and epoch
// boundaries in tests.
type Clock struct {
	now time.Time
}

// NewClock creates a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time. Pass c.Now as the tracer's clock.
func (c *Clock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Set jumps the clock to an absolute time.
func (c *Clock) Set(t time.Time) {
	c.now = t
}

// =====================================
// Deterministic randomness
// =====================================

// DeterministicReader yields a reproducible byte stream derived from a label,
// so seed generation and shuffles are stable across test runs.
type DeterministicReader struct {
	label   []byte
	counter uint64
	buf     []byte
}

// NewDeterministicReader creates a reader whose output depends only on label.
func NewDeterministicReader(label string) *DeterministicReader {
	return &DeterministicReader{label: []byte(label)}
}

// Read implements io.Reader with a hash-counter stream.
func (r *DeterministicReader) Read(p []byte) (int, error) {
	for len(r.buf) < len(p) {
		var ctr [8]byte
		binary.BigEndian.PutUint64(ctr[:], r.counter)
		r.counter++
		block := sha256.Sum256(append(append([]byte{}, r.label...), ctr[:]...))
		r.buf = append(r.buf, block[:]...)
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// =====================================
// Seed and config generators
// =====================================

// SeedFromByte returns a seed filled with a single repeated byte, handy for
// readable fixed test vectors.
func SeedFromByte(b byte) crypto.Seed {
	var s crypto.Seed
	for i := range s {
		s[i] = b
	}
	return s
}

// TestConfigOption is a function that modifies a TracingConfig.
type TestConfigOption func(*protocol.TracingConfig)

// WithEpochsPerDay sets the epoch count, keeping the epoch duration
// consistent with a 24-hour day.
func WithEpochsPerDay(n int) TestConfigOption {
	return func(cfg *protocol.TracingConfig) {
		cfg.EpochsPerDay = n
		cfg.EpochDuration = 24 * time.Hour / time.Duration(n)
	}
}

// WithRetentionDays sets the retention window.
func WithRetentionDays(days int) TestConfigOption {
	return func(cfg *protocol.TracingConfig) {
		cfg.RetentionDays = days
	}
}

// WithMinContactEpochs sets the contact promotion threshold.
func WithMinContactEpochs(epochs int) TestConfigOption {
	return func(cfg *protocol.TracingConfig) {
		cfg.MinContactEpochs = epochs
	}
}

// WithMaxChainDays sets the low-cost chain lifetime.
func WithMaxChainDays(days int) TestConfigOption {
	return func(cfg *protocol.TracingConfig) {
		cfg.MaxChainDays = days
	}
}

// WithChainHash selects the chain hash algorithm.
func WithChainHash(algo crypto.HashAlgo) TestConfigOption {
	return func(cfg *protocol.TracingConfig) {
		cfg.ChainHash = algo
	}
}

// WithFilterFPRate sets the disclosure filter's target false-positive rate.
func WithFilterFPRate(p float64) TestConfigOption {
	return func(cfg *protocol.TracingConfig) {
		cfg.FilterFalsePositiveRate = p
	}
}

// NewTestConfig creates a small, fast tracing configuration: 4 epochs per
// day, a 14-day retention window, a two-epoch contact threshold, and
// shuffling disabled for reproducibility. Options override the defaults.
func NewTestConfig(variant protocol.Variant, options ...TestConfigOption) *protocol.TracingConfig {
	cfg := protocol.DefaultConfig(variant)
	cfg.EpochsPerDay = 4
	cfg.EpochDuration = 6 * time.Hour
	cfg.FilterFalsePositiveRate = 0x1p-20
	cfg.DisableShuffle = true

	for _, option := range options {
		option(cfg)
	}
	return cfg
}
