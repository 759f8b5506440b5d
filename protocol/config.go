package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/proxtrace/proxtrace/crypto"
)

// Variant selects which protocol design a tracer implements.
type Variant string

const (
	// VariantLowCost derives identifiers from a hash-chained day key and
	// discloses the key itself.
	VariantLowCost Variant = "lowcost"

	// VariantUnlinkable derives identifiers from independent per-epoch
	// seeds and discloses a compact membership filter.
	VariantUnlinkable Variant = "unlinkable"
)

// TracingConfig provides the protocol parameters for a ContactTracer. All
// fields are fixed at construction and immutable for the tracer's lifetime.
type TracingConfig struct {
	// Variant selects the protocol design.
	Variant Variant `json:"variant"`

	// EpochDuration is the length of one identifier-rotation window.
	EpochDuration time.Duration `json:"epoch_duration,string"`

	// EpochsPerDay is the number of epochs in a day. EpochDuration times
	// EpochsPerDay must equal 24 hours.
	EpochsPerDay int `json:"epochs_per_day"`

	// RetentionDays is the rolling window for which keys, seeds,
	// observations and contact records are kept.
	RetentionDays int `json:"retention_days"`

	// MinContactEpochs is the minimum number of distinct epochs an
	// identifier must be observed across before the contact is recorded.
	MinContactEpochs int `json:"min_contact_epochs"`

	// MaxChainDays bounds the low-cost chain's lifetime; Rotate fails with
	// ErrChainExhausted beyond it.
	MaxChainDays int `json:"max_chain_days"`

	// FilterFalsePositiveRate is the target false-positive rate of the
	// unlinkable disclosure filter.
	FilterFalsePositiveRate float64 `json:"filter_false_positive_rate"`

	// ChainHash identifies the one-way/PRF hash algorithm. Validated at
	// tracer construction; never fails per-call.
	ChainHash crypto.HashAlgo `json:"chain_hash"`

	// DisableShuffle keeps the broadcast EphID table in derivation order.
	// Only for tests and test-vector reproduction; production tables are
	// shuffled so broadcast order does not leak epoch indices.
	DisableShuffle bool `json:"disable_shuffle,omitempty"`
}

// DefaultConfig returns the standard parameters for a variant: 15-minute
// epochs, a 14-day retention window, and a two-epoch contact threshold.
func DefaultConfig(v Variant) *TracingConfig {
	return &TracingConfig{
		Variant:                 v,
		EpochDuration:           15 * time.Minute,
		EpochsPerDay:            96,
		RetentionDays:           14,
		MinContactEpochs:        2,
		MaxChainDays:            180,
		FilterFalsePositiveRate: 0x1p-42,
		ChainHash:               crypto.HashSHA256,
	}
}

// Validate checks the configuration invariants. A tracer refuses construction
// on any violation so that a running tracer never fails from configuration.
func (c *TracingConfig) Validate() error {
	switch c.Variant {
	case VariantLowCost, VariantUnlinkable:
	default:
		return fmt.Errorf("unknown protocol variant %q", c.Variant)
	}

	if c.EpochsPerDay <= 0 {
		return errors.New("epochs per day must be positive")
	}
	if c.EpochDuration <= 0 {
		return errors.New("epoch duration must be positive")
	}
	if c.EpochDuration%time.Second != 0 {
		return errors.New("epoch duration must be a whole number of seconds")
	}
	if c.EpochDuration*time.Duration(c.EpochsPerDay) != 24*time.Hour {
		return fmt.Errorf("epoch duration %v times %d epochs does not cover a day",
			c.EpochDuration, c.EpochsPerDay)
	}
	if c.RetentionDays <= 0 {
		return errors.New("retention window must be positive")
	}
	if c.MinContactEpochs <= 0 {
		return errors.New("minimum contact epochs must be positive")
	}
	if c.Variant == VariantLowCost && c.MaxChainDays <= 0 {
		return errors.New("chain lifetime must be positive")
	}
	if c.Variant == VariantUnlinkable &&
		(c.FilterFalsePositiveRate <= 0 || c.FilterFalsePositiveRate >= 1) {
		return errors.New("filter false-positive rate must be in (0, 1)")
	}
	return nil
}
