package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/proxtrace/proxtrace/crypto"
	"github.com/proxtrace/proxtrace/cuckoo"
)

// TracingDataBatch is one day's disclosed tracing data, the unit exchanged
// with the backend in both directions. Batches are value objects: constructed
// for upload or decoded from a download, never mutated afterwards.
//
// The byte encodings are stable for interoperability:
//
//	low-cost:   day(8, big-endian Unix seconds) || SK_t(32)
//	unlinkable: day(8, big-endian Unix seconds) || filter header || filter bytes
type TracingDataBatch interface {
	// Day is the first disclosed day the payload covers.
	Day() Day

	// Variant identifies which design produced the payload.
	Variant() Variant

	// PayloadBytes serializes the batch for upload.
	PayloadBytes() []byte
}

const batchDayPrefix = 8

// LowCostBatch discloses a day key. Verifiers re-derive the day's identifier
// tables from the key, walking the chain forward for subsequent days.
type LowCostBatch struct {
	day Day
	key crypto.Seed
}

// NewLowCostBatch wraps a disclosed day key.
func NewLowCostBatch(day Day, key crypto.Seed) *LowCostBatch {
	return &LowCostBatch{day: day, key: key}
}

// Day implements TracingDataBatch.
func (b *LowCostBatch) Day() Day { return b.day }

// Variant implements TracingDataBatch.
func (b *LowCostBatch) Variant() Variant { return VariantLowCost }

// Key returns the disclosed day key.
func (b *LowCostBatch) Key() crypto.Seed { return b.key }

// PayloadBytes implements TracingDataBatch.
func (b *LowCostBatch) PayloadBytes() []byte {
	out := make([]byte, batchDayPrefix+crypto.SeedSize)
	binary.BigEndian.PutUint64(out[:batchDayPrefix], uint64(b.day.Unix()))
	copy(out[batchDayPrefix:], b.key[:])
	return out
}

// DecodeLowCostBatch parses a low-cost payload, enforcing the fixed width.
func DecodeLowCostBatch(data []byte) (*LowCostBatch, error) {
	if len(data) != batchDayPrefix+crypto.SeedSize {
		return nil, fmt.Errorf("%w: low-cost payload is %d bytes, want %d",
			ErrMalformedBatch, len(data), batchDayPrefix+crypto.SeedSize)
	}
	day, err := decodeBatchDay(data)
	if err != nil {
		return nil, err
	}
	key, err := crypto.NewSeedFromBytes(data[batchDayPrefix:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	return &LowCostBatch{day: day, key: key}, nil
}

// UnlinkableBatch discloses a compact membership filter over the hashed
// observations of the diagnosed user's seeds. Verifiers query it with the
// digests of their own stored observations.
type UnlinkableBatch struct {
	day    Day
	filter *cuckoo.Filter
}

// NewUnlinkableBatch wraps a disclosure filter.
func NewUnlinkableBatch(day Day, filter *cuckoo.Filter) *UnlinkableBatch {
	return &UnlinkableBatch{day: day, filter: filter}
}

// Day implements TracingDataBatch.
func (b *UnlinkableBatch) Day() Day { return b.day }

// Variant implements TracingDataBatch.
func (b *UnlinkableBatch) Variant() Variant { return VariantUnlinkable }

// Filter returns the disclosure filter.
func (b *UnlinkableBatch) Filter() *cuckoo.Filter { return b.filter }

// PayloadBytes implements TracingDataBatch.
func (b *UnlinkableBatch) PayloadBytes() []byte {
	encoded := b.filter.Encode()
	out := make([]byte, batchDayPrefix+len(encoded))
	binary.BigEndian.PutUint64(out[:batchDayPrefix], uint64(b.day.Unix()))
	copy(out[batchDayPrefix:], encoded)
	return out
}

// DecodeUnlinkableBatch parses an unlinkable payload. Filter header
// violations surface as ErrMalformedBatch.
func DecodeUnlinkableBatch(data []byte) (*UnlinkableBatch, error) {
	if len(data) < batchDayPrefix {
		return nil, fmt.Errorf("%w: unlinkable payload is %d bytes", ErrMalformedBatch, len(data))
	}
	day, err := decodeBatchDay(data)
	if err != nil {
		return nil, err
	}
	filter, err := cuckoo.Decode(data[batchDayPrefix:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	return &UnlinkableBatch{day: day, filter: filter}, nil
}

// DecodeBatch parses a payload for the given variant.
func DecodeBatch(v Variant, data []byte) (TracingDataBatch, error) {
	switch v {
	case VariantLowCost:
		return DecodeLowCostBatch(data)
	case VariantUnlinkable:
		return DecodeUnlinkableBatch(data)
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrMalformedBatch, v)
	}
}

func decodeBatchDay(data []byte) (Day, error) {
	ts := binary.BigEndian.Uint64(data[:batchDayPrefix])
	if ts%secondsPerDay != 0 || ts > 1<<40 {
		return 0, fmt.Errorf("%w: day %d is not a day boundary", ErrMalformedBatch, ts)
	}
	return Day(ts), nil
}
