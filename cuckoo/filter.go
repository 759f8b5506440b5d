package cuckoo

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/hkdf"
)

const (
	// BucketSize is the number of fingerprint slots per bucket.
	BucketSize = 4

	// KeySize is the length of the recorded filter key.
	KeySize = 16

	// maxKicks bounds the eviction chain before an insert is declared
	// failed and the filter reported full.
	maxKicks = 500

	// loadFactor is the occupancy the sizing formula targets. Partial-key
	// cuckoo filters with 4-way buckets stay constructible up to ~95%.
	loadFactor = 0.95

	minFingerprintBytes = 1
	maxFingerprintBytes = 8
)

var (
	// ErrFilterFull is returned when an insert cannot be placed within the
	// eviction bound. Build handles this by resizing and retrying.
	ErrFilterFull = errors.New("cuckoo filter full")

	// ErrCorruptFilter is returned when a serialized filter fails its
	// header or length invariants.
	ErrCorruptFilter = errors.New("corrupt cuckoo filter")
)

const encodingVersion = 1

// headerSize is the serialized prefix before bucket bytes:
// version(1) || fpBytes(1) || bucketsLog2(1) || reserved(1) || count(4) || key(16).
const headerSize = 8 + KeySize

// Filter is a serializable cuckoo filter over arbitrary byte-string items.
type Filter struct {
	key         [KeySize]byte
	fpBytes     int
	bucketsLog2 uint8
	count       uint32

	// buckets is the flat fingerprint store of
	// (1<<bucketsLog2) * BucketSize * fpBytes bytes. An all-zero
	// fingerprint marks an empty slot; stored fingerprints are forced
	// nonzero.
	buckets []byte

	indexKey [32]byte
	altKey   [32]byte
	fpKey    [32]byte
}

// New creates an empty filter sized for capacity items at the target
// false-positive rate, with a fresh random filter key.
func New(capacity int, falsePositiveRate float64) (*Filter, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("draw filter key: %w", err)
	}
	return NewWithKey(capacity, falsePositiveRate, key)
}

// NewWithKey creates an empty filter with a caller-provided key. Used when
// decoding and by tests that need a reproducible filter.
func NewWithKey(capacity int, falsePositiveRate float64, key [KeySize]byte) (*Filter, error) {
	if capacity < 1 {
		return nil, errors.New("capacity must be positive")
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, errors.New("false-positive rate must be in (0, 1)")
	}

	f := &Filter{
		key:         key,
		fpBytes:     fingerprintBytes(falsePositiveRate),
		bucketsLog2: bucketsLog2For(capacity),
	}
	f.buckets = make([]byte, (1<<f.bucketsLog2)*BucketSize*f.fpBytes)
	f.deriveSubkeys()
	return f, nil
}

// fingerprintBytes sizes the fingerprint for a target false-positive rate.
// With b-slot buckets the per-query bound is roughly 2b/2^f for an f-bit
// fingerprint, so f = log2(2b/p) rounded up to whole bytes.
func fingerprintBytes(p float64) int {
	bits := math.Ceil(math.Log2(2 * BucketSize / p))
	n := int(math.Ceil(bits / 8))
	if n < minFingerprintBytes {
		n = minFingerprintBytes
	}
	if n > maxFingerprintBytes {
		n = maxFingerprintBytes
	}
	return n
}

func bucketsLog2For(capacity int) uint8 {
	need := math.Ceil(float64(capacity) / (BucketSize * loadFactor))
	var l uint8
	for l = 0; l < 31; l++ {
		if float64(uint64(1)<<l) >= need {
			break
		}
	}
	return l
}

// deriveSubkeys expands the filter key into the three keyed-hash subkeys.
func (f *Filter) deriveSubkeys() {
	kdf := hkdf.New(sha256.New, f.key[:], nil, []byte("proxtrace cuckoo filter v1"))
	for _, out := range [][]byte{f.indexKey[:], f.altKey[:], f.fpKey[:]} {
		if _, err := io.ReadFull(kdf, out); err != nil {
			// HKDF-SHA256 cannot fail within 3*32 bytes of output.
			panic(err)
		}
	}
}

// Key returns the recorded filter key.
func (f *Filter) Key() [KeySize]byte {
	return f.key
}

// Count returns the number of items inserted.
func (f *Filter) Count() uint32 {
	return f.count
}

// Capacity returns the number of fingerprint slots.
func (f *Filter) Capacity() int {
	return (1 << f.bucketsLog2) * BucketSize
}

func (f *Filter) numBuckets() uint64 {
	return 1 << f.bucketsLog2
}

func (f *Filter) fingerprint(item []byte) []byte {
	sum := sha256.Sum256(append(append([]byte{}, f.fpKey[:]...), item...))
	fp := make([]byte, f.fpBytes)
	copy(fp, sum[:f.fpBytes])
	if isZero(fp) {
		fp[len(fp)-1] = 1
	}
	return fp
}

func (f *Filter) primaryIndex(item []byte) uint64 {
	sum := sha256.Sum256(append(append([]byte{}, f.indexKey[:]...), item...))
	return binary.BigEndian.Uint64(sum[:8]) & (f.numBuckets() - 1)
}

// altIndex computes the partner bucket from an index and a fingerprint. The
// XOR form makes the relation symmetric: altIndex(altIndex(i, fp), fp) == i.
func (f *Filter) altIndex(index uint64, fp []byte) uint64 {
	sum := sha256.Sum256(append(append([]byte{}, f.altKey[:]...), fp...))
	return (index ^ binary.BigEndian.Uint64(sum[:8])) & (f.numBuckets() - 1)
}

func (f *Filter) slot(bucket uint64, slot int) []byte {
	off := (int(bucket)*BucketSize + slot) * f.fpBytes
	return f.buckets[off : off+f.fpBytes]
}

func (f *Filter) insertIntoBucket(bucket uint64, fp []byte) bool {
	for s := 0; s < BucketSize; s++ {
		target := f.slot(bucket, s)
		if isZero(target) {
			copy(target, fp)
			return true
		}
	}
	return false
}

// Insert adds an item to the filter. Inserting an item twice stores two
// fingerprints; callers that need set semantics should deduplicate first.
func (f *Filter) Insert(item []byte) error {
	fp := f.fingerprint(item)
	i1 := f.primaryIndex(item)
	i2 := f.altIndex(i1, fp)

	if f.insertIntoBucket(i1, fp) || f.insertIntoBucket(i2, fp) {
		f.count++
		return nil
	}

	// Both buckets full: relocate. The victim slot choice is derived from
	// the evicted fingerprint so that construction stays deterministic for
	// a fixed key and insertion order.
	index := i1
	for kick := 0; kick < maxKicks; kick++ {
		victim := int(fp[0]) % BucketSize
		slot := f.slot(index, victim)

		evicted := make([]byte, f.fpBytes)
		copy(evicted, slot)
		copy(slot, fp)

		fp = evicted
		index = f.altIndex(index, fp)
		if f.insertIntoBucket(index, fp) {
			f.count++
			return nil
		}
	}
	return ErrFilterFull
}

// Contains reports whether the item may have been inserted. A true result is
// correct with probability at least 1-p; a false result is always correct.
func (f *Filter) Contains(item []byte) bool {
	fp := f.fingerprint(item)
	i1 := f.primaryIndex(item)
	i2 := f.altIndex(i1, fp)

	for _, bucket := range []uint64{i1, i2} {
		for s := 0; s < BucketSize; s++ {
			if bytesEqual(f.slot(bucket, s), fp) {
				return true
			}
		}
	}
	return false
}

// Encode serializes the filter with its key so that a decoder reproduces the
// exact same hash schedule.
func (f *Filter) Encode() []byte {
	out := make([]byte, headerSize+len(f.buckets))
	out[0] = encodingVersion
	out[1] = byte(f.fpBytes)
	out[2] = f.bucketsLog2
	binary.BigEndian.PutUint32(out[4:8], f.count)
	copy(out[8:8+KeySize], f.key[:])
	copy(out[headerSize:], f.buckets)
	return out
}

// Decode reconstructs a filter from its serialized form, validating every
// header invariant against the byte length before accepting it.
func Decode(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptFilter)
	}
	if data[0] != encodingVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorruptFilter, data[0])
	}

	fpBytes := int(data[1])
	if fpBytes < minFingerprintBytes || fpBytes > maxFingerprintBytes {
		return nil, fmt.Errorf("%w: fingerprint size %d", ErrCorruptFilter, fpBytes)
	}
	bucketsLog2 := data[2]
	if bucketsLog2 > 31 {
		return nil, fmt.Errorf("%w: bucket exponent %d", ErrCorruptFilter, bucketsLog2)
	}

	bucketLen := (1 << bucketsLog2) * BucketSize * fpBytes
	if len(data) != headerSize+bucketLen {
		return nil, fmt.Errorf("%w: body length %d, header declares %d",
			ErrCorruptFilter, len(data)-headerSize, bucketLen)
	}

	count := binary.BigEndian.Uint32(data[4:8])
	if count > uint32(1<<bucketsLog2)*BucketSize {
		return nil, fmt.Errorf("%w: count %d exceeds capacity", ErrCorruptFilter, count)
	}

	f := &Filter{
		fpBytes:     fpBytes,
		bucketsLog2: bucketsLog2,
		count:       count,
		buckets:     make([]byte, bucketLen),
	}
	copy(f.key[:], data[8:8+KeySize])
	copy(f.buckets, data[headerSize:])
	f.deriveSubkeys()
	return f, nil
}

// Build constructs a filter holding every item. It sizes for the item count,
// and on a failed construction retries with doubled capacity and a fresh key.
func Build(items [][]byte, falsePositiveRate float64) (*Filter, error) {
	capacity := len(items)
	if capacity < BucketSize {
		capacity = BucketSize
	}

	for attempt := 0; attempt < 8; attempt++ {
		f, err := New(capacity, falsePositiveRate)
		if err != nil {
			return nil, err
		}
		if err := insertAll(f, items); err == nil {
			return f, nil
		} else if !errors.Is(err, ErrFilterFull) {
			return nil, err
		}
		capacity *= 2
	}
	return nil, ErrFilterFull
}

func insertAll(f *Filter, items [][]byte) error {
	for _, item := range items {
		if err := f.Insert(item); err != nil {
			return err
		}
	}
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
