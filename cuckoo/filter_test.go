package cuckoo

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomItems(t *testing.T, n int) [][]byte {
	t.Helper()
	items := make([][]byte, n)
	for i := range items {
		items[i] = make([]byte, 32)
		_, err := rand.Read(items[i])
		require.NoError(t, err)
	}
	return items
}

func TestNoFalseNegatives(t *testing.T) {
	items := randomItems(t, 1000)
	f, err := Build(items, 0.001)
	require.NoError(t, err)
	require.Equal(t, uint32(len(items)), f.Count())

	for i, item := range items {
		require.True(t, f.Contains(item), "inserted item %d not found", i)
	}
}

func TestBoundedFalsePositives(t *testing.T) {
	const target = 0.01
	f, err := Build(randomItems(t, 2000), target)
	require.NoError(t, err)

	falsePositives := 0
	const trials = 20000
	probe := make([]byte, 32)
	for i := 0; i < trials; i++ {
		binary.BigEndian.PutUint64(probe, uint64(i))
		if f.Contains(probe) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / trials
	require.Less(t, rate, 4*target, "false-positive rate %f exceeds bound", rate)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	items := randomItems(t, 500)
	f, err := Build(items, 0.001)
	require.NoError(t, err)

	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	require.Equal(t, f.Count(), decoded.Count())
	require.Equal(t, f.Key(), decoded.Key())

	// The recorded key must make queries reproducible after decoding.
	for _, item := range items {
		require.True(t, decoded.Contains(item))
	}

	require.Equal(t, f.Encode(), decoded.Encode())
}

func TestDecodeRejectsCorrupt(t *testing.T) {
	f, err := Build(randomItems(t, 10), 0.01)
	require.NoError(t, err)
	good := f.Encode()

	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"truncated header", func(b []byte) []byte { return b[:headerSize-1] }},
		{"unknown version", func(b []byte) []byte { b[0] = 99; return b }},
		{"fingerprint size zero", func(b []byte) []byte { b[1] = 0; return b }},
		{"oversized bucket exponent", func(b []byte) []byte { b[2] = 40; return b }},
		{"body length mismatch", func(b []byte) []byte { return b[:len(b)-1] }},
		{"count exceeds capacity", func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[4:8], 1<<30)
			return b
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mangled := tc.mangle(append([]byte{}, good...))
			_, err := Decode(mangled)
			require.ErrorIs(t, err, ErrCorruptFilter)
		})
	}
}

func TestInsertReportsFull(t *testing.T) {
	f, err := New(4, 0.01)
	require.NoError(t, err)

	var sawFull bool
	item := make([]byte, 8)
	for i := 0; i < 200; i++ {
		binary.BigEndian.PutUint64(item, uint64(i))
		if err := f.Insert(item); err != nil {
			require.ErrorIs(t, err, ErrFilterFull)
			sawFull = true
			break
		}
	}
	require.True(t, sawFull, "small filter never filled up")
}

func TestBuildResizesUntilItFits(t *testing.T) {
	// Build must absorb far more items than the initial sizing would hold
	// for the smallest capacity class.
	items := randomItems(t, 64)
	f, err := Build(items, 0.01)
	require.NoError(t, err)
	for _, item := range items {
		require.True(t, f.Contains(item))
	}
}

func TestFreshFiltersUseDistinctKeys(t *testing.T) {
	a, err := New(16, 0.01)
	require.NoError(t, err)
	b, err := New(16, 0.01)
	require.NoError(t, err)
	require.NotEqual(t, a.Key(), b.Key())
}

func TestFingerprintSizing(t *testing.T) {
	require.Equal(t, 2, fingerprintBytes(0.01))
	require.Equal(t, 6, fingerprintBytes(0x1p-42))
	require.Equal(t, 1, fingerprintBytes(0.5))
	require.Equal(t, 8, fingerprintBytes(0x1p-62))
}
