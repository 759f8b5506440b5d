package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSeed(fill byte) Seed {
	var s Seed
	for i := range s {
		s[i] = fill
	}
	return s
}

func TestNewDeriverRejectsUnknownAlgo(t *testing.T) {
	_, err := NewDeriver("md5")
	require.Error(t, err)

	for _, algo := range []HashAlgo{HashSHA256, HashSHA3256} {
		d, err := NewDeriver(algo)
		require.NoError(t, err)
		require.Equal(t, algo, d.Algo())
	}
}

func TestDayKeyChainIsDeterministic(t *testing.T) {
	for _, algo := range []HashAlgo{HashSHA256, HashSHA3256} {
		t.Run(string(algo), func(t *testing.T) {
			d, err := NewDeriver(algo)
			require.NoError(t, err)

			root := testSeed(0x01)
			a, b := root, root
			for i := 0; i < 10; i++ {
				a = d.NextDayKey(a)
				b = d.NextDayKey(b)
				require.True(t, a.Equal(b))
				require.False(t, a.Equal(root))
			}
		})
	}
}

func TestChainHashAlgosDiverge(t *testing.T) {
	sha2, err := NewDeriver(HashSHA256)
	require.NoError(t, err)
	sha3, err := NewDeriver(HashSHA3256)
	require.NoError(t, err)

	root := testSeed(0x01)
	require.False(t, sha2.NextDayKey(root).Equal(sha3.NextDayKey(root)))
}

func TestEphIDForEpochMatchesDayTable(t *testing.T) {
	d, err := NewDeriver(HashSHA256)
	require.NoError(t, err)

	key := testSeed(0x42)
	const n = 96
	table := d.EphIDsForDay(key, n)
	require.Len(t, table, n)

	for epoch := 0; epoch < n; epoch++ {
		require.True(t, table[epoch].Equal(d.EphIDForEpoch(key, epoch)),
			"epoch %d seek disagrees with stream expansion", epoch)
	}
}

func TestEphIDTableDependsOnKey(t *testing.T) {
	d, err := NewDeriver(HashSHA256)
	require.NoError(t, err)

	a := d.EphIDsForDay(testSeed(0x01), 4)
	b := d.EphIDsForDay(testSeed(0x02), 4)
	for i := range a {
		require.False(t, a[i].Equal(b[i]))
	}
}

func TestEphIDFromSeed(t *testing.T) {
	d, err := NewDeriver(HashSHA256)
	require.NoError(t, err)

	id := d.EphIDFromSeed(testSeed(0x07))
	require.True(t, id.Equal(d.EphIDFromSeed(testSeed(0x07))))
	require.False(t, id.Equal(d.EphIDFromSeed(testSeed(0x08))))
}

func TestHashedObservationBindsEpoch(t *testing.T) {
	d, err := NewDeriver(HashSHA256)
	require.NoError(t, err)

	id := d.EphIDFromSeed(testSeed(0x07))
	require.Equal(t, d.HashedObservation(id, 100), d.HashedObservation(id, 100))
	require.NotEqual(t, d.HashedObservation(id, 100), d.HashedObservation(id, 101))

	// Observer-side and discloser-side derivations must agree.
	require.Equal(t, d.HashedObservation(id, 100), d.HashedObservationFromSeed(testSeed(0x07), 100))
}

func TestSecureShuffleFromIsReproducible(t *testing.T) {
	items := func() []int {
		out := make([]int, 32)
		for i := range out {
			out[i] = i
		}
		return out
	}

	a, b := items(), items()
	require.NoError(t, SecureShuffleFrom(&countingReader{}, a))
	require.NoError(t, SecureShuffleFrom(&countingReader{}, b))
	require.Equal(t, a, b)

	// Same multiset, different order than the identity with overwhelming
	// probability for 32 elements.
	require.NotEqual(t, items(), a)
	require.ElementsMatch(t, items(), a)
}
