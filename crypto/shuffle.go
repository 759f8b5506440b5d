package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// SecureShuffle permutes items in place using a cryptographically secure
// source. Broadcast tables and stored observation lists are shuffled so that
// neither leaks derivation or receive order.
func SecureShuffle[T any](items []T) error {
	return SecureShuffleFrom(rand.Reader, items)
}

// SecureShuffleFrom is SecureShuffle with an explicit randomness source, so
// tests can make shuffles reproducible.
func SecureShuffleFrom[T any](r io.Reader, items []T) error {
	// Fisher-Yates with rejection sampling for unbiased indices.
	for i := len(items) - 1; i > 0; i-- {
		j, err := uniformInt(r, uint64(i)+1)
		if err != nil {
			return fmt.Errorf("secure shuffle: %w", err)
		}
		items[i], items[j] = items[j], items[i]
	}
	return nil
}

func uniformInt(r io.Reader, n uint64) (uint64, error) {
	limit := (^uint64(0) / n) * n
	var buf [8]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return v % n, nil
		}
	}
}
