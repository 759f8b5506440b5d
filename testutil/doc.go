// Package testutil provides deterministic clocks, randomness sources, and
// configuration generators for tests.
package testutil
