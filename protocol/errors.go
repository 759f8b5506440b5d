package protocol

import "errors"

var (
	// ErrChainExhausted is returned by SeedChain.Rotate once the chain has
	// run past its configured lifetime. Fatal: the device must be
	// re-provisioned with a fresh root key.
	ErrChainExhausted = errors.New("seed chain exhausted")

	// ErrInvalidEpoch is returned for epoch indices outside [0, EpochsPerDay).
	ErrInvalidEpoch = errors.New("epoch index out of range")

	// ErrTimeOutOfRange is returned when a timestamp predates the chain's
	// root day or postdates the current day.
	ErrTimeOutOfRange = errors.New("time out of tracing range")

	// ErrStaleObservation marks an observation whose timestamp falls
	// outside the current day. Stale observations are logged and dropped;
	// they are expected under normal operation from late-arriving scans.
	ErrStaleObservation = errors.New("observation outside current day")

	// ErrAlreadyRotated guards against advancing the day twice within one
	// day, which would silently skip a day's identifiers and corrupt the
	// forward-chain invariants.
	ErrAlreadyRotated = errors.New("day already rotated")

	// ErrMalformedBatch is returned for tracing batches that violate the
	// variant's length or header invariants. Recoverable: the batch is
	// skipped and matching continues with the remaining batches.
	ErrMalformedBatch = errors.New("malformed tracing batch")
)
