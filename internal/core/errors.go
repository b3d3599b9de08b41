package core

import "errors"

var (
	// ErrProvider indicates that a vendor call failed. It never escapes an Invoker; the
	// failure is carried by a TrialResult with Success=false.
	ErrProvider = errors.New("provider error")
	// ErrValidation indicates malformed input to a public operation. No state has been
	// mutated when it is returned.
	ErrValidation = errors.New("validation error")
	// ErrStorage indicates that the persistence layer is unavailable or a write failed.
	ErrStorage = errors.New("storage error")
	// ErrConcurrencyConflict indicates that an optimistic rating update lost a race.
	// Stores retry it a bounded number of times before wrapping it in ErrStorage.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
