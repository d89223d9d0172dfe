package tst

import "errors"

// Insert errors. A miss on Search, Get or Delete is not an error; it is
// reported through the boolean result.
var (
	// ErrDuplicateKey indicates the key is already stored. The stored
	// payload is left untouched; use Replace to overwrite it.
	ErrDuplicateKey = errors.New("tst: duplicate key")

	// ErrEmptyKey indicates a zero-length key
	ErrEmptyKey = errors.New("tst: empty key")

	// ErrInvalidKey indicates a key containing a NUL byte, which is
	// reserved as the end-of-key marker
	ErrInvalidKey = errors.New("tst: key contains NUL byte")

	// ErrAllocation indicates the arena cannot supply the nodes an insert
	// needs without exceeding its configured maximum
	ErrAllocation = errors.New("tst: node arena exhausted")
)
