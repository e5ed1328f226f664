package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Trades and signals are append-only.
	ErrDuplicateKey = errors.New("duplicate key: append-only record already exists")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConditionFailed is returned when a conditional write finds the item
	// in a different state or version than the caller expected.
	ErrConditionFailed = errors.New("conditional write failed")
)
