package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a batch carries the same record id twice.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrImmutable is returned when writing to a record that is already labeled or archived.
	// Labeled outcomes are ground truth and never rewritten.
	ErrImmutable = errors.New("record is immutable")
)
