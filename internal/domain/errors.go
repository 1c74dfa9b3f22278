package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every stage of the pipeline.
var (
	// ErrInvalidInput is returned when pricing or risk preconditions are violated.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInputData is returned for malformed or missing upstream data for one record or symbol.
	ErrInputData = errors.New("input data error")

	// ErrExternalService is returned when a provider is unreachable or answers with an error.
	ErrExternalService = errors.New("external service error")

	// ErrPersistence is returned when an output write fails. It aborts the whole run.
	ErrPersistence = errors.New("persistence error")
)

// RecordError scopes an error to the record (or symbol) that produced it.
type RecordError struct {
	Key    string // contract key, empty for symbol-scoped failures
	Symbol string
	Err    error
}

func (e *RecordError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("symbol %s: %v", e.Symbol, e.Err)
	}
	return fmt.Sprintf("record %s: %v", e.Key, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// NewRecordError wraps err with the offending contract key.
func NewRecordError(key ContractKey, err error) *RecordError {
	return &RecordError{Key: key.String(), Symbol: key.Symbol, Err: err}
}

// NewSymbolError wraps err with the offending symbol.
func NewSymbolError(symbol string, err error) *RecordError {
	return &RecordError{Symbol: symbol, Err: err}
}

// IsRecordScoped reports whether err should skip one record or symbol instead of aborting a run.
func IsRecordScoped(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInputData) ||
		errors.Is(err, ErrExternalService)
}

// Reason returns a short classification of err for run summaries.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInputData):
		return "input_data"
	case errors.Is(err, ErrExternalService):
		return "external_service"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}
