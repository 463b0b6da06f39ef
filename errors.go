package ledger

import (
	"errors"
	"fmt"
)

type (
	// StreamNotFoundError is returned when reading a stream the backend has
	// no record of
	StreamNotFoundError struct {
		Stream StreamName
	}

	// ConcurrencyConflictError is returned when an append's expected version
	// does not match the stream's actual version. Nothing was written
	ConcurrencyConflictError struct {
		Err      error
		Stream   StreamName
		Expected ExpectedVersion
		Actual   int64
	}

	// SerializationError reports a payload or metadata that could not be
	// encoded or decoded
	SerializationError struct {
		Err       error
		EventType string
	}

	// StoreUnavailableError wraps any other backend failure
	StoreUnavailableError struct {
		Err    error
		Op     string
		Stream StreamName
	}
)

var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrSerialization       = errors.New("serialization failure")
	ErrUnsupported         = errors.New("operation not supported")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrMalformedPosition   = errors.New("malformed stream position")
	ErrInvalidStreamName   = errors.New("stream name must not be empty")
	ErrUnexpectedLuaResult = errors.New("unexpected result from Lua script")
	ErrNilBackend          = errors.New("backend is required")
	ErrUnknownEventType    = errors.New("unknown event type")
)

func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("stream not found: %s", e.Stream)
}

func (e *StreamNotFoundError) Unwrap() error {
	return ErrStreamNotFound
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf(
		"concurrency conflict on %s: expected version %s, but at %d",
		e.Stream, e.Expected, e.Actual,
	)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

func (e *ConcurrencyConflictError) Unwrap() error {
	return e.Err
}

func (e *SerializationError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("%s: %v", ErrSerialization, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrSerialization, e.EventType, e.Err)
}

func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Stream, ErrStoreUnavailable, e.Err)
}

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func unsupported(op string, stream StreamName) error {
	return fmt.Errorf("%s %s: %w", op, stream, ErrUnsupported)
}
