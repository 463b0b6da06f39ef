package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type (
	// StreamName identifies a single append-only log
	StreamName string

	// ExpectedVersion is the optimistic concurrency precondition of an
	// append. Non-negative values are exact versions (the index of the last
	// event in the stream)
	ExpectedVersion int64

	// StreamReadPosition is a logical position used as a read cursor
	StreamReadPosition uint64

	// Metadata carries arbitrary key/value pairs alongside an event
	Metadata map[string]any

	// StreamEvent is a single event as produced for, or read from, a stream
	StreamEvent struct {
		// Payload is the typed domain event. It is nil when Failure is set
		Payload  any
		Metadata Metadata

		// Failure is set when this event could not be deserialized. The
		// rest of the batch is unaffected
		Failure error

		EventType   string
		ContentType string
		ID          uuid.UUID

		// Position is only populated on read, never by producers
		Position    uint64
		HasPosition bool
	}

	// AppendEventsResult is returned by a fully successful atomic append.
	// When nothing is appended no version check takes place and
	// NextExpectedVersion echoes the expected version, which is AnyVersion
	// if that was given
	AppendEventsResult struct {
		GlobalPosition      uint64
		NextExpectedVersion int64
	}

	// EventStore is the append-only log abstraction
	EventStore interface {
		ReadEvents(
			context.Context, StreamName, StreamReadPosition, int,
		) ([]*StreamEvent, error)
		StreamExists(context.Context, StreamName) (bool, error)
		AppendEvents(
			context.Context, StreamName, ExpectedVersion, []*StreamEvent,
		) (*AppendEventsResult, error)
		TruncateStream(
			context.Context, StreamName, StreamReadPosition, ExpectedVersion,
		) error
		DeleteStream(context.Context, StreamName, ExpectedVersion) error
	}
)

const (
	// NoStream requires that the stream has no events yet
	NoStream ExpectedVersion = -1

	// AnyVersion disables the version check
	AnyVersion ExpectedVersion = -2
)

// StartPosition is the read cursor placed before the first event
const StartPosition StreamReadPosition = 0

// NewStreamName validates and returns a StreamName
func NewStreamName(name string) (StreamName, error) {
	if name == "" {
		return "", ErrInvalidStreamName
	}
	return StreamName(name), nil
}

// Version returns an exact ExpectedVersion. It panics on negative input
func Version(n int64) ExpectedVersion {
	if n < 0 {
		panic(fmt.Sprintf("exact version must be non-negative, got %d", n))
	}
	return ExpectedVersion(n)
}

func (v ExpectedVersion) String() string {
	switch v {
	case NoStream:
		return "no-stream"
	case AnyVersion:
		return "any"
	default:
		return fmt.Sprintf("%d", int64(v))
	}
}

// NewEvent creates a StreamEvent for the payload with a fresh identifier
func NewEvent(payload any, meta Metadata) *StreamEvent {
	return &StreamEvent{
		ID:       uuid.New(),
		Payload:  payload,
		Metadata: meta,
	}
}

func (p StreamReadPosition) native() NativePosition {
	if p == StartPosition {
		return StartNative
	}
	return EncodePosition(uint64(p))
}
