package ledger

import (
	"context"
	"time"
)

type (
	// Backend is the narrow capability a Store needs from a data store.
	// Implementations report version mismatches as *ConcurrencyConflictError
	// and return any other failure as-is
	Backend interface {
		// ReadRange returns at most count entries strictly after the
		// provided position, or from the beginning for StartNative. A count
		// of zero or less reads to the end
		ReadRange(
			ctx context.Context, stream StreamName, after NativePosition,
			count int,
		) ([]*RawEntry, error)

		// AtomicAppend checks the expected version and appends every event
		// in one indivisible operation
		AtomicAppend(context.Context, *AppendRequest) (*AppendResponse, error)

		// Exists reports whether the backend holds any record of the stream
		Exists(context.Context, StreamName) (bool, error)
	}

	// HealthChecker reports whether a component can reach its backend
	HealthChecker interface {
		CheckHealth(context.Context) error
	}

	// RawEvent is a serialized event as handed to a Backend
	RawEvent struct {
		ID          string
		EventType   string
		ContentType string
		Data        []byte
		Metadata    []byte
	}

	// RawEntry is a RawEvent read back together with its native position
	RawEntry struct {
		RawEvent
		Position NativePosition
	}

	// AppendRequest is the full input of one atomic append
	AppendRequest struct {
		Timestamp time.Time
		Stream    StreamName
		Events    []RawEvent
		Expected  ExpectedVersion
	}

	// AppendResponse is the outcome of a successful atomic append
	AppendResponse struct {
		LastPosition NativePosition
		NextVersion  int64
	}
)
