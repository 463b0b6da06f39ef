package ledger

type (
	// Aggregator maintains aggregate state and tracks events raised during a
	// command. It is not safe for concurrent use
	Aggregator[T any] struct {
		value    T
		appliers Appliers[T]
		stream   StreamName
		enqueued []*StreamEvent
		version  int64
		success  []SuccessAction[T]
	}

	// SuccessAction receives the Aggregator's final value upon Exec success
	SuccessAction[T any] func(T)
)

func newAggregator[T any](
	stream StreamName, appliers Appliers[T], initValue T, version int64,
) *Aggregator[T] {
	return &Aggregator[T]{
		stream:   stream,
		version:  version,
		enqueued: []*StreamEvent{},
		appliers: appliers,
		value:    initValue,
	}
}

// Stream returns the name of the aggregate's stream
func (a *Aggregator[_]) Stream() StreamName {
	return a.stream
}

// Value returns the aggregate's current state
func (a *Aggregator[T]) Value() T {
	return a.value
}

// Version returns the stream version the command started from, or -1 if the
// stream did not exist
func (a *Aggregator[_]) Version() int64 {
	return a.version
}

// Enqueued returns the events raised during the current command
func (a *Aggregator[_]) Enqueued() []*StreamEvent {
	return a.enqueued
}

// OnSuccess registers an action to run if the executor completes without error
func (a *Aggregator[T]) OnSuccess(fn SuccessAction[T]) {
	a.success = append(a.success, fn)
}

// Apply updates the aggregate state using the applier for the event
func (a *Aggregator[T]) Apply(ev *StreamEvent) {
	a.value = a.appliers.apply(a.value, ev)
}

func (a *Aggregator[T]) raise(payload any, meta Metadata) {
	ev := NewEvent(payload, meta)
	a.enqueued = append(a.enqueued, ev)
	a.Apply(ev)
}

// expected returns the precondition for appending the enqueued events
func (a *Aggregator[_]) expected() ExpectedVersion {
	if a.version < 0 {
		return NoStream
	}
	return Version(a.version)
}

// Raise enqueues a new event on the Aggregator and applies it
func Raise[T, V any](ag *Aggregator[T], value V) {
	ag.raise(value, nil)
}

// RaiseWithMetadata is Raise with metadata attached to the event
func RaiseWithMetadata[T, V any](ag *Aggregator[T], value V, meta Metadata) {
	ag.raise(value, meta)
}
