package ledger

import (
	"context"
	"errors"
)

type (
	// Executor runs commands against aggregates stored as streams. It loads
	// the stream, folds it with the Appliers, runs the command, and appends
	// the raised events expecting the version it loaded
	Executor[T any] struct {
		store      *Store
		appliers   Appliers[T]
		construct  func() T
		cache      *stateCache[T]
		maxRetries int
	}

	// Command inspects state and raises events on the Aggregator
	Command[T any] func(T, *Aggregator[T]) error
)

// NewExecutor creates an Executor. A MaxRetries of zero means conflicts are
// returned to the caller without another attempt
func NewExecutor[T any](
	store *Store, cfg Config, apps Appliers[T], cons func() T,
) *Executor[T] {
	return &Executor[T]{
		store:      store,
		appliers:   apps,
		construct:  cons,
		cache:      newStateCache[T](cfg.CacheSize),
		maxRetries: max(cfg.MaxRetries, 0),
	}
}

func (e *Executor[T]) GetStore() *Store {
	return e.store
}

// Exec runs cmd against the current state of the stream
func (e *Executor[T]) Exec(
	ctx context.Context, stream StreamName, cmd Command[T],
) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		f, err := e.load(ctx, stream)
		if err != nil {
			return zero, err
		}

		ag := newAggregator(stream, e.appliers, f.state, f.version)
		if err := cmd(ag.Value(), ag); err != nil {
			return zero, err
		}
		if len(ag.enqueued) == 0 {
			return f.state, nil
		}

		res, err := e.store.AppendEvents(ctx, stream, ag.expected(), ag.enqueued)
		if err == nil {
			e.cache.put(&folded[T]{
				stream:   stream,
				state:    ag.Value(),
				version:  res.NextExpectedVersion,
				position: res.GlobalPosition,
			})
			for _, fn := range ag.success {
				fn(ag.Value())
			}
			return ag.Value(), nil
		}

		e.cache.remove(stream)
		if !errors.Is(err, ErrConcurrencyConflict) || attempt >= e.maxRetries {
			return zero, err
		}
	}
}

// Load returns the current state of the stream and its version
func (e *Executor[T]) Load(
	ctx context.Context, stream StreamName,
) (T, int64, error) {
	f, err := e.load(ctx, stream)
	if err != nil {
		var zero T
		return zero, 0, err
	}
	return f.state, f.version, nil
}

func (e *Executor[T]) load(
	ctx context.Context, stream StreamName,
) (*folded[T], error) {
	base, ok := e.cache.get(stream)
	if !ok {
		base = &folded[T]{stream: stream, state: e.construct(), version: -1}
	}

	events, err := e.store.ReadStream(
		ctx, stream, StreamReadPosition(base.position),
	)
	if errors.Is(err, ErrStreamNotFound) {
		return base, nil
	}
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return base, nil
	}

	res := &folded[T]{
		stream:   stream,
		state:    base.state,
		version:  base.version,
		position: base.position,
	}
	for _, ev := range events {
		if ev.Failure != nil {
			return nil, ev.Failure
		}
		res.state = e.appliers.apply(res.state, ev)
		res.version++
		res.position = ev.Position
	}
	e.cache.put(res)
	return res, nil
}
