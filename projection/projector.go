package projection

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kode4food/ledger"
)

type (
	// ReceivedEvent is one delivered event, as handed over by a
	// subscription runtime
	ReceivedEvent struct {
		Payload        any
		Metadata       ledger.Metadata
		Stream         ledger.StreamName
		EventType      string
		ContentType    string
		ID             uuid.UUID
		StreamPosition uint64
	}

	// EventHandler is invoked once per delivered event
	EventHandler interface {
		HandleEvent(context.Context, *ReceivedEvent) error
	}

	// ReadModel is a document store capable of a conditional upsert.
	// Upsert inserts the document if absent, applies the update and stamps
	// the position only if the stored position is older, and reports
	// whether anything was written. C is the raw collection handle type
	ReadModel[C any] interface {
		Collection() C
		Upsert(ctx context.Context, f Filter, u *Update, position int64) (bool, error)
	}

	// Resolver decides the Operation for one event
	Resolver[C any] func(context.Context, *ReceivedEvent) Operation[C]

	// Projector dispatches received events to a ReadModel. It holds no
	// mutable state once resolvers are registered, and is safe to invoke
	// concurrently for distinct events.
	//
	// The position guard compares logical positions, which are only ordered
	// within one stream. Each document must be fed by events of a single
	// stream, or a later event of another stream may be dropped as stale
	Projector[C any] struct {
		readModel ReadModel[C]
		resolvers map[reflect.Type]Resolver[C]
		logger    *zap.Logger
		mu        sync.RWMutex
	}

	// Option configures a Projector
	Option func(*options)

	options struct {
		logger *zap.Logger
	}

	// HandlingError reports an operation that failed to execute
	HandlingError struct {
		Err       error
		EventType string
		Position  uint64
	}
)

var (
	_ EventHandler = (*Projector[any])(nil)

	ErrUnknownOperation = errors.New("unknown operation")
)

// WithLogger sets the logger. The default discards everything
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewProjector creates a Projector over the provided ReadModel
func NewProjector[C any](rm ReadModel[C], opts ...Option) *Projector[C] {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return &Projector[C]{
		readModel: rm,
		resolvers: map[reflect.Type]Resolver[C]{},
		logger:    o.logger,
	}
}

// On registers fn for payloads of type E (or *E)
func On[C, E any](
	p *Projector[C],
	fn func(context.Context, E, *ReceivedEvent) Operation[C],
) {
	p.Register(reflect.TypeFor[E](),
		func(ctx context.Context, ev *ReceivedEvent) Operation[C] {
			switch v := ev.Payload.(type) {
			case E:
				return fn(ctx, v, ev)
			case *E:
				if v != nil {
					return fn(ctx, *v, ev)
				}
			}
			return NoOp[C]{}
		},
	)
}

// Register binds a Resolver to a payload type
func (p *Projector[C]) Register(typ reflect.Type, r Resolver[C]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolvers[typ] = r
}

// HandleEvent resolves and executes the Operation for ev. Events with no
// applicable operation are skipped without error
func (p *Projector[C]) HandleEvent(
	ctx context.Context, ev *ReceivedEvent,
) error {
	if ev == nil {
		return nil
	}

	var err error
	switch op := p.resolve(ctx, ev).(type) {
	case nil, NoOp[C]:
		p.logger.Debug("No handler for event",
			zap.String("event_type", eventName(ev)),
			zap.Uint64("position", ev.StreamPosition),
		)
		return nil
	case UpdateOp[C]:
		p.logger.Debug("Projecting event",
			zap.String("event_type", eventName(ev)),
			zap.String("document_id", op.Filter.ID),
		)
		err = p.update(ctx, ev, op)
	case CollectionOp[C]:
		p.logger.Debug("Projecting event",
			zap.String("event_type", eventName(ev)),
		)
		err = op.Execute(ctx, p.readModel.Collection())
	case OtherOp[C]:
		err = op.Execute(ctx)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownOperation, op)
	}

	if err != nil {
		return &HandlingError{
			EventType: eventName(ev),
			Position:  ev.StreamPosition,
			Err:       err,
		}
	}
	return nil
}

// CheckHealth delegates to the ReadModel when it can report health
func (p *Projector[C]) CheckHealth(ctx context.Context) error {
	if hc, ok := p.readModel.(ledger.HealthChecker); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}

func (p *Projector[C]) resolve(
	ctx context.Context, ev *ReceivedEvent,
) Operation[C] {
	if ev.Payload == nil {
		return nil
	}
	typ := reflect.TypeOf(ev.Payload)

	p.mu.RLock()
	r, ok := p.resolvers[typ]
	if !ok && typ.Kind() == reflect.Pointer {
		r, ok = p.resolvers[typ.Elem()]
	}
	p.mu.RUnlock()

	if !ok {
		return nil
	}
	return r(ctx, ev)
}

func (p *Projector[C]) update(
	ctx context.Context, ev *ReceivedEvent, op UpdateOp[C],
) error {
	if err := op.Update.Validate(); err != nil {
		return err
	}
	pos, err := ToPosition(ev.StreamPosition)
	if err != nil {
		return err
	}
	applied, err := p.readModel.Upsert(ctx, op.Filter, op.Update, pos)
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Debug("Skipping stale event",
			zap.String("event_type", eventName(ev)),
			zap.String("document_id", op.Filter.ID),
			zap.Uint64("position", ev.StreamPosition),
		)
	}
	return nil
}

func (e *HandlingError) Error() string {
	return fmt.Sprintf(
		"failed to project %s at position %d: %v",
		e.EventType, e.Position, e.Err,
	)
}

func (e *HandlingError) Unwrap() error {
	return e.Err
}

// FromStreamEvent converts an event read from a stream into a ReceivedEvent
func FromStreamEvent(
	stream ledger.StreamName, ev *ledger.StreamEvent,
) *ReceivedEvent {
	return &ReceivedEvent{
		ID:             ev.ID,
		Stream:         stream,
		EventType:      ev.EventType,
		ContentType:    ev.ContentType,
		Payload:        ev.Payload,
		Metadata:       ev.Metadata,
		StreamPosition: ev.Position,
	}
}

func eventName(ev *ReceivedEvent) string {
	if ev.EventType != "" {
		return ev.EventType
	}
	if ev.Payload == nil {
		return "<nil>"
	}
	return reflect.TypeOf(ev.Payload).String()
}
