package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	// Store is the EventStore implementation. It keeps no per-stream state
	// of its own; versions and positions live in the Backend
	Store struct {
		backend    Backend
		serializer EventSerializer
		meta       MetadataSerializer
		logger     *zap.Logger
		telemetry  *telemetry
		now        func() time.Time
		pageSize   int
	}

	// Option configures a Store
	Option func(*storeOptions)

	storeOptions struct {
		serializer     EventSerializer
		meta           MetadataSerializer
		logger         *zap.Logger
		tracerProvider trace.TracerProvider
		meterProvider  metric.MeterProvider
		now            func() time.Time
		pageSize       int
	}
)

var _ EventStore = (*Store)(nil)

// WithTypes uses a JSONSerializer over the provided TypeMap
func WithTypes(types *TypeMap) Option {
	return func(o *storeOptions) {
		o.serializer = NewJSONSerializer(types)
	}
}

// WithSerializer overrides the event serializer
func WithSerializer(s EventSerializer) Option {
	return func(o *storeOptions) {
		o.serializer = s
	}
}

// WithMetadataSerializer overrides the metadata serializer
func WithMetadataSerializer(s MetadataSerializer) Option {
	return func(o *storeOptions) {
		o.meta = s
	}
}

// WithLogger sets the logger. The default discards everything
func WithLogger(l *zap.Logger) Option {
	return func(o *storeOptions) {
		o.logger = l
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *storeOptions) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *storeOptions) {
		o.meterProvider = mp
	}
}

// WithPageSize sets the page size used by ReadStream
func WithPageSize(n int) Option {
	return func(o *storeOptions) {
		o.pageSize = n
	}
}

// WithClock overrides the timestamp source passed to the append function
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		o.now = now
	}
}

// NewStore creates a Store over the provided Backend
func NewStore(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}

	o := &storeOptions{
		meta:     NewJSONMetadataSerializer(),
		logger:   zap.NewNop(),
		now:      time.Now,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.serializer == nil {
		o.serializer = NewJSONSerializer(NewTypeMap())
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}

	return &Store{
		backend:    backend,
		serializer: o.serializer,
		meta:       o.meta,
		logger:     o.logger,
		telemetry:  newTelemetry(o.tracerProvider, o.meterProvider),
		now:        o.now,
		pageSize:   o.pageSize,
	}, nil
}

// ReadEvents reads at most count events strictly after from. Events that
// fail to deserialize are returned with Failure set
func (s *Store) ReadEvents(
	ctx context.Context, stream StreamName, from StreamReadPosition, count int,
) ([]*StreamEvent, error) {
	ctx, span := s.telemetry.tracer.Start(ctx, "ledger.read",
		trace.WithAttributes(
			attribute.String("ledger.stream", string(stream)),
			attribute.Int64("ledger.from", int64(from)),
			attribute.Int("ledger.count", count),
		),
	)
	defer span.End()

	entries, err := s.backend.ReadRange(ctx, stream, from.native(), count)
	if err != nil {
		return nil, s.spanError(span, s.unavailable("read", stream, err))
	}

	if len(entries) == 0 {
		ok, err := s.backend.Exists(ctx, stream)
		if err != nil {
			return nil, s.spanError(span, s.unavailable("read", stream, err))
		}
		if !ok {
			return nil, s.spanError(span, &StreamNotFoundError{Stream: stream})
		}
		return []*StreamEvent{}, nil
	}

	res := make([]*StreamEvent, 0, len(entries))
	for _, ent := range entries {
		ev := s.toStreamEvent(ent)
		if ev.Failure != nil {
			s.telemetry.failures.Add(ctx, 1)
			s.logger.Warn("Failed to deserialize event",
				zap.String("stream", string(stream)),
				zap.String("event_type", ent.EventType),
				zap.Uint64("position", ev.Position),
				zap.Error(ev.Failure),
			)
		}
		res = append(res, ev)
	}
	span.SetAttributes(attribute.Int("ledger.events", len(res)))
	return res, nil
}

// ReadStream reads every event after from, one page at a time
func (s *Store) ReadStream(
	ctx context.Context, stream StreamName, from StreamReadPosition,
) ([]*StreamEvent, error) {
	var res []*StreamEvent
	for {
		page, err := s.ReadEvents(ctx, stream, from, s.pageSize)
		if err != nil {
			return nil, err
		}
		res = append(res, page...)
		if len(page) < s.pageSize {
			return res, nil
		}
		from = StreamReadPosition(page[len(page)-1].Position)
	}
}

// StreamExists reports whether the backend has any record of the stream
func (s *Store) StreamExists(
	ctx context.Context, stream StreamName,
) (bool, error) {
	ok, err := s.backend.Exists(ctx, stream)
	if err != nil {
		return false, s.unavailable("exists", stream, err)
	}
	return ok, nil
}

// AppendEvents atomically appends the events if the stream is at the
// expected version. Events with a nil payload are skipped, and a batch with
// nothing left writes nothing and skips the version check. On a mismatch
// nothing is written and a *ConcurrencyConflictError is returned
func (s *Store) AppendEvents(
	ctx context.Context, stream StreamName, expected ExpectedVersion,
	events []*StreamEvent,
) (*AppendEventsResult, error) {
	if stream == "" {
		return nil, ErrInvalidStreamName
	}

	ctx, span := s.telemetry.tracer.Start(ctx, "ledger.append",
		trace.WithAttributes(
			attribute.String("ledger.stream", string(stream)),
			attribute.String("ledger.expected", expected.String()),
		),
	)
	defer span.End()

	raw := make([]RawEvent, 0, len(events))
	for _, ev := range events {
		if ev == nil || ev.Payload == nil {
			continue
		}
		r, err := s.toRawEvent(ev)
		if err != nil {
			return nil, s.spanError(span, err)
		}
		raw = append(raw, *r)
	}
	if len(raw) == 0 {
		return &AppendEventsResult{NextExpectedVersion: int64(expected)}, nil
	}

	resp, err := s.backend.AtomicAppend(ctx, &AppendRequest{
		Stream:    stream,
		Expected:  expected,
		Timestamp: s.now().UTC(),
		Events:    raw,
	})
	if err != nil {
		var conflict *ConcurrencyConflictError
		if errors.As(err, &conflict) {
			s.telemetry.conflicts.Add(ctx, 1)
			s.logger.Debug("Unable to append events",
				zap.String("stream", string(stream)),
				zap.Stringer("expected", expected),
				zap.Int64("actual", conflict.Actual),
			)
			return nil, s.spanError(span, conflict)
		}
		return nil, s.spanError(span, s.unavailable("append", stream, err))
	}

	s.telemetry.appended.Add(ctx, int64(len(raw)))
	span.SetAttributes(attribute.Int64("ledger.version", resp.NextVersion))
	return &AppendEventsResult{
		GlobalPosition:      DecodePosition(resp.LastPosition),
		NextExpectedVersion: resp.NextVersion,
	}, nil
}

// TruncateStream is not supported
func (s *Store) TruncateStream(
	_ context.Context, stream StreamName, _ StreamReadPosition,
	_ ExpectedVersion,
) error {
	return unsupported("truncate", stream)
}

// DeleteStream is not supported
func (s *Store) DeleteStream(
	_ context.Context, stream StreamName, _ ExpectedVersion,
) error {
	return unsupported("delete", stream)
}

// CheckHealth delegates to the Backend when it can report health
func (s *Store) CheckHealth(ctx context.Context) error {
	if hc, ok := s.backend.(HealthChecker); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}

func (s *Store) toRawEvent(ev *StreamEvent) (*RawEvent, error) {
	data, err := s.serializer.SerializeEvent(ev.Payload)
	if err != nil {
		return nil, err
	}
	meta, err := s.meta.Serialize(ev.Metadata)
	if err != nil {
		return nil, err
	}
	id := ev.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &RawEvent{
		ID:          id.String(),
		EventType:   data.EventType,
		ContentType: data.ContentType,
		Data:        data.Data,
		Metadata:    meta,
	}, nil
}

func (s *Store) toStreamEvent(ent *RawEntry) *StreamEvent {
	ev := &StreamEvent{
		EventType:   ent.EventType,
		ContentType: ent.ContentType,
		Position:    DecodePosition(ent.Position),
		HasPosition: true,
	}

	if id, err := uuid.Parse(ent.ID); err == nil {
		ev.ID = id
	}

	meta, err := s.meta.Deserialize(ent.Metadata)
	if err != nil {
		ev.Failure = &SerializationError{EventType: ent.EventType, Err: err}
		return ev
	}
	ev.Metadata = meta

	switch res := s.serializer.DeserializeEvent(
		ent.Data, ent.EventType, ent.ContentType,
	).(type) {
	case Deserialized:
		ev.Payload = res.Payload
	case DeserializationFailed:
		ev.Failure = &SerializationError{EventType: ent.EventType, Err: res.Err}
	case UnknownEventType:
		ev.Failure = &SerializationError{
			EventType: ent.EventType,
			Err:       ErrUnknownEventType,
		}
	default:
		ev.Failure = &SerializationError{
			EventType: ent.EventType,
			Err:       fmt.Errorf("unexpected deserialization result %T", res),
		}
	}
	return ev
}

// unavailable keeps the cause reachable, so a cancelled context still
// matches context.Canceled
func (s *Store) unavailable(op string, stream StreamName, err error) error {
	return &StoreUnavailableError{Op: op, Stream: stream, Err: err}
}

func (s *Store) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
