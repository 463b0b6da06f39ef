package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type (
	// ClientFactory returns a ready-to-use Redis handle. Pooling and
	// reconnection are the factory's concern
	ClientFactory func() redis.UniversalClient

	// RedisBackend stores each stream as a Redis stream plus a meta hash
	RedisBackend struct {
		client       ClientFactory
		appendLua    *redis.Script
		prefix       string
		useFunctions bool
	}
)

const (
	entriesSuffix = ":events"
	metaSuffix    = ":meta"

	fieldMessageID   = "message_id"
	fieldMessageType = "message_type"
	fieldData        = "json_data"
	fieldMetadata    = "json_metadata"
	fieldContentType = "content_type"
)

var (
	_ Backend       = (*RedisBackend)(nil)
	_ HealthChecker = (*RedisBackend)(nil)

	ErrNilClientFactory = errors.New("redis client factory is required")
)

// NewRedisClient connects to the configured server and verifies it responds
func NewRedisClient(ctx context.Context, cfg StoreConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, RedisConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisBackend creates a RedisBackend bound to the client factory
func NewRedisBackend(
	client ClientFactory, cfg StoreConfig,
) (*RedisBackend, error) {
	if client == nil {
		return nil, ErrNilClientFactory
	}
	return &RedisBackend{
		client:       client,
		prefix:       cfg.Prefix,
		useFunctions: cfg.UseFunctions,
		appendLua:    redis.NewScript(luaAppendEvents),
	}, nil
}

// LoadFunctions registers (or replaces) the append function library on the
// server, which FCALL mode requires
func (b *RedisBackend) LoadFunctions(ctx context.Context) error {
	return b.client().FunctionLoadReplace(ctx, luaLibrary).Err()
}

func (b *RedisBackend) ReadRange(
	ctx context.Context, stream StreamName, after NativePosition, count int,
) ([]*RawEntry, error) {
	start := after
	if after != StartNative {
		start = after.next()
	}

	key := b.entriesKey(stream)
	client := b.client()

	var msgs []redis.XMessage
	var err error
	if count > 0 {
		msgs, err = client.XRangeN(
			ctx, key, start.String(), "+", int64(count),
		).Result()
	} else {
		msgs, err = client.XRange(ctx, key, start.String(), "+").Result()
	}
	if err != nil {
		return nil, err
	}

	res := make([]*RawEntry, 0, len(msgs))
	for _, msg := range msgs {
		ent, err := toRawEntry(msg)
		if err != nil {
			return nil, err
		}
		res = append(res, ent)
	}
	return res, nil
}

func (b *RedisBackend) AtomicAppend(
	ctx context.Context, req *AppendRequest,
) (*AppendResponse, error) {
	keys := []string{b.entriesKey(req.Stream), b.metaKey(req.Stream)}
	args := make([]any, 0, 3+len(req.Events)*5)
	args = append(args,
		string(req.Stream), int64(req.Expected), req.Timestamp.UnixMilli(),
	)
	for _, ev := range req.Events {
		args = append(args,
			ev.ID, ev.EventType, string(ev.Data), string(ev.Metadata),
			ev.ContentType,
		)
	}

	client := b.client()
	var cmd *redis.Cmd
	if b.useFunctions {
		cmd = client.FCall(ctx, appendFunction, keys, args...)
	} else {
		cmd = b.appendLua.Run(ctx, client, keys, args...)
	}

	result, err := cmd.Result()
	if err != nil {
		if conflict := asConflict(req, err); conflict != nil {
			return nil, conflict
		}
		return nil, err
	}
	return parseAppendResult(result)
}

func (b *RedisBackend) Exists(
	ctx context.Context, stream StreamName,
) (bool, error) {
	n, err := b.client().Exists(
		ctx, b.metaKey(stream), b.entriesKey(stream),
	).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CheckHealth pings the server
func (b *RedisBackend) CheckHealth(ctx context.Context) error {
	return b.client().Ping(ctx).Err()
}

func (b *RedisBackend) entriesKey(stream StreamName) string {
	return b.buildKey(stream, entriesSuffix)
}

func (b *RedisBackend) metaKey(stream StreamName) string {
	return b.buildKey(stream, metaSuffix)
}

// buildKey places both keys of a stream in the same cluster hash slot
func (b *RedisBackend) buildKey(stream StreamName, suffix string) string {
	if b.prefix == "" {
		return fmt.Sprintf("{%s}%s", stream, suffix)
	}
	return fmt.Sprintf("%s:{%s}%s", b.prefix, stream, suffix)
}

func asConflict(req *AppendRequest, err error) *ConcurrencyConflictError {
	msg := err.Error()
	idx := strings.Index(msg, wrongExpectedVersion)
	if idx < 0 {
		return nil
	}
	res := &ConcurrencyConflictError{
		Stream:   req.Stream,
		Expected: req.Expected,
		Actual:   -1,
		Err:      err,
	}
	var expected int64
	_, _ = fmt.Sscanf(
		msg[idx:], wrongExpectedVersion+" %d %d", &expected, &res.Actual,
	)
	return res
}

func parseAppendResult(result any) (*AppendResponse, error) {
	res, ok := result.([]any)
	if !ok || len(res) != 2 {
		return nil, ErrUnexpectedLuaResult
	}
	version, ok := res[0].(int64)
	if !ok {
		return nil, ErrUnexpectedLuaResult
	}
	lastID, ok := res[1].(string)
	if !ok {
		return nil, ErrUnexpectedLuaResult
	}
	pos, err := ParsePosition(lastID)
	if err != nil {
		return nil, err
	}
	return &AppendResponse{
		NextVersion:  version,
		LastPosition: pos,
	}, nil
}

func toRawEntry(msg redis.XMessage) (*RawEntry, error) {
	pos, err := ParsePosition(msg.ID)
	if err != nil {
		return nil, err
	}
	ent := &RawEntry{
		Position: pos,
		RawEvent: RawEvent{
			ID:          stringField(msg.Values, fieldMessageID),
			EventType:   stringField(msg.Values, fieldMessageType),
			ContentType: stringField(msg.Values, fieldContentType),
			Data:        []byte(stringField(msg.Values, fieldData)),
		},
	}
	if meta := stringField(msg.Values, fieldMetadata); meta != "" {
		ent.Metadata = []byte(meta)
	}
	return ent, nil
}

func stringField(values map[string]any, name string) string {
	switch v := values[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
