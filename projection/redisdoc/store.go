// Package redisdoc keeps projected documents as Redis hashes
package redisdoc

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/kode4food/ledger/projection"
)

type (
	// Store is a projection.ReadModel over one collection of hashes
	Store struct {
		coll      *Collection
		upsertLua *redis.Script
	}

	// Collection is the raw handle passed to CollectionOps
	Collection struct {
		Client redis.UniversalClient
		Prefix string
	}

	// Document is a hash read back from Redis
	Document map[string]string
)

const luaUpsert = `
	-- Apply an update to a document hash unless it is already at or past
	-- the event's position. Every increment is checked before the first
	-- write, so a failing update leaves the hash untouched
	-- KEYS[1] = document hash key
	-- ARGV[1] = position
	-- ARGV[2] = document id
	-- ARGV[3] = number of fields to unset, followed by the names
	-- then the number of fields to set, followed by name/value pairs
	-- then the number of fields to increment, followed by name/delta pairs
	-- Returns: 1 if applied, 0 if stale

	local key = KEYS[1]
	local pos = tonumber(ARGV[1])
	local stored = redis.call('HGET', key, 'position')
	if stored and tonumber(stored) >= pos then
		return 0
	end

	local pending = {}
	local unset, set, inc = {}, {}, {}

	local i = 3
	local n = tonumber(ARGV[i])
	for j = 1, n do
		local name = ARGV[i + j]
		unset[#unset + 1] = name
		pending[name] = false
	end
	i = i + n + 1

	n = tonumber(ARGV[i])
	for j = 1, n do
		local k = i + (j - 1) * 2 + 1
		set[#set + 1] = ARGV[k]
		set[#set + 1] = ARGV[k + 1]
		pending[ARGV[k]] = ARGV[k + 1]
	end
	i = i + n * 2 + 1

	n = tonumber(ARGV[i])
	for j = 1, n do
		local k = i + (j - 1) * 2 + 1
		local name = ARGV[k]
		local cur = pending[name]
		if cur == nil then
			cur = redis.call('HGET', key, name)
		end
		local base = 0
		if cur then
			if cur ~= '0' and not string.match(cur, '^%-?[1-9]%d*$') then
				return redis.error_reply('NotAnInteger ' .. name)
			end
			base = tonumber(cur)
		end
		local sum = base + tonumber(ARGV[k + 1])
		if sum >= 9223372036854775807 or sum < -9223372036854775807 then
			return redis.error_reply('NotAnInteger ' .. name)
		end
		inc[#inc + 1] = name
		inc[#inc + 1] = ARGV[k + 1]
	end

	for _, name in ipairs(unset) do
		redis.call('HDEL', key, name)
	end
	if #set > 0 then
		redis.call('HSET', key, unpack(set))
	end
	for j = 1, #inc, 2 do
		redis.call('HINCRBY', key, inc[j], inc[j + 1])
	end

	redis.call('HSET', key, 'id', ARGV[2], 'position', ARGV[1])
	return 1
	`

const notAnInteger = "NotAnInteger "

var (
	_ projection.ReadModel[*Collection] = (*Store)(nil)

	ErrMissingID = errors.New("document id is required")
)

// NewStore creates a Store whose documents live under prefix
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		coll:      &Collection{Client: client, Prefix: prefix},
		upsertLua: redis.NewScript(luaUpsert),
	}
}

func (s *Store) Collection() *Collection {
	return s.coll
}

func (s *Store) Upsert(
	ctx context.Context, f projection.Filter, u *projection.Update,
	position int64,
) (bool, error) {
	if f.ID == "" {
		return false, ErrMissingID
	}
	args, err := upsertArgs(f.ID, u, position)
	if err != nil {
		return false, err
	}
	res, err := s.upsertLua.Run(
		ctx, s.coll.Client, []string{s.coll.Key(f.ID)}, args...,
	).Int64()
	if err != nil {
		return false, asNotANumber(err)
	}
	return res == 1, nil
}

// CheckHealth pings the server
func (s *Store) CheckHealth(ctx context.Context) error {
	return s.coll.Client.Ping(ctx).Err()
}

// Key returns the hash key of the document with the given ID
func (c *Collection) Key(id string) string {
	return fmt.Sprintf("%s:%s", c.Prefix, id)
}

// Get loads a document, returning nil if it does not exist
func (c *Collection) Get(ctx context.Context, id string) (Document, error) {
	res, err := c.Client.HGetAll(ctx, c.Key(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res, nil
}

// Position returns the stored position of the document
func (d Document) Position() (int64, bool) {
	v, ok := d[projection.PositionField]
	if !ok {
		return 0, false
	}
	pos, err := strconv.ParseInt(v, 10, 64)
	return pos, err == nil
}

func asNotANumber(err error) error {
	msg := err.Error()
	idx := strings.Index(msg, notAnInteger)
	if idx < 0 {
		return err
	}
	name := msg[idx+len(notAnInteger):]
	return fmt.Errorf("%w: %s", projection.ErrNotANumber, name)
}

func upsertArgs(id string, u *projection.Update, position int64) ([]any, error) {
	if u == nil {
		u = projection.NewUpdate()
	}
	args := []any{position, id, len(u.Unset)}
	for _, name := range u.Unset {
		args = append(args, name)
	}

	args = append(args, len(u.Set))
	for _, name := range slices.Sorted(maps.Keys(u.Set)) {
		val, err := encodeValue(u.Set[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		args = append(args, name, val)
	}

	args = append(args, len(u.Inc))
	for _, name := range slices.Sorted(maps.Keys(u.Inc)) {
		args = append(args, name, u.Inc[name])
	}
	return args, nil
}

// encodeValue stores scalars as their plain string form and anything else
// as JSON
func encodeValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(val)
		return string(data), err
	}
}
