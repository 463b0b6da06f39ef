package redisdoc_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/ledger/projection"
	"github.com/kode4food/ledger/projection/redisdoc"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *redisdoc.Store) {
	t.Helper()
	server, err := miniredis.Run()
	assert.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, redisdoc.NewStore(client, "accounts")
}

func TestUpsertInsertsAndUpdates(t *testing.T) {
	server, s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Upsert(ctx, projection.ByID("a1"),
		projection.NewUpdate().
			SetField("owner", "ann").
			SetField("tags", []string{"vip"}).
			IncField("balance", 10),
		100,
	)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Upsert(ctx, projection.ByID("a1"),
		projection.NewUpdate().IncField("balance", 5).UnsetField("tags"),
		101,
	)
	assert.NoError(t, err)
	assert.True(t, ok)

	doc, err := s.Collection().Get(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, redisdoc.Document{
		"id":       "a1",
		"owner":    "ann",
		"balance":  "15",
		"position": "101",
	}, doc)

	pos, ok := doc.Position()
	assert.True(t, ok)
	assert.Equal(t, int64(101), pos)
	assert.Equal(t, "ann", server.HGet("accounts:a1", "owner"))
}

func TestUpsertSkipsStale(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	inc := projection.NewUpdate().IncField("balance", 10)
	ok, err := s.Upsert(ctx, projection.ByID("a1"), inc, 16761513606580)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Upsert(ctx, projection.ByID("a1"), inc, 16761513606580)
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Upsert(ctx, projection.ByID("a1"), inc, 16761513606579)
	assert.NoError(t, err)
	assert.False(t, ok)

	doc, err := s.Collection().Get(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, "10", doc["balance"])
	assert.Equal(t, "16761513606580", doc["position"])
}

func TestUpsertEmptyUpdate(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Upsert(ctx, projection.ByID("a1"), nil, 5)
	assert.NoError(t, err)
	assert.True(t, ok)

	doc, err := s.Collection().Get(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, redisdoc.Document{"id": "a1", "position": "5"}, doc)
}

func TestUpsertMissingID(t *testing.T) {
	_, s := newTestStore(t)
	_, err := s.Upsert(context.Background(), projection.Filter{}, nil, 1)
	assert.ErrorIs(t, err, redisdoc.ErrMissingID)
}

func TestGetMissing(t *testing.T) {
	_, s := newTestStore(t)
	doc, err := s.Collection().Get(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestWithProjector(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	p := projection.NewProjector[*redisdoc.Collection](s)
	projection.On(p, func(
		_ context.Context, n int, ev *projection.ReceivedEvent,
	) projection.Operation[*redisdoc.Collection] {
		return projection.UpdateByID[*redisdoc.Collection](
			string(ev.Stream), projection.NewUpdate().IncField("total", int64(n)),
		)
	})

	for i, n := range []int{3, 4, 4} {
		assert.NoError(t, p.HandleEvent(ctx, &projection.ReceivedEvent{
			Stream:         "counter",
			Payload:        n,
			StreamPosition: uint64(10 + min(i, 1)),
		}))
	}

	doc, err := s.Collection().Get(ctx, "counter")
	assert.NoError(t, err)
	assert.Equal(t, "7", doc["total"])
	assert.NoError(t, p.CheckHealth(ctx))
}

func TestUpsertFailureWritesNothing(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Upsert(ctx, projection.ByID("a1"),
		projection.NewUpdate().
			SetField("owner", "ann").
			SetField("note", "x").
			SetField("tier", "gold"),
		10,
	)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Upsert(ctx, projection.ByID("a1"),
		projection.NewUpdate().
			UnsetField("note").
			SetField("owner", "bob").
			IncField("tier", 1),
		11,
	)
	assert.ErrorIs(t, err, projection.ErrNotANumber)
	assert.False(t, ok)

	doc, err := s.Collection().Get(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, redisdoc.Document{
		"id":       "a1",
		"owner":    "ann",
		"note":     "x",
		"tier":     "gold",
		"position": "10",
	}, doc)
}

func TestUpsertIncSeesPendingChanges(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Upsert(ctx, projection.ByID("a1"),
		projection.NewUpdate().SetField("visits", "lots").SetField("n", 2.5),
		10,
	)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Upsert(ctx, projection.ByID("a1"),
		projection.NewUpdate().
			UnsetField("visits").
			IncField("visits", 3).
			SetField("n", 4).
			IncField("total", -2),
		11,
	)
	assert.NoError(t, err)
	assert.True(t, ok)

	doc, err := s.Collection().Get(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, redisdoc.Document{
		"id":       "a1",
		"visits":   "3",
		"n":        "4",
		"total":    "-2",
		"position": "11",
	}, doc)
}
