package projection_test

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kode4food/ledger"
	"github.com/kode4food/ledger/projection"
)

type (
	// memModel is an in-memory ReadModel over map documents
	memModel struct {
		docs    map[string]map[string]any
		upserts int
		mu      sync.Mutex
	}

	memCollection = map[string]map[string]any

	AccountOpened struct {
		AccountID string
		Owner     string
	}

	Deposited struct {
		AccountID string
		Amount    int64
	}

	AccountClosed struct {
		AccountID string
	}
)

var errBoom = errors.New("boom")

func newMemModel() *memModel {
	return &memModel{docs: map[string]map[string]any{}}
}

func (m *memModel) Collection() memCollection {
	return m.docs
}

func (m *memModel) Upsert(
	_ context.Context, f projection.Filter, u *projection.Update,
	position int64,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++

	doc := maps.Clone(m.docs[f.ID])
	if doc == nil {
		doc = map[string]any{}
	}
	stored, ok, err := projection.StoredPosition(doc)
	if err != nil {
		return false, err
	}
	if ok && stored >= position {
		return false, nil
	}
	if err := u.ApplyTo(doc); err != nil {
		return false, err
	}
	doc[projection.IDField] = f.ID
	doc[projection.PositionField] = position
	m.docs[f.ID] = doc
	return true, nil
}

func accountProjector(
	m *memModel, opts ...projection.Option,
) *projection.Projector[memCollection] {
	type op = projection.Operation[memCollection]
	p := projection.NewProjector[memCollection](m, opts...)

	projection.On(p, func(
		_ context.Context, e AccountOpened, _ *projection.ReceivedEvent,
	) op {
		return projection.UpdateByID[memCollection](e.AccountID,
			projection.NewUpdate().
				SetField("owner", e.Owner).
				SetField("balance", int64(0)),
		)
	})
	projection.On(p, func(
		_ context.Context, e Deposited, _ *projection.ReceivedEvent,
	) op {
		if e.Amount == 0 {
			return projection.Skip[memCollection]()
		}
		return projection.UpdateByID[memCollection](e.AccountID,
			projection.NewUpdate().IncField("balance", e.Amount),
		)
	})
	projection.On(p, func(
		_ context.Context, e AccountClosed, _ *projection.ReceivedEvent,
	) op {
		return projection.WithCollection(
			func(_ context.Context, c memCollection) error {
				delete(c, e.AccountID)
				return nil
			},
		)
	})
	return p
}

func received(payload any, pos uint64) *projection.ReceivedEvent {
	return &projection.ReceivedEvent{
		ID:             uuid.New(),
		Stream:         "account-1",
		Payload:        payload,
		StreamPosition: pos,
	}
}

func TestProjectUpdates(t *testing.T) {
	m := newMemModel()
	p := accountProjector(m)
	ctx := context.Background()

	assert.NoError(t, p.HandleEvent(ctx,
		received(AccountOpened{AccountID: "a1", Owner: "ann"}, 10),
	))
	assert.NoError(t, p.HandleEvent(ctx,
		received(&Deposited{AccountID: "a1", Amount: 25}, 11),
	))
	assert.NoError(t, p.HandleEvent(ctx,
		received(Deposited{AccountID: "a1", Amount: 5}, 12),
	))

	assert.Equal(t, map[string]any{
		"id":       "a1",
		"owner":    "ann",
		"balance":  int64(30),
		"position": int64(12),
	}, m.docs["a1"])
}

func TestProjectIdempotent(t *testing.T) {
	m := newMemModel()
	p := accountProjector(m)
	ctx := context.Background()

	open := received(AccountOpened{AccountID: "a1", Owner: "ann"}, 10)
	dep := received(Deposited{AccountID: "a1", Amount: 25}, 11)

	assert.NoError(t, p.HandleEvent(ctx, open))
	assert.NoError(t, p.HandleEvent(ctx, dep))
	before := maps.Clone(m.docs["a1"])

	assert.NoError(t, p.HandleEvent(ctx, dep))
	assert.NoError(t, p.HandleEvent(ctx, open))
	assert.Equal(t, before, m.docs["a1"])
}

func TestProjectNoOps(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	m := newMemModel()
	p := accountProjector(m, projection.WithLogger(zap.New(core)))
	ctx := context.Background()

	assert.NoError(t, p.HandleEvent(ctx, received("unhandled", 1)))
	assert.NoError(t, p.HandleEvent(ctx, received(nil, 2)))
	assert.NoError(t, p.HandleEvent(ctx,
		received(Deposited{AccountID: "a1"}, 3),
	))
	assert.NoError(t, p.HandleEvent(ctx, nil))

	assert.Equal(t, 0, m.upserts)
	assert.Empty(t, m.docs)
	assert.Equal(t, 3, logs.FilterMessage("No handler for event").Len())
}

func TestProjectCollectionOp(t *testing.T) {
	m := newMemModel()
	p := accountProjector(m)
	ctx := context.Background()

	assert.NoError(t, p.HandleEvent(ctx,
		received(AccountOpened{AccountID: "a1", Owner: "ann"}, 10),
	))
	assert.Contains(t, m.docs, "a1")

	assert.NoError(t, p.HandleEvent(ctx,
		received(AccountClosed{AccountID: "a1"}, 11),
	))
	assert.NotContains(t, m.docs, "a1")
}

func TestProjectOtherOp(t *testing.T) {
	m := newMemModel()
	p := projection.NewProjector[memCollection](m)
	ctx := context.Background()

	var notified []string
	projection.On(p, func(
		_ context.Context, e AccountOpened, _ *projection.ReceivedEvent,
	) projection.Operation[memCollection] {
		return projection.Other[memCollection](func(context.Context) error {
			notified = append(notified, e.Owner)
			return nil
		})
	})

	assert.NoError(t, p.HandleEvent(ctx,
		received(AccountOpened{AccountID: "a1", Owner: "ann"}, 1),
	))
	assert.Equal(t, []string{"ann"}, notified)
	assert.Equal(t, 0, m.upserts)
}

func TestProjectErrors(t *testing.T) {
	m := newMemModel()
	p := projection.NewProjector[memCollection](m)
	ctx := context.Background()

	projection.On(p, func(
		_ context.Context, _ AccountClosed, _ *projection.ReceivedEvent,
	) projection.Operation[memCollection] {
		return projection.Other[memCollection](func(context.Context) error {
			return errBoom
		})
	})
	projection.On(p, func(
		_ context.Context, e Deposited, _ *projection.ReceivedEvent,
	) projection.Operation[memCollection] {
		return projection.UpdateByID[memCollection](e.AccountID,
			projection.NewUpdate().SetField(projection.PositionField, 1),
		)
	})

	err := p.HandleEvent(ctx, &projection.ReceivedEvent{
		EventType:      "account.closed",
		Payload:        AccountClosed{AccountID: "a1"},
		StreamPosition: 42,
	})
	assert.ErrorIs(t, err, errBoom)

	var he *projection.HandlingError
	if assert.ErrorAs(t, err, &he) {
		assert.Equal(t, "account.closed", he.EventType)
		assert.Equal(t, uint64(42), he.Position)
	}

	err = p.HandleEvent(ctx, received(Deposited{AccountID: "a1"}, 5))
	assert.ErrorIs(t, err, projection.ErrReservedField)
	assert.Equal(t, 0, m.upserts)
}

func TestProjectIncOnNonNumber(t *testing.T) {
	m := newMemModel()
	p := accountProjector(m)
	ctx := context.Background()

	m.docs["a1"] = map[string]any{"balance": "lots"}
	err := p.HandleEvent(ctx, received(Deposited{AccountID: "a1", Amount: 1}, 3))
	assert.ErrorIs(t, err, projection.ErrNotANumber)
	assert.Equal(t, map[string]any{"balance": "lots"}, m.docs["a1"])
}

func TestFromStreamEvent(t *testing.T) {
	id := uuid.New()
	ev := projection.FromStreamEvent("account-1", &ledger.StreamEvent{
		ID:          id,
		Payload:     Deposited{AccountID: "a1", Amount: 3},
		Metadata:    ledger.Metadata{"user": "u"},
		EventType:   "account.deposited",
		ContentType: ledger.ContentTypeJSON,
		Position:    77,
		HasPosition: true,
	})
	assert.Equal(t, &projection.ReceivedEvent{
		ID:             id,
		Stream:         "account-1",
		Payload:        Deposited{AccountID: "a1", Amount: 3},
		Metadata:       ledger.Metadata{"user": "u"},
		EventType:      "account.deposited",
		ContentType:    ledger.ContentTypeJSON,
		StreamPosition: 77,
	}, ev)
}

func TestCheckHealthWithoutChecker(t *testing.T) {
	p := projection.NewProjector[memCollection](newMemModel())
	assert.NoError(t, p.CheckHealth(context.Background()))
}

func TestGuardIgnoresStream(t *testing.T) {
	m := newMemModel()
	p := accountProjector(m)
	ctx := context.Background()

	assert.NoError(t, p.HandleEvent(ctx,
		received(AccountOpened{AccountID: "a1", Owner: "ann"}, 20),
	))

	other := received(Deposited{AccountID: "a1", Amount: 5}, 15)
	other.Stream = "account-2"
	assert.NoError(t, p.HandleEvent(ctx, other))

	assert.Equal(t, int64(0), m.docs["a1"]["balance"])
	assert.Equal(t, int64(20), m.docs["a1"][projection.PositionField])
}
