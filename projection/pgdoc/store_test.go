package pgdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/ledger/projection"
)

func TestSQLBuilders(t *testing.T) {
	assert.Contains(t, createTableSQL("docs"), `CREATE TABLE IF NOT EXISTS "docs"`)
	assert.Equal(t,
		`SELECT doc, position FROM "docs" WHERE id = $1`,
		selectPlainSQL("docs"),
	)
	assert.True(t, strings.HasSuffix(selectSQL("docs"), " FOR UPDATE"))

	res := reserveSQL("docs")
	assert.Contains(t, res, `INSERT INTO "docs" (id, doc, position)`)
	assert.Contains(t, res, `VALUES ($1, '{}', -1)`)
	assert.Contains(t, res, `ON CONFLICT (id) DO NOTHING`)

	up := updateSQL("docs")
	assert.Contains(t, up, `UPDATE "docs" SET doc = $2, position = $3`)
	assert.Contains(t, up, `WHERE id = $1 AND "docs".position < $3`)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"we""ird"`, quote(`we"ird`))
}

func TestUpsertMissingID(t *testing.T) {
	s := NewStore(nil, "docs")
	_, err := s.Upsert(context.Background(), projection.Filter{}, nil, 1)
	assert.ErrorIs(t, err, ErrMissingID)
}

// TestLiveUpsert runs against a real database when LEDGER_TEST_PG_DSN is set
func TestLiveUpsert(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_PG_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	assert.NoError(t, err)
	defer pool.Close()

	table := fmt.Sprintf("docs_%d", time.Now().UnixNano())
	s := NewStore(pool, table)
	assert.NoError(t, s.EnsureSchema(ctx))
	defer func() {
		_, _ = pool.Exec(ctx, "DROP TABLE "+quote(table))
	}()
	assert.NoError(t, s.CheckHealth(ctx))

	inc := projection.NewUpdate().IncField("n", 1)
	var applied []bool
	for _, pos := range []int64{5, 5, 4, 6} {
		ok, err := s.Upsert(ctx, projection.ByID("a1"), inc, pos)
		assert.NoError(t, err)
		applied = append(applied, ok)
	}
	assert.Equal(t, []bool{true, false, false, true}, applied)

	doc, err := s.Collection().Get(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, json.Number("2"), doc["n"])
	assert.Equal(t, json.Number("6"), doc[projection.PositionField])

	bad := projection.NewUpdate().SetField("x", "lots").IncField("x", 1)
	_, err = s.Upsert(ctx, projection.ByID("b1"), bad, 1)
	assert.ErrorIs(t, err, projection.ErrNotANumber)
	doc, err = s.Collection().Get(ctx, "b1")
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestLiveConcurrentFirstInsert(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_PG_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	assert.NoError(t, err)
	defer pool.Close()

	table := fmt.Sprintf("docs_%d", time.Now().UnixNano())
	s := NewStore(pool, table)
	assert.NoError(t, s.EnsureSchema(ctx))
	defer func() {
		_, _ = pool.Exec(ctx, "DROP TABLE "+quote(table))
	}()

	const writers = 8
	var wg sync.WaitGroup
	applied := make([]bool, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			field := fmt.Sprintf("f%d", i)
			ok, err := s.Upsert(ctx, projection.ByID("a1"),
				projection.NewUpdate().SetField(field, i), int64(10+i),
			)
			assert.NoError(t, err)
			applied[i] = ok
		}()
	}
	wg.Wait()

	doc, err := s.Collection().Get(ctx, "a1")
	assert.NoError(t, err)
	pos, ok, err := projection.StoredPosition(doc)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10+writers-1), pos)
	for i, ok := range applied {
		if ok {
			assert.Contains(t, doc, fmt.Sprintf("f%d", i))
		}
	}
}
