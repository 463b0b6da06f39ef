// Package pgdoc keeps projected documents as JSONB rows in PostgreSQL
package pgdoc

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"

	"github.com/kode4food/ledger/projection"
)

type (
	// Store is a projection.ReadModel over a single table
	Store struct {
		coll *Collection
	}

	// Collection is the raw handle passed to CollectionOps
	Collection struct {
		Pool  *pgxpool.Pool
		Table string
	}
)

var (
	_ projection.ReadModel[*Collection] = (*Store)(nil)

	ErrMissingID = errors.New("document id is required")

	codec = jsoniter.Config{
		EscapeHTML: true,
		UseNumber:  true,
	}.Froze()
)

// NewStore creates a Store over the named table
func NewStore(pool *pgxpool.Pool, table string) *Store {
	return &Store{
		coll: &Collection{Pool: pool, Table: table},
	}
}

func (s *Store) Collection() *Collection {
	return s.coll
}

// EnsureSchema creates the table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.coll.Pool.Exec(ctx, createTableSQL(s.coll.Table))
	return err
}

// Upsert reserves the row, locks it, applies the update in Go, and writes
// it back in one transaction. Reserving first means a concurrent first
// insert of the same document waits on the lock instead of racing past it
func (s *Store) Upsert(
	ctx context.Context, f projection.Filter, u *projection.Update,
	position int64,
) (bool, error) {
	if f.ID == "" {
		return false, ErrMissingID
	}

	var applied bool
	err := pgx.BeginFunc(ctx, s.coll.Pool, func(tx pgx.Tx) error {
		table := s.coll.Table
		if _, err := tx.Exec(ctx, reserveSQL(table), f.ID); err != nil {
			return err
		}

		var raw []byte
		var stored int64
		err := tx.QueryRow(ctx, selectSQL(table), f.ID).Scan(&raw, &stored)
		if err != nil {
			return err
		}
		if stored >= position {
			return nil
		}

		doc := map[string]any{}
		if err := codec.Unmarshal(raw, &doc); err != nil {
			return err
		}
		if err := u.ApplyTo(doc); err != nil {
			return err
		}
		doc[projection.IDField] = f.ID
		doc[projection.PositionField] = position

		data, err := codec.Marshal(doc)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, updateSQL(table), f.ID, data, position)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// CheckHealth pings the database
func (s *Store) CheckHealth(ctx context.Context) error {
	return s.coll.Pool.Ping(ctx)
}

// Get loads a document, returning nil if it does not exist
func (c *Collection) Get(
	ctx context.Context, id string,
) (map[string]any, error) {
	var raw []byte
	var pos int64
	err := c.Pool.QueryRow(ctx, selectPlainSQL(c.Table), id).Scan(&raw, &pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := codec.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func quote(table string) string {
	return pgx.Identifier{table}.Sanitize()
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id       TEXT PRIMARY KEY,
			doc      JSONB NOT NULL,
			position BIGINT NOT NULL
		)`, quote(table))
}

func selectSQL(table string) string {
	return selectPlainSQL(table) + " FOR UPDATE"
}

func selectPlainSQL(table string) string {
	return fmt.Sprintf(
		"SELECT doc, position FROM %s WHERE id = $1", quote(table),
	)
}

// reserveSQL inserts an empty placeholder that any real position beats.
// It is rolled back with the transaction if the update fails
func reserveSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, doc, position) VALUES ($1, '{}', -1)
		ON CONFLICT (id) DO NOTHING`, quote(table))
}

func updateSQL(table string) string {
	t := quote(table)
	return fmt.Sprintf(`
		UPDATE %s SET doc = $2, position = $3
		WHERE id = $1 AND %s.position < $3`, t, t)
}
