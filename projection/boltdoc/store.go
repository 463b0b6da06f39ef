// Package boltdoc keeps projected documents as JSON values in a bbolt bucket
package boltdoc

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"

	"github.com/kode4food/ledger/projection"
)

type (
	// Store is a projection.ReadModel over a single bucket
	Store struct {
		coll *Collection
	}

	// Collection is the raw handle passed to CollectionOps
	Collection struct {
		DB     *bolt.DB
		Bucket []byte
	}

	// Document is a decoded JSON document
	Document map[string]any
)

var (
	_ projection.ReadModel[*Collection] = (*Store)(nil)

	ErrMissingID     = errors.New("document id is required")
	ErrMissingBucket = errors.New("document bucket does not exist")

	// numbers decode as json.Number so positions and counters stay exact
	codec = jsoniter.Config{
		EscapeHTML: true,
		UseNumber:  true,
	}.Froze()
)

// Open opens (or creates) the database file and ensures the bucket exists
func Open(path, bucket string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(db, bucket)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the bucket if needed
func NewStore(db *bolt.DB, bucket string) (*Store, error) {
	name := []byte(bucket)
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Store{
		coll: &Collection{DB: db, Bucket: name},
	}, nil
}

func (s *Store) Collection() *Collection {
	return s.coll
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.coll.DB.Close()
}

// Upsert runs inside a single bbolt write transaction, so concurrent
// upserts of the same document serialize
func (s *Store) Upsert(
	ctx context.Context, f projection.Filter, u *projection.Update,
	position int64,
) (bool, error) {
	if f.ID == "" {
		return false, ErrMissingID
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var applied bool
	err := s.coll.DB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.coll.Bucket)
		key := []byte(f.ID)

		doc := Document{}
		if data := b.Get(key); data != nil {
			if err := codec.Unmarshal(data, &doc); err != nil {
				return err
			}
		}

		stored, ok, err := projection.StoredPosition(doc)
		if err != nil {
			return err
		}
		if ok && stored >= position {
			return nil
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
		applied = true
		return b.Put(key, data)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// CheckHealth verifies the bucket is readable
func (s *Store) CheckHealth(context.Context) error {
	return s.coll.DB.View(func(tx *bolt.Tx) error {
		if tx.Bucket(s.coll.Bucket) == nil {
			return ErrMissingBucket
		}
		return nil
	})
}

// Get loads a document, returning nil if it does not exist
func (c *Collection) Get(id string) (Document, error) {
	var doc Document
	err := c.DB.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(c.Bucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		doc = Document{}
		return codec.Unmarshal(data, &doc)
	})
	return doc, err
}

// Delete removes a document
func (c *Collection) Delete(id string) error {
	return c.DB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.Bucket).Delete([]byte(id))
	})
}

// Position returns the stored position of the document
func (d Document) Position() (int64, bool) {
	pos, ok, err := projection.StoredPosition(d)
	return pos, ok && err == nil
}
