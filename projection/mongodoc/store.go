// Package mongodoc keeps projected documents in a MongoDB collection
package mongodoc

import (
	"context"
	"errors"
	"maps"
	"slices"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kode4food/ledger/projection"
)

// Store is a projection.ReadModel over a single collection. Documents are
// keyed by _id
type Store struct {
	coll *mongo.Collection
}

var (
	_ projection.ReadModel[*mongo.Collection] = (*Store)(nil)

	ErrMissingID = errors.New("document id is required")
)

// NewStore wraps a collection handle
func NewStore(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

func (s *Store) Collection() *mongo.Collection {
	return s.coll
}

// Upsert matches the document only while its position is older than the
// event's. When a newer document exists the insert half of the upsert
// collides on _id, which is reported as not applied. Fields touched by more
// than one step of the update are folded first, since MongoDB rejects
// conflicting operators on one path
func (s *Store) Upsert(
	ctx context.Context, f projection.Filter, u *projection.Update,
	position int64,
) (bool, error) {
	if f.ID == "" {
		return false, ErrMissingID
	}
	u, err := u.Disjoint()
	if err != nil {
		return false, err
	}
	res, err := s.coll.UpdateOne(ctx,
		buildFilter(f, position),
		buildUpdate(f, u, position),
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}

// CheckHealth pings the deployment
func (s *Store) CheckHealth(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

func buildFilter(f projection.Filter, position int64) bson.D {
	return bson.D{
		{Key: "_id", Value: f.ID},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: projection.PositionField, Value: bson.D{
				{Key: "$lt", Value: position},
			}}},
			bson.D{{Key: projection.PositionField, Value: bson.D{
				{Key: "$exists", Value: false},
			}}},
		}},
	}
}

func buildUpdate(
	f projection.Filter, u *projection.Update, position int64,
) bson.D {
	set := bson.D{
		{Key: projection.IDField, Value: f.ID},
		{Key: projection.PositionField, Value: position},
	}
	res := bson.D{}
	if u != nil {
		for _, name := range slices.Sorted(maps.Keys(u.Set)) {
			set = append(set, bson.E{Key: name, Value: u.Set[name]})
		}
		if len(u.Unset) > 0 {
			unset := bson.D{}
			for _, name := range u.Unset {
				unset = append(unset, bson.E{Key: name, Value: ""})
			}
			res = append(res, bson.E{Key: "$unset", Value: unset})
		}
		if len(u.Inc) > 0 {
			inc := bson.D{}
			for _, name := range slices.Sorted(maps.Keys(u.Inc)) {
				inc = append(inc, bson.E{Key: name, Value: u.Inc[name]})
			}
			res = append(res, bson.E{Key: "$inc", Value: inc})
		}
	}
	return append(bson.D{{Key: "$set", Value: set}}, res...)
}
