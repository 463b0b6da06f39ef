package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Update describes the changes an UpdateOp makes to a document. The ID and
// Position fields are owned by the projection layer and cannot be touched
type Update struct {
	Set   map[string]any
	Inc   map[string]int64
	Unset []string
}

const (
	IDField       = "id"
	PositionField = "position"
)

var (
	ErrReservedField   = errors.New("field is reserved by the projection layer")
	ErrNotANumber      = errors.New("field is not a number")
	ErrInvalidPosition = errors.New("stored position is invalid")
)

// NewUpdate returns an empty Update
func NewUpdate() *Update {
	return &Update{}
}

// SetField assigns value to name
func (u *Update) SetField(name string, value any) *Update {
	if u.Set == nil {
		u.Set = map[string]any{}
	}
	u.Set[name] = value
	return u
}

// IncField adds delta to the numeric field name, treating absence as zero
func (u *Update) IncField(name string, delta int64) *Update {
	if u.Inc == nil {
		u.Inc = map[string]int64{}
	}
	u.Inc[name] += delta
	return u
}

// UnsetField removes name from the document
func (u *Update) UnsetField(name string) *Update {
	u.Unset = append(u.Unset, name)
	return u
}

// Validate rejects updates that touch the reserved fields
func (u *Update) Validate() error {
	if u == nil {
		return nil
	}
	for _, name := range u.Fields() {
		if name == IDField || name == PositionField {
			return fmt.Errorf("%w: %s", ErrReservedField, name)
		}
	}
	return nil
}

// Fields returns every field name the update touches, sorted
func (u *Update) Fields() []string {
	if u == nil {
		return nil
	}
	res := slices.Collect(maps.Keys(u.Set))
	res = append(res, slices.Collect(maps.Keys(u.Inc))...)
	res = append(res, u.Unset...)
	slices.Sort(res)
	return slices.Compact(res)
}

// ApplyTo mutates a decoded document in place. Unset runs first, then Set,
// then Inc
func (u *Update) ApplyTo(doc map[string]any) error {
	if u == nil {
		return nil
	}
	for _, name := range u.Unset {
		delete(doc, name)
	}
	maps.Copy(doc, u.Set)
	for _, name := range slices.Sorted(maps.Keys(u.Inc)) {
		cur, err := toInt64(doc[name])
		if err != nil {
			return fmt.Errorf("%w: %s", err, name)
		}
		doc[name] = cur + u.Inc[name]
	}
	return nil
}

// Disjoint returns an equivalent Update in which no field appears in more
// than one of Unset, Set, and Inc. Increments of a field that is also set
// or unset are folded into Set
func (u *Update) Disjoint() (*Update, error) {
	if u == nil {
		return nil, nil
	}
	res := NewUpdate()
	set := maps.Clone(u.Set)
	if set == nil {
		set = map[string]any{}
	}
	for _, name := range u.Unset {
		if _, ok := u.Set[name]; ok {
			continue
		}
		if _, ok := u.Inc[name]; ok {
			set[name] = nil
			continue
		}
		if !slices.Contains(res.Unset, name) {
			res.Unset = append(res.Unset, name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(u.Inc)) {
		v, ok := set[name]
		if !ok {
			res.IncField(name, u.Inc[name])
			continue
		}
		cur, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, name)
		}
		set[name] = cur + u.Inc[name]
	}
	if len(set) > 0 {
		res.Set = set
	}
	return res, nil
}

// StoredPosition extracts the position stamped on a decoded document
func StoredPosition(doc map[string]any) (int64, bool, error) {
	v, ok := doc[PositionField]
	if !ok || v == nil {
		return 0, false, nil
	}
	pos, err := toInt64(v)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrInvalidPosition, v)
	}
	return pos, true, nil
}

// ToPosition converts a logical position into the stored representation
func ToPosition(p uint64) (int64, error) {
	if p > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPosition, p)
	}
	return int64(p), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, ErrNotANumber
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, ErrNotANumber
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case interface{ Int64() (int64, error) }:
		return n.Int64()
	case string:
		res, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, ErrNotANumber
		}
		return res, nil
	default:
		return 0, ErrNotANumber
	}
}
