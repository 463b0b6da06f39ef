package projection

import "context"

type (
	// Operation is what should happen to the read model for one event. It
	// is exactly one of NoOp, UpdateOp, CollectionOp, or OtherOp
	Operation[C any] interface {
		operation()
	}

	// NoOp leaves the read model untouched
	NoOp[C any] struct{}

	// UpdateOp upserts the document matched by Filter
	UpdateOp[C any] struct {
		Update *Update
		Filter Filter
	}

	// CollectionOp runs against the raw collection handle
	CollectionOp[C any] struct {
		Execute func(context.Context, C) error
	}

	// OtherOp runs an arbitrary effect with no read model access
	OtherOp[C any] struct {
		Execute func(context.Context) error
	}

	// Filter selects the document an UpdateOp applies to
	Filter struct {
		ID string
	}
)

func (NoOp[C]) operation()         {}
func (UpdateOp[C]) operation()     {}
func (CollectionOp[C]) operation() {}
func (OtherOp[C]) operation()      {}

// Skip returns the NoOp operation
func Skip[C any]() Operation[C] {
	return NoOp[C]{}
}

// UpdateByID returns an UpdateOp for the document with the given ID
func UpdateByID[C any](id string, u *Update) Operation[C] {
	return UpdateOp[C]{Filter: ByID(id), Update: u}
}

// WithCollection returns a CollectionOp
func WithCollection[C any](fn func(context.Context, C) error) Operation[C] {
	return CollectionOp[C]{Execute: fn}
}

// Other returns an OtherOp
func Other[C any](fn func(context.Context) error) Operation[C] {
	return OtherOp[C]{Execute: fn}
}

// ByID returns a Filter matching one document identifier
func ByID(id string) Filter {
	return Filter{ID: id}
}
