package ledger

import "reflect"

type (
	// Applier folds one event into aggregate state. It must return a new
	// value rather than mutate the one it receives
	Applier[T any] func(T, *StreamEvent) T

	// Appliers maps payload types to their Applier
	Appliers[T any] map[reflect.Type]Applier[T]
)

// MakeApplier adapts a typed fold function into an Applier. Events whose
// payload is not an E leave the state untouched
func MakeApplier[T, E any](fn func(T, *StreamEvent, E) T) Applier[T] {
	return func(val T, ev *StreamEvent) T {
		switch p := ev.Payload.(type) {
		case E:
			return fn(val, ev, p)
		case *E:
			if p != nil {
				return fn(val, ev, *p)
			}
		}
		return val
	}
}

// AddApplier registers a typed fold function for payloads of type E
func AddApplier[T, E any](a Appliers[T], fn func(T, *StreamEvent, E) T) {
	a[indirect(reflect.TypeFor[E]())] = MakeApplier(fn)
}

func (a Appliers[T]) apply(val T, ev *StreamEvent) T {
	if ev.Payload == nil {
		return val
	}
	if fn, ok := a[indirect(reflect.TypeOf(ev.Payload))]; ok {
		return fn(val, ev)
	}
	return val
}
