package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// TypeMap binds event type names to Go types. It is safe for concurrent use
type TypeMap struct {
	byName map[string]reflect.Type
	byType map[reflect.Type]string
	mu     sync.RWMutex
}

var ErrTypeAlreadyRegistered = errors.New("event type already registered")

// NewTypeMap creates an empty TypeMap
func NewTypeMap() *TypeMap {
	return &TypeMap{
		byName: map[string]reflect.Type{},
		byType: map[reflect.Type]string{},
	}
}

// Register binds name to T. Registering the same pair twice is allowed, but
// rebinding a name or a type is not
func Register[T any](tm *TypeMap, name string) error {
	return tm.add(name, reflect.TypeFor[T]())
}

// MustRegister is Register that panics on error
func MustRegister[T any](tm *TypeMap, name string) {
	if err := Register[T](tm, name); err != nil {
		panic(err)
	}
}

func (tm *TypeMap) add(name string, typ reflect.Type) error {
	typ = indirect(typ)

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if t, ok := tm.byName[name]; ok && t != typ {
		return fmt.Errorf("%w: %s is bound to %s", ErrTypeAlreadyRegistered, name, t)
	}
	if n, ok := tm.byType[typ]; ok && n != name {
		return fmt.Errorf("%w: %s is bound to %s", ErrTypeAlreadyRegistered, typ, n)
	}
	tm.byName[name] = typ
	tm.byType[typ] = name
	return nil
}

// NameOf returns the registered name for the dynamic type of v. Pointers
// resolve to their element type
func (tm *TypeMap) NameOf(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	typ := indirect(reflect.TypeOf(v))

	tm.mu.RLock()
	defer tm.mu.RUnlock()
	name, ok := tm.byType[typ]
	return name, ok
}

// TypeOf returns the Go type registered under name
func (tm *TypeMap) TypeOf(name string) (reflect.Type, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	typ, ok := tm.byName[name]
	return typ, ok
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
