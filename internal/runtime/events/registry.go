package events

import (
	"maps"
	"slices"
)

// Handler reacts to an event on behalf of a component of type T.
type Handler[T any] func(target T, ev Event) error

// Registry maps event names to ordered handler lists for one component type.
// It is populated once when the type is defined; subtypes compose it with
// Merge instead of mutating the base registry.
type Registry[T any] struct {
	handlers map[string][]Handler[T]
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{handlers: make(map[string][]Handler[T])}
}

// On appends fn to the handlers of name and returns the registry.
func (r *Registry[T]) On(name string, fn Handler[T]) *Registry[T] {
	if fn == nil {
		return r
	}
	r.handlers[name] = append(r.handlers[name], fn)
	return r
}

// Merge returns a new registry holding the receiver's handlers followed by
// the handlers of every override, per event name.
func (r *Registry[T]) Merge(overrides ...*Registry[T]) *Registry[T] {
	out := NewRegistry[T]()
	for _, src := range append([]*Registry[T]{r}, overrides...) {
		if src == nil {
			continue
		}
		for name, hs := range src.handlers {
			out.handlers[name] = append(out.handlers[name], hs...)
		}
	}
	return out
}

// Names returns the registered event names in sorted order.
func (r *Registry[T]) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.handlers))
}

// Has reports whether any handler exists for name.
func (r *Registry[T]) Has(name string) bool {
	return r != nil && len(r.handlers[name]) > 0
}

// Dispatch runs the handlers registered for ev.Name in order. Every handler
// runs; the first error is returned.
func (r *Registry[T]) Dispatch(target T, ev Event) error {
	if r == nil {
		return nil
	}
	var first error
	for _, fn := range r.handlers[ev.Name] {
		if err := fn(target, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
