package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrUnknownEngine is returned when a backend name has no registration.
var ErrUnknownEngine = errors.New("unknown engine")

// Engines is a named set of interchangeable backends with one of them active.
// It is built once at startup and read concurrently afterwards.
type Engines[T any] struct {
	active   string
	backends map[string]T
}

// NewEngines fails when active is not among backends, so a misconfigured
// engine stops the process instead of failing every turn.
func NewEngines[T any](active string, backends map[string]T) (*Engines[T], error) {
	if _, ok := backends[active]; !ok {
		return nil, fmt.Errorf("%w %q, registered: %v", ErrUnknownEngine, active, slices.Sorted(maps.Keys(backends)))
	}
	return &Engines[T]{active: active, backends: maps.Clone(backends)}, nil
}

// ActiveName is the engine every session uses.
func (e *Engines[T]) ActiveName() string { return e.active }

func (e *Engines[T]) activeBackend() T { return e.backends[e.active] }

// Get returns the named backend.
func (e *Engines[T]) Get(name string) (T, error) {
	b, ok := e.backends[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w %q", ErrUnknownEngine, name)
	}
	return b, nil
}

func (e *Engines[T]) Has(name string) bool {
	_, ok := e.backends[name]
	return ok
}

// Names lists registered engines in sorted order.
func (e *Engines[T]) Names() []string {
	return slices.Sorted(maps.Keys(e.backends))
}
