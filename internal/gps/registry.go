package gps

import (
	"errors"
	"reflect"
)

const maxPublishers = 4

var (
	ErrRegistryFull = errors.New("gps: publisher registry full")
	ErrNilPublisher = errors.New("gps: nil publisher")
)

// registry is an append-only, fixed-capacity publisher list. Adding the same
// publisher twice is a no-op.
type registry[T comparable] struct {
	items [maxPublishers]T
	n     int
}

func (r *registry[T]) add(p T) error {
	var zero T
	if p == zero || isNilPointer(p) {
		return ErrNilPublisher
	}
	for i := 0; i < r.n; i++ {
		if r.items[i] == p {
			return nil
		}
	}
	if r.n == len(r.items) {
		return ErrRegistryFull
	}
	r.items[r.n] = p
	r.n++
	return nil
}

func (r *registry[T]) each(fn func(T)) {
	for i := 0; i < r.n; i++ {
		fn(r.items[i])
	}
}

func (r *registry[T]) len() int { return r.n }

// isNilPointer catches a typed nil stored in an interface.
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
