package synth

import (
	"fmt"
	"maps"
)

// Registry maps category ids to shapes. It is built once and read-only
// afterwards.
type Registry struct {
	shapes   map[string]Shape
	fallback Shape
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFallback sets the shape used for unmapped categories. ShapeNone
// disables the fallback.
func WithFallback(s Shape) RegistryOption {
	return func(r *Registry) {
		r.fallback = s
	}
}

// NewRegistry validates every mapped shape. Categories mapped to ShapeNone
// never synthesise, even with a fallback configured. Unmapped categories use
// ShapeGeneric unless WithFallback says otherwise.
func NewRegistry(shapes map[string]Shape, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		shapes:   maps.Clone(shapes),
		fallback: ShapeGeneric,
	}
	if r.shapes == nil {
		r.shapes = map[string]Shape{}
	}
	for _, opt := range opts {
		opt(r)
	}

	for category, s := range r.shapes {
		if s == "" {
			delete(r.shapes, category)
			continue
		}
		if _, err := ParseShape(string(s)); err != nil {
			return nil, fmt.Errorf("category %s: %w", category, err)
		}
	}
	if _, err := ParseShape(string(r.fallback)); err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return r, nil
}

// Resolve returns the shape for category and whether synthesis is available.
func (r *Registry) Resolve(category string) (Shape, bool) {
	s, ok := r.shapes[category]
	if !ok {
		s = r.fallback
	}
	if s == "" || s == ShapeNone {
		return ShapeNone, false
	}
	return s, true
}
