// Package seed derives independent, reproducible random streams from a run
// seed and a path of identifying parts.
package seed

import (
	"hash/fnv"
	"math/rand/v2"
	"strconv"
)

// Source derives random generators from a base seed.
type Source struct {
	base uint64
}

// New returns a Source rooted at base.
func New(base uint64) Source {
	return Source{base: base}
}

// Base returns the root seed.
func (s Source) Base() uint64 {
	return s.base
}

// Rand returns a generator whose stream depends only on the base seed and
// parts. Equal inputs always yield identical streams.
func (s Source) Rand(parts ...string) *rand.Rand {
	return rand.New(rand.NewPCG(s.base, s.Key(parts...)))
}

// Slot is shorthand for Rand(category, kind, slot).
func (s Source) Slot(category, kind string, slot int) *rand.Rand {
	return s.Rand(category, kind, strconv.Itoa(slot))
}

// Key hashes parts into a stream selector.
func (s Source) Key(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
