// Package mix draws request definitions from weighted sets.
package mix

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

var (
	// ErrEmptyMix is returned for a mix without entries.
	ErrEmptyMix = errors.New("mix has no entries")
	// ErrNegativeWeight is returned for an entry with a negative or non-finite weight.
	ErrNegativeWeight = errors.New("mix weight must be a finite non-negative number")
	// ErrZeroTotal is returned when all weights are zero.
	ErrZeroTotal = errors.New("mix weights sum to zero")
)

// Weighted pairs an item with its relative weight.
type Weighted[T any] struct {
	Item   T
	Weight float64
}

// Sampler draws items with probability proportional to their weight. It is safe
// for concurrent use.
type Sampler[T any] struct {
	items      []T
	boundaries []float64 // cumulative, normalized, last is 1

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Sampler.
type Option func(*options)

type options struct {
	seed   int64
	seeded bool
}

// WithSeed makes the draw sequence reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// New validates entries and builds a Sampler.
func New[T any](entries []Weighted[T], opts ...Option) (*Sampler[T], error) {
	if len(entries) == 0 {
		return nil, ErrEmptyMix
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if !o.seeded {
		o.seed = time.Now().UnixNano()
	}

	var total float64
	for i, e := range entries {
		if e.Weight < 0 || math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
			return nil, fmt.Errorf("entry %d: %w (got %v)", i, ErrNegativeWeight, e.Weight)
		}
		total += e.Weight
	}
	if total == 0 {
		return nil, ErrZeroTotal
	}

	s := &Sampler[T]{
		items:      make([]T, len(entries)),
		boundaries: make([]float64, len(entries)),
		rng:        rand.New(rand.NewSource(o.seed)), //nolint:gosec
	}
	var cum float64
	for i, e := range entries {
		cum += e.Weight
		s.items[i] = e.Item
		s.boundaries[i] = cum / total
	}
	last := len(entries) - 1
	for entries[last].Weight == 0 {
		last--
	}
	for i := last; i < len(entries); i++ {
		s.boundaries[i] = 1
	}
	return s, nil
}

// Next draws one item.
func (s *Sampler[T]) Next() T {
	s.mu.Lock()
	u := s.rng.Float64()
	s.mu.Unlock()
	return s.pick(u)
}

// pick maps a uniform draw in [0,1) onto the cumulative boundaries. Zero-weight
// entries have an empty interval and are never chosen.
func (s *Sampler[T]) pick(u float64) T {
	i := sort.Search(len(s.boundaries), func(i int) bool { return u < s.boundaries[i] })
	if i >= len(s.items) {
		i = len(s.items) - 1
	}
	return s.items[i]
}

// Len returns the number of entries.
func (s *Sampler[T]) Len() int {
	return len(s.items)
}

// Probability returns the normalized weight of entry i.
func (s *Sampler[T]) Probability(i int) float64 {
	if i == 0 {
		return s.boundaries[0]
	}
	return s.boundaries[i] - s.boundaries[i-1]
}

// Nested draws a sub-mix from outer and then an item from it.
func Nested[T any](outer *Sampler[*Sampler[T]]) T {
	return outer.Next().Next()
}
