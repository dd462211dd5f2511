package execution

import (
	"fmt"
	"sort"
	"sync"

	"yqhp/load-probe/pkg/types"
)

// Registry manages execution mode instances.
type Registry struct {
	modes map[types.ExecutorKind]func() Mode
	mu    sync.RWMutex
}

// NewRegistry creates a new execution mode registry with default modes.
func NewRegistry() *Registry {
	r := &Registry{
		modes: make(map[types.ExecutorKind]func() Mode),
	}

	r.Register(types.ExecutorConstantVUs, func() Mode { return NewConstantVUsMode() })
	r.Register(types.ExecutorRampingVUs, func() Mode { return NewRampingVUsMode() })
	r.Register(types.ExecutorConstantArrivalRate, func() Mode { return NewConstantArrivalRateMode() })
	r.Register(types.ExecutorRampingArrivalRate, func() Mode { return NewRampingArrivalRateMode() })
	r.Register(types.ExecutorPerVUIterations, func() Mode { return NewPerVUIterationsMode() })
	r.Register(types.ExecutorSharedIterations, func() Mode { return NewSharedIterationsMode() })

	return r
}

// Register registers a mode factory.
func (r *Registry) Register(kind types.ExecutorKind, factory func() Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[kind] = factory
}

// Get returns a new instance of the specified mode.
func (r *Registry) Get(kind types.ExecutorKind) (Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.modes[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, kind)
	}
	return factory(), nil
}

// List returns all registered kinds, sorted.
func (r *Registry) List() []types.ExecutorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]types.ExecutorKind, 0, len(r.modes))
	for kind := range r.modes {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DefaultRegistry is the default execution mode registry.
var DefaultRegistry = NewRegistry()

// GetMode returns a new instance of the specified mode from the default registry.
func GetMode(kind types.ExecutorKind) (Mode, error) {
	return DefaultRegistry.Get(kind)
}
