package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mkoval8/venuebot/internal/domain"
)

// Factory builds a fresh strategy instance. Each running bot gets its own
// instance so stateful strategies never share state across bots.
type Factory func() Strategy

// Registry manages the named strategy factories available to the
// scheduler. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("crossover", func() Strategy { return NewCrossover() })
	r.Register("rsi", func() Strategy { return NewRSI() })
	r.Register("grid", func() Strategy { return NewGrid() })
	return r
}

// Register adds a factory under the given name, replacing any existing one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New instantiates the named strategy. Unknown names fail fast with
// ErrUnknownStrategy so a bot never starts against a missing strategy.
func (r *Registry) New(name string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrUnknownStrategy)
	}
	return f(), nil
}

// List returns the registered strategy names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
