package translation

import (
	"fmt"
	"sync"

	"github.com/MimeLyc/doctrans/internal/docjob"
)

// Registry manages the available translation engines by name.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
	}
}

// Register adds an engine to the registry.
// Returns an error if an engine with the same name already exists.
func (r *Registry) Register(engine Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := engine.Name()
	if _, exists := r.engines[name]; exists {
		return fmt.Errorf("engine %q already registered", name)
	}

	r.engines[name] = engine
	return nil
}

// Get retrieves an engine by name. Unknown names are a configuration error
// so callers can fail the requesting output instead of retrying forever.
func (r *Registry) Get(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engine, exists := r.engines[name]
	if !exists {
		return nil, docjob.NewError(docjob.ErrConfiguration,
			fmt.Sprintf("unknown translation engine %q", name))
	}
	return engine, nil
}

// List returns all registered engine names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	return names
}
