package adapter

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resuelve adapters por nombre. Agregar un adapter es registrarlo
// acá; el orchestrator no conoce adapters concretos.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register valida el manifest y registra el adapter. Nombre duplicado ⇒ error.
func (r *Registry) Register(a Adapter) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("adapter: registro inválido")
	}
	if err := a.Manifest().Validate(); err != nil {
		return fmt.Errorf("adapter %q: %w", a.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("adapter %q ya registrado", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Get retorna el adapter o error si no existe.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter %q no registrado", name)
	}
	return a, nil
}

// Names lista los adapters registrados, ordenados.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
