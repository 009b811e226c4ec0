// Package registry provides the registry of sandbox backends.
package registry

import (
	"errors"
	"sync"

	"manifest-extractor-go/pkg/interfaces"
	"manifest-extractor-go/pkg/sandbox"
)

var _ interfaces.Registry[sandbox.Builder] = (*BackendRegistry)(nil)

// BackendRegistry manages sandbox builders. Builders are consulted in
// registration order; the fallback serves every URL no builder claims.
type BackendRegistry struct {
	mu       sync.RWMutex
	builders []sandbox.Builder
	byName   map[string]sandbox.Builder
	fallback sandbox.Builder
}

// NewBackendRegistry creates a new backend registry.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{
		builders: make([]sandbox.Builder, 0),
		byName:   make(map[string]sandbox.Builder),
	}
}

// Register adds a builder to the registry.
func (r *BackendRegistry) Register(builder sandbox.Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders = append(r.builders, builder)
	r.byName[builder.Name()] = builder
}

// SetFallback sets the builder used when no registered builder matches.
func (r *BackendRegistry) SetFallback(builder sandbox.Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = builder
	r.byName[builder.Name()] = builder
}

// Get returns the builder for the given page URL.
func (r *BackendRegistry) Get(url string) sandbox.Builder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.builders {
		if b.CanHandle(url) {
			return b
		}
	}
	return r.fallback
}

// GetByName returns a builder by its name, or the fallback.
func (r *BackendRegistry) GetByName(name string) sandbox.Builder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.byName[name]; ok {
		return b
	}
	return r.fallback
}

// All returns all registered builders, fallback excluded.
func (r *BackendRegistry) All() []sandbox.Builder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]sandbox.Builder, len(r.builders))
	copy(result, r.builders)
	return result
}

// Names lists the registered builder names, fallback last.
func (r *BackendRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders)+1)
	for _, b := range r.builders {
		names = append(names, b.Name())
	}
	if r.fallback != nil {
		names = append(names, r.fallback.Name())
	}
	return names
}

// Close closes every builder once.
func (r *BackendRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	closed := make(map[sandbox.Builder]bool)
	for _, b := range append(append([]sandbox.Builder(nil), r.builders...), r.fallback) {
		if b == nil || closed[b] {
			continue
		}
		closed[b] = true
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
