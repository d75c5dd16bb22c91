package mirror

import "fmt"

// Registration maps a logical repository name to its remote
// location. Loaded once at startup, immutable thereafter.
type Registration struct {
	Name   string
	Remote string
}

// Registry is the immutable set of registered repositories.
type Registry struct {
	byName  map[string]Registration
	ordered []Registration
}

// NewRegistry builds a registry from the configured
// registrations, preserving their order.
func NewRegistry(regs []Registration) *Registry {
	byName := make(map[string]Registration, len(regs))
	for _, reg := range regs {
		byName[reg.Name] = reg
	}

	return &Registry{
		byName:  byName,
		ordered: append([]Registration(nil), regs...),
	}
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	reg, ok := r.byName[name]

	return reg, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]

	return ok
}

// All returns the registrations in configuration order. The
// returned slice must not be mutated.
func (r *Registry) All() []Registration {
	return r.ordered
}

// UnknownRepositoryError reports a name with no registration.
type UnknownRepositoryError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownRepositoryError) Error() string {
	return fmt.Sprintf("unknown repository: %s", e.Name)
}
