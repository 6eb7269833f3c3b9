package provider

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownAuthenticator = errors.New("unknown authenticator")

// Registry holds all configured authenticators and allows lookup by
// name. It performs no auth logic itself.
type Registry struct {
	authenticators map[string]*Authenticator
}

// NewRegistry registers the given authenticators by name.
// Names must be unique and non-empty.
func NewRegistry(list ...*Authenticator) (*Registry, error) {
	m := make(map[string]*Authenticator, len(list))
	for _, a := range list {
		if a == nil || a.Name == "" {
			return nil, errors.New("authenticator name is required")
		}
		if _, dup := m[a.Name]; dup {
			return nil, fmt.Errorf("duplicate authenticator %q", a.Name)
		}
		m[a.Name] = a
	}
	return &Registry{authenticators: m}, nil
}

// Get returns the authenticator by name or ErrUnknownAuthenticator.
func (r *Registry) Get(name string) (*Authenticator, error) {
	a, ok := r.authenticators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAuthenticator, name)
	}
	return a, nil
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.authenticators))
	for name := range r.authenticators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
