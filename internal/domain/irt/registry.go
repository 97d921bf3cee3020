package irt

import "fmt"

// Registry is the dispatch table from model name to Model. Registration order
// is significant: it breaks ties between equally good models.
type Registry struct {
	order  []string
	models map[string]Model
}

// NewRegistry builds a registry from the given models in order.
func NewRegistry(models ...Model) *Registry {
	r := &Registry{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if _, dup := r.models[m.Name()]; dup {
			continue
		}
		r.order = append(r.order, m.Name())
		r.models[m.Name()] = m
	}
	return r
}

// DefaultRegistry returns every built-in model, simplest first.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewRasch(),
		NewRaschBirnbaumA(),
		NewMixedRaschBirnbaum(),
		NewRaschBirnbaumB(),
		NewPCM(),
		NewGRM(),
		NewPCMGeneralized(),
		NewGRMGeneralized(),
	)
}

// Lookup returns the model registered under name.
func (r *Registry) Lookup(name string) (Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return m, nil
}

// Resolve looks up every name, failing on the first unknown one.
func (r *Registry) Resolve(names []string) ([]Model, error) {
	out := make([]Model, 0, len(names))
	for _, n := range names {
		m, err := r.Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Rank returns the registration position of name, or -1 when unknown.
func (r *Registry) Rank(name string) int {
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}
