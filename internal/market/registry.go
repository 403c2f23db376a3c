package market

import "fmt"

// Registry routes a symbol's source kind to the provider bound to it.
type Registry struct {
	providers map[Kind]Provider
}

func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[Kind]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := r.providers[p.Kind()]; dup {
			return nil, fmt.Errorf("duplicate provider for kind %s", p.Kind())
		}
		r.providers[p.Kind()] = p
	}
	return r, nil
}

func (r *Registry) Provider(kind Kind) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[kind]
	return p, ok
}
