package vendor

import (
	"fmt"
	"sort"

	domainerrors "github.com/kchartio/kchart/internal/errors"
)

// Registry holds the configured chart services keyed by slug.
type Registry struct {
	services  map[string]ChartService
	reference ChartService
}

// NewRegistry registers services. Exactly one must be the reference.
func NewRegistry(services ...ChartService) (*Registry, error) {
	r := &Registry{services: make(map[string]ChartService, len(services))}
	for _, s := range services {
		if _, dup := r.services[s.Slug()]; dup {
			return nil, fmt.Errorf("duplicate chart service %q", s.Slug())
		}
		r.services[s.Slug()] = s
		if s.IsReference() {
			if r.reference != nil {
				return nil, fmt.Errorf("both %q and %q claim to be the reference service",
					r.reference.Slug(), s.Slug())
			}
			r.reference = s
		}
	}
	if r.reference == nil {
		return nil, fmt.Errorf("no reference chart service registered")
	}
	return r, nil
}

// Get returns the service for slug.
func (r *Registry) Get(slug string) (ChartService, error) {
	s, ok := r.services[slug]
	if !ok {
		return nil, domainerrors.NotFoundf("unknown chart service %q", slug)
	}
	return s, nil
}

// Reference returns the reference service.
func (r *Registry) Reference() ChartService {
	return r.reference
}

// All returns every service, reference first, then by slug.
func (r *Registry) All() []ChartService {
	out := make([]ChartService, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsReference() != out[j].IsReference() {
			return out[i].IsReference()
		}
		return out[i].Slug() < out[j].Slug()
	})
	return out
}

// Slugs returns the registered slugs in All order.
func (r *Registry) Slugs() []string {
	all := r.All()
	slugs := make([]string, len(all))
	for i, s := range all {
		slugs[i] = s.Slug()
	}
	return slugs
}
