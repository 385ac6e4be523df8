// Package health implements the Health Registry (a concurrent-safe
// liveness map) and the Health Prober that feeds it.
package health

import (
	"sync"

	"github.com/fabian4/gateway-homebrew-go/internal/model"
)

type key struct {
	route   string
	backend string
}

// Registry is a concurrent-safe map from (route prefix, backend name) to
// a liveness flag. The zero value is not usable; construct with NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	alive map[key]bool
}

// NewRegistry builds a Registry seeded with every backend of every route
// marked healthy, per the spec's initial-value invariant.
func NewRegistry(routes []model.Route) *Registry {
	r := &Registry{alive: make(map[key]bool)}
	for _, rt := range routes {
		for _, b := range rt.Backends {
			r.alive[key{rt.PathPrefix, b.Name}] = true
		}
	}
	return r
}

// IsHealthy reports the current liveness of a (route, backend) pair.
// Pairs never seeded (not present in any route at construction time)
// report unhealthy.
func (r *Registry) IsHealthy(route, backend string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alive[key{route, backend}]
}

// Set records a structured liveness observation — a completed probe or
// an explicit administrative override.
func (r *Registry) Set(route, backend string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[key{route, backend}] = healthy
}

// SnapshotHealthy returns the backends of route that are currently
// marked healthy, preserving the route's configured order.
func (r *Registry) SnapshotHealthy(route model.Route) []model.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Backend, 0, len(route.Backends))
	for _, b := range route.Backends {
		if r.alive[key{route.PathPrefix, b.Name}] {
			out = append(out, b)
		}
	}
	return out
}
