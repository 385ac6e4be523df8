// Package lb implements the Backend Selector: per-route
// healthy-weighted-random selection over the Health Registry, with a
// round-robin fallback policy defined but not on the hot path.
package lb

import (
	"math/rand"
	"sync"

	"github.com/fabian4/gateway-homebrew-go/internal/health"
	"github.com/fabian4/gateway-homebrew-go/internal/model"
)

// Selector chooses a backend for a route from the currently healthy set.
// It is safe for concurrent use; per-route round-robin counters share one
// mutex, but the mutex is only held for the counter increment itself —
// the registry snapshot and the weighted-random RNG walk never hold it.
type Selector struct {
	registry *health.Registry

	mu sync.Mutex
	rr map[string]int // route prefix -> next round-robin index
}

// New builds a Selector reading liveness from registry.
func New(registry *health.Registry) *Selector {
	return &Selector{registry: registry, rr: make(map[string]int)}
}

// Select returns a backend for route, or the zero Backend and ok=false
// if every backend is currently unhealthy.
func (s *Selector) Select(route model.Route) (model.Backend, bool) {
	healthy := s.registry.SnapshotHealthy(route)
	if len(healthy) == 0 {
		return model.Backend{}, false
	}
	switch route.LBPolicy {
	case model.PolicyRoundRobin:
		return s.roundRobin(route.PathPrefix, healthy), true
	default:
		return weightedRandom(healthy), true
	}
}

// weightedRandom implements the spec's algorithm exactly: sum the
// weights, draw r uniformly in [1, W], walk accumulating weight until
// the running sum reaches r. The spec only requires the registry read
// itself to be atomic, not the RNG walk, so this takes an already
// obtained snapshot and never touches a lock.
func weightedRandom(healthy []model.Backend) model.Backend {
	total := 0
	for _, b := range healthy {
		total += weightOf(b)
	}
	r := rand.Intn(total) + 1
	sum := 0
	for _, b := range healthy {
		sum += weightOf(b)
		if sum >= r {
			return b
		}
	}
	// Unreachable: total == the final sum and r <= total, so the loop
	// above always returns before falling through.
	return healthy[len(healthy)-1]
}

func weightOf(b model.Backend) int {
	if b.Weight < 1 {
		return 1
	}
	return b.Weight
}

func (s *Selector) roundRobin(routePrefix string, healthy []model.Backend) model.Backend {
	s.mu.Lock()
	idx := s.rr[routePrefix]
	s.rr[routePrefix] = idx + 1
	s.mu.Unlock()
	return healthy[idx%len(healthy)]
}
