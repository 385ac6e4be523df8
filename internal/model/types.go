// Package model holds the plain data types shared by the route table,
// health registry, selector, and dispatch engine: the static shape of a
// route and its backends, as parsed from configuration.
package model

import "strconv"

// Backend is a single upstream HTTP endpoint. Name is unique within its
// Route and is the key used by the health registry; weight is a static
// configuration property, not a liveness signal.
type Backend struct {
	Name   string
	Host   string
	Port   int
	Weight int
}

// Addr returns the backend's dial target as host:port.
func (b Backend) Addr() string {
	return b.Host + ":" + strconv.Itoa(b.Port)
}

// LBPolicy selects how a Route's healthy backend set is walked.
type LBPolicy string

const (
	// PolicyWeightedRandom is the hot-path default: weighted random over
	// the currently healthy backends.
	PolicyWeightedRandom LBPolicy = "weighted_random"
	// PolicyRoundRobin cycles through the healthy set under a per-route
	// counter. Defined but not the default.
	PolicyRoundRobin LBPolicy = "round_robin"
)

// RateLimitOverride narrows the global rate limit to a specific route.
type RateLimitOverride struct {
	RequestsPerWindow int
	WindowSeconds     int
}

// Route is a (prefix, backends, policy) triple used to dispatch a request.
type Route struct {
	PathPrefix       string
	Backends         []Backend
	CacheEnabled     bool
	CacheTTLSeconds  int
	WebsocketEnabled bool
	LBPolicy         LBPolicy
	RateLimit        *RateLimitOverride
}
