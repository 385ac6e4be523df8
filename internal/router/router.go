// Package router implements the Route Table: an immutable, longest
// path-prefix match from an inbound request path to its Route.
package router

import (
	"sort"
	"strings"

	"github.com/fabian4/gateway-homebrew-go/internal/model"
)

// Table is built once at startup and never mutated afterwards, so it
// needs no locking: every read sees the same backing slice.
type Table struct {
	routes []model.Route // sorted by prefix length, longest first
}

// New builds a Table from routes. Duplicate prefixes are rejected in
// favor of the first occurrence, matching the spec's tie-break rule.
func New(routes []model.Route) *Table {
	seen := make(map[string]bool, len(routes))
	out := make([]model.Route, 0, len(routes))
	for _, r := range routes {
		if seen[r.PathPrefix] {
			continue
		}
		seen[r.PathPrefix] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].PathPrefix) > len(out[j].PathPrefix)
	})
	return &Table{routes: out}
}

// Match returns the Route whose prefix is the longest prefix of path, or
// nil if none matches.
func (t *Table) Match(path string) *model.Route {
	for i := range t.routes {
		if strings.HasPrefix(path, t.routes[i].PathPrefix) {
			return &t.routes[i]
		}
	}
	return nil
}

// Routes returns the table's routes in matching order (longest prefix
// first), for components that need to enumerate every route (e.g. to
// seed the health registry or build per-route balancers).
func (t *Table) Routes() []model.Route {
	return t.routes
}
