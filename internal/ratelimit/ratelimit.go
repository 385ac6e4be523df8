// Package ratelimit implements the per-client fixed-window Rate Limiter,
// backed by the Key-Value Store contract.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fabian4/gateway-homebrew-go/internal/kvstore"
	"github.com/fabian4/gateway-homebrew-go/internal/model"
)

// Limiter enforces a fixed window of limit requests per window, keyed by
// client identifier. It is fail-open: if the backing store is
// unreachable, Allow returns true for every caller rather than blocking
// traffic on a degraded dependency.
type Limiter struct {
	store  kvstore.Store
	limit  int
	window time.Duration
	logger *log.Logger
}

// New builds a Limiter with the global default limit/window. Per-route
// overrides are supplied per call to Allow.
func New(store kvstore.Store, limit int, window time.Duration, logger *log.Logger) *Limiter {
	if logger == nil {
		logger = log.Default()
	}
	return &Limiter{store: store, limit: limit, window: window, logger: logger}
}

// Allow reports whether client may proceed against routePrefix's
// override when one is configured, otherwise against the global
// limit/window. It never returns an error: a store failure fails open.
func (l *Limiter) Allow(ctx context.Context, client, routePrefix string, override *model.RateLimitOverride) bool {
	limit, window, key := l.scope(client, routePrefix, override)

	n, err := l.store.Incr(ctx, key, window)
	if err != nil {
		l.logger.Printf("ratelimit: store unavailable, failing open: %v", err)
		return true
	}
	return n <= int64(limit)
}

func (l *Limiter) scope(client, routePrefix string, override *model.RateLimitOverride) (limit int, window time.Duration, key string) {
	if override != nil && override.RequestsPerWindow > 0 && override.WindowSeconds > 0 {
		return override.RequestsPerWindow,
			time.Duration(override.WindowSeconds) * time.Second,
			fmt.Sprintf("rate:%s:%s", routePrefix, client)
	}
	return l.limit, l.window, fmt.Sprintf("rate:%s", client)
}
