// Package cache implements the Response Cache: a GET-only, TTL-bound
// cache of full HTTP responses keyed by method and URI, backed by the
// Key-Value Store contract.
package cache

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/fabian4/gateway-homebrew-go/internal/model"
)

// HeaderHit is stamped on every response served from cache.
const HeaderHit = "X-Proxy-Cache"

type store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache wraps a Key-Value Store with the read/write contract of §4.G.
type Cache struct {
	store  store
	logger *log.Logger
}

// New builds a Cache over store. logger may be nil, in which case the
// standard logger is used for non-fatal serialization/store failures.
func New(s store, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{store: s, logger: logger}
}

// Fingerprint returns the cache key for a request's method and URI.
func Fingerprint(method, uri string) string {
	return "cache:" + method + ":" + uri
}

// Read attempts to serve req from cache. It is only ever consulted for
// GET requests; any other method is an unconditional miss. A malformed
// stored blob is treated as a miss and logged, never as an error the
// caller must handle.
func (c *Cache) Read(ctx context.Context, req *http.Request) *http.Response {
	if req.Method != http.MethodGet {
		return nil
	}
	raw, ok, err := c.store.Get(ctx, Fingerprint(req.Method, req.URL.RequestURI()))
	if err != nil || !ok {
		return nil
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		c.logger.Printf("cache: discarding malformed entry: %v", err)
		return nil
	}
	resp.Header.Set(HeaderHit, "HIT")
	return resp
}

// Write stores resp under req's fingerprint if the route, method, status,
// and Cache-Control all permit it. Failures are logged and non-fatal.
func (c *Cache) Write(ctx context.Context, req *http.Request, resp *http.Response, route *model.Route) {
	if !Cacheable(req, resp, route) {
		return
	}
	raw, err := httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Printf("cache: failed to serialize response: %v", err)
		return
	}
	ttl := time.Duration(route.CacheTTLSeconds) * time.Second
	key := Fingerprint(req.Method, req.URL.RequestURI())
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Printf("cache: store unavailable, skipping write: %v", err)
	}
}

// Cacheable reports whether resp for req may be written to the cache
// under route.
func Cacheable(req *http.Request, resp *http.Response, route *model.Route) bool {
	if route == nil || !route.CacheEnabled {
		return false
	}
	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return false
	}
	cc := strings.ToLower(resp.Header.Get("Cache-Control"))
	for _, directive := range []string{"no-store", "no-cache", "private"} {
		if strings.Contains(cc, directive) {
			return false
		}
	}
	return true
}
