// Package handler implements the Dispatch Engine: the per-request state
// machine that ties the Route Table, Authenticator, Rate Limiter,
// Backend Selector, Response Cache, and Compressor together.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fabian4/gateway-homebrew-go/internal/auth"
	"github.com/fabian4/gateway-homebrew-go/internal/cache"
	"github.com/fabian4/gateway-homebrew-go/internal/compress"
	"github.com/fabian4/gateway-homebrew-go/internal/config"
	"github.com/fabian4/gateway-homebrew-go/internal/cors"
	fwd "github.com/fabian4/gateway-homebrew-go/internal/forward"
	"github.com/fabian4/gateway-homebrew-go/internal/health"
	"github.com/fabian4/gateway-homebrew-go/internal/kvstore"
	"github.com/fabian4/gateway-homebrew-go/internal/lb"
	"github.com/fabian4/gateway-homebrew-go/internal/metrics"
	"github.com/fabian4/gateway-homebrew-go/internal/model"
	"github.com/fabian4/gateway-homebrew-go/internal/ratelimit"
	"github.com/fabian4/gateway-homebrew-go/internal/reqid"
	"github.com/fabian4/gateway-homebrew-go/internal/router"
)

// GatewayState is one generation of the Dispatch Engine's dependencies,
// built whole from one Configuration snapshot and never mutated after
// construction: a reload builds a new GatewayState and the Gateway
// swaps an atomic pointer to it (§9 epoch-swap).
type GatewayState struct {
	Config   *config.Config
	Routes   *router.Table
	Health   *health.Registry
	Selector *lb.Selector
	Limiter  *ratelimit.Limiter
	Cache    *cache.Cache
	Auth     *auth.Authenticator
	CORS     cors.Policy
	store    kvstore.Store
}

// Gateway is the Dispatch Engine's http.Handler. It holds the live
// GatewayState behind an atomic.Pointer so ServeHTTP never observes a
// half-updated generation during a config reload.
type Gateway struct {
	state atomic.Pointer[GatewayState]

	Transports fwd.Factory
	AccessLog  io.Writer
	Metrics    *metrics.Registry
	logger     *log.Logger

	upstreamTimeout time.Duration
}

// NewGateway builds a Gateway from an initial configuration snapshot.
func NewGateway(cfg *config.Config, transports fwd.Factory, accessLog io.Writer, m *metrics.Registry, logger *log.Logger) (*Gateway, error) {
	if accessLog == nil {
		accessLog = io.Discard
	}
	if logger == nil {
		logger = log.Default()
	}
	g := &Gateway{
		Transports:      transports,
		AccessLog:       accessLog,
		Metrics:         m,
		logger:          logger,
		upstreamTimeout: 30 * time.Second,
	}
	state, err := buildState(cfg, logger)
	if err != nil {
		return nil, err
	}
	g.state.Store(state)
	return g, nil
}

// Reload installs a brand-new GatewayState built from cfg, atomically
// replacing — never mutating — the generation currently in use.
func (g *Gateway) Reload(cfg *config.Config) error {
	state, err := buildState(cfg, g.logger)
	if err != nil {
		return err
	}
	g.state.Store(state)
	return nil
}

// State returns the live generation, for components (e.g. the Health
// Prober supervisor) that need to follow reloads.
func (g *Gateway) State() *GatewayState {
	return g.state.Load()
}

func buildState(cfg *config.Config, logger *log.Logger) (*GatewayState, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	registry := health.NewRegistry(cfg.Routes)

	var authenticator *auth.Authenticator
	if cfg.JWTAuthEnabled {
		authenticator = auth.New(cfg.JWTSecret)
	}

	return &GatewayState{
		Config:   cfg,
		Routes:   router.New(cfg.Routes),
		Health:   registry,
		Selector: lb.New(registry),
		Limiter: ratelimit.New(store, cfg.RateLimit,
			time.Duration(cfg.RateWindowSeconds)*time.Second, logger),
		Cache: cache.New(store, logger),
		Auth:  authenticator,
		CORS:  cors.Policy{AllowOrigins: cfg.CORSOrigins},
		store: store,
	}, nil
}

// Close releases the current generation's Key-Value Store.
func (g *Gateway) Close() error {
	if state := g.state.Load(); state != nil {
		return state.store.Close()
	}
	return nil
}

var _ http.Handler = (*Gateway)(nil)

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := g.state.Load()

	id := reqid.FromRequest(r)
	w.Header().Set(reqid.Header, id)
	ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, id)
	r = r.WithContext(ctx)

	lw := &loggingResponseWriter{ResponseWriter: w}
	start := time.Now()
	var routeName, backendName string

	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Printf("request %s: panic recovered: %v", id, rec)
			if lw.statusCode == 0 {
				g.reject(state, lw, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}
		g.logAndObserve(r, lw, start, routeName, backendName)
	}()

	ip := clientIP(r.RemoteAddr)

	if !ipAllowed(state.Config.IPWhitelist, ip) {
		g.reject(state, lw, r, http.StatusForbidden, "Forbidden")
		return
	}

	if state.Auth != nil && r.Method != http.MethodOptions {
		if err := state.Auth.Verify(bearerToken(r)); err != nil {
			if errors.Is(err, auth.ErrExpired) {
				g.reject(state, lw, r, http.StatusForbidden, "Forbidden")
				return
			}
			g.reject(state, lw, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
	}

	route := state.Routes.Match(r.URL.Path)
	var override *model.RateLimitOverride
	routePrefix := ""
	if route != nil {
		routePrefix = route.PathPrefix
		override = route.RateLimit
	}
	if !state.Limiter.Allow(r.Context(), ip, routePrefix, override) {
		if g.Metrics != nil {
			g.Metrics.RateLimitRejections.WithLabelValues(routePrefix).Inc()
		}
		g.reject(state, lw, r, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	if route == nil {
		g.reject(state, lw, r, http.StatusNotFound, "Not Found")
		return
	}
	routeName = route.PathPrefix

	if isWebsocketUpgrade(r) {
		g.reject(state, lw, r, http.StatusBadRequest, "WebSocket connections should be made to the WebSocket port")
		return
	}

	if route.CacheEnabled {
		if hit := state.Cache.Read(r.Context(), r); hit != nil {
			if g.Metrics != nil {
				g.Metrics.CacheResults.WithLabelValues(routeName, "hit").Inc()
			}
			g.emitCached(state, lw, r, hit)
			return
		}
		if g.Metrics != nil {
			g.Metrics.CacheResults.WithLabelValues(routeName, "miss").Inc()
		}
	}

	backend, ok := state.Selector.Select(*route)
	if !ok {
		g.reject(state, lw, r, http.StatusServiceUnavailable, "No backend available")
		return
	}
	backendName = backend.Name

	g.forward(state, lw, r, route, backend, id)
}

func (g *Gateway) forward(state *GatewayState, lw *loggingResponseWriter, r *http.Request, route *model.Route, backend model.Backend, id string) {
	u := &url.URL{Scheme: "http", Host: backend.Addr(), Path: r.URL.Path, RawQuery: r.URL.RawQuery}

	hdr := cloneHeader(r.Header)
	addXFF(hdr, r.RemoteAddr)
	setXFProto(hdr, r)
	setXFHost(hdr, r.Host)
	hdr.Set(reqid.Header, id)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), g.upstreamTimeout)
	defer cancel()

	upReq, err := http.NewRequestWithContext(ctx, r.Method, u.String(), r.Body)
	if err != nil {
		g.reject(state, lw, r, http.StatusBadGateway, err.Error())
		return
	}
	upReq.Header = hdr
	upReq.Host = r.Host

	client := &http.Client{Transport: g.Transports.Get(fwd.ProtoHTTP1)}
	resp, err := client.Do(upReq)
	if err != nil {
		g.reject(state, lw, r, http.StatusBadGateway, err.Error())
		return
	}
	defer func() { _ = resp.Body.Close() }()

	g.postProcess(state, lw, r, route, resp)
}

// postProcess implements §4.I's PostProcess stage: cache write (if
// eligible), compression (if eligible), then CORS and the final write.
func (g *Gateway) postProcess(state *GatewayState, lw *loggingResponseWriter, r *http.Request, route *model.Route, resp *http.Response) {
	stripUpstreamResponseHeaders(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.reject(state, lw, r, http.StatusBadGateway, "upstream body read failed")
		return
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if cache.Cacheable(r, resp, route) {
		state.Cache.Write(r.Context(), r, resp, route)
	}

	if state.Config.GzipEnabled {
		body = compress.Apply(r.Header.Get("Accept-Encoding"), resp.Header, body)
	}

	copyHeaders(lw.Header(), resp.Header)
	lw.Header().Set("Content-Length", strconv.Itoa(len(body)))
	state.CORS.Apply(r, lw.Header())

	lw.WriteHeader(resp.StatusCode)
	_, _ = lw.Write(body)
}

func (g *Gateway) emitCached(state *GatewayState, lw *loggingResponseWriter, r *http.Request, resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	copyHeaders(lw.Header(), resp.Header)
	state.CORS.Apply(r, lw.Header())
	lw.WriteHeader(resp.StatusCode)
	_, _ = lw.Write(body)
}

func (g *Gateway) reject(state *GatewayState, lw *loggingResponseWriter, r *http.Request, status int, body string) {
	state.CORS.Apply(r, lw.Header())
	http.Error(lw, body, status)
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):]
	}
	return ""
}

func ipAllowed(whitelist []string, ip string) bool {
	if len(whitelist) == 0 {
		return true
	}
	for _, allowed := range whitelist {
		if allowed == ip {
			return true
		}
	}
	return false
}

type ctxKeyRequestID struct{}

func (g *Gateway) logAndObserve(r *http.Request, lw *loggingResponseWriter, start time.Time, route, backend string) {
	status := lw.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	duration := time.Since(start)

	entry := AccessLog{
		RequestID:    r.Context().Value(ctxKeyRequestID{}).(string),
		Time:         start,
		Method:       r.Method,
		Path:         r.URL.Path,
		Route:        route,
		Backend:      backend,
		Status:       status,
		DurationMS:   duration.Milliseconds(),
		RemoteIP:     clientIP(r.RemoteAddr),
		BytesWritten: lw.bytes,
	}
	if err := json.NewEncoder(g.AccessLog).Encode(entry); err != nil {
		g.logger.Printf("access log: %v", err)
	}

	if g.Metrics != nil {
		g.Metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		if route != "" {
			g.Metrics.UpstreamLatency.WithLabelValues(route).Observe(duration.Seconds())
		}
	}
}

// AccessLog is the one structured JSON line emitted per completed
// request (§4.M).
type AccessLog struct {
	RequestID    string    `json:"request_id"`
	Time         time.Time `json:"time"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Route        string    `json:"route,omitempty"`
	Backend      string    `json:"backend,omitempty"`
	Status       int       `json:"status"`
	DurationMS   int64     `json:"duration_ms"`
	RemoteIP     string    `json:"remote_ip"`
	BytesWritten int64     `json:"bytes_written"`
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
