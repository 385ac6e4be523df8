package health

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fabian4/gateway-homebrew-go/internal/model"
)

const (
	// DefaultInterval is the period between probe cycles when none is
	// configured.
	DefaultInterval = 30 * time.Second
	// DefaultTimeout bounds a single probe request.
	DefaultTimeout = 5 * time.Second
)

// Prober is the single cooperative worker that owns the probe period. It
// holds a one-way reference to the Registry it writes into; the Registry
// has no knowledge of the Prober.
type Prober struct {
	registry *Registry
	routes   []model.Route
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	// issuance throttles how fast probes are dialed out, guarding against
	// a thundering herd when a large backend fleet is probed every cycle.
	issuance *rate.Limiter
	logger   *log.Logger

	done chan struct{}
}

// Option customizes a Prober at construction.
type Option func(*Prober)

// WithInterval overrides the default 30s probe period.
func WithInterval(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout overrides the default 5s per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithIssuanceQPS bounds how many probe requests the Prober dials per
// second, across the whole cycle, independent of the cycle period.
func WithIssuanceQPS(qps float64) Option {
	return func(p *Prober) {
		if qps > 0 {
			p.issuance = rate.NewLimiter(rate.Limit(qps), 1)
		}
	}
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProber builds a Prober that writes into registry for the given routes.
func NewProber(registry *Registry, routes []model.Route, opts ...Option) *Prober {
	p := &Prober{
		registry: registry,
		routes:   routes,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		issuance: rate.NewLimiter(rate.Inf, 1),
		logger:   log.Default(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.client = &http.Client{
		Timeout: p.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return p
}

// Run blocks, issuing one probe cycle per interval, until ctx is
// cancelled. It completes any in-flight probe before returning.
func (p *Prober) Run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// Stopped reports whether Run has returned, for tests that need to wait
// out a clean shutdown.
func (p *Prober) Stopped() <-chan struct{} {
	return p.done
}

func (p *Prober) cycle(ctx context.Context) {
	for _, route := range p.routes {
		for _, b := range route.Backends {
			if err := p.issuance.Wait(ctx); err != nil {
				return
			}
			healthy := p.probe(ctx, b)
			if p.registry.IsHealthy(route.PathPrefix, b.Name) != healthy {
				p.registry.Set(route.PathPrefix, b.Name, healthy)
				p.logger.Printf("health: %s/%s -> %v", route.PathPrefix, b.Name, healthy)
			}
		}
	}
}

// probe issues one GET /health and classifies the outcome per the spec:
// transport error/timeout -> unhealthy, [200,499] -> healthy, >=500 ->
// unhealthy.
func (p *Prober) probe(ctx context.Context, b model.Backend) bool {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", b.Addr())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 500
}
