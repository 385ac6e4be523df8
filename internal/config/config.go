package config

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fabian4/gateway-homebrew-go/internal/model"
)

var validate = validator.New()

// Load reads, validates, and normalizes the configuration file at path.
// Env vars override file values for the two secrets operators do not
// want committed to disk: GATEWAY_JWT_SECRET and GATEWAY_REDIS_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("gateway")
	v.AutomaticEnv()
	_ = v.BindEnv("security.jwt_secret", "GATEWAY_JWT_SECRET")
	_ = v.BindEnv("cache.redis_password", "GATEWAY_REDIS_PASSWORD")

	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("health.probe_interval_seconds", 30)
	v.SetDefault("health.probe_timeout_seconds", 5)
	v.SetDefault("health.probe_qps", 50.0)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var r raw
	if err := v.Unmarshal(&r); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate.Struct(r); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return normalize(r)
}

// normalize converts the validated raw shape into the Config snapshot
// the rest of the gateway depends on, rejecting duplicate route
// prefixes up front rather than letting the Route Table silently drop
// them.
func normalize(r raw) (*Config, error) {
	seen := make(map[string]bool, len(r.Routes))
	routes := make([]model.Route, 0, len(r.Routes))
	for _, rr := range r.Routes {
		if seen[rr.PathPrefix] {
			return nil, fmt.Errorf("config: duplicate route path_prefix %q", rr.PathPrefix)
		}
		seen[rr.PathPrefix] = true

		backends := make([]model.Backend, 0, len(rr.Backends))
		for _, b := range rr.Backends {
			weight := b.Weight
			if weight < 1 {
				weight = 1
			}
			backends = append(backends, model.Backend{
				Name: b.Name, Host: b.Host, Port: b.Port, Weight: weight,
			})
		}

		policy := model.PolicyWeightedRandom
		if rr.LBPolicy == string(model.PolicyRoundRobin) {
			policy = model.PolicyRoundRobin
		}

		var override *model.RateLimitOverride
		if rr.RateLimit != nil && rr.RateLimit.RequestsPerWindow > 0 && rr.RateLimit.WindowSeconds > 0 {
			override = &model.RateLimitOverride{
				RequestsPerWindow: rr.RateLimit.RequestsPerWindow,
				WindowSeconds:     rr.RateLimit.WindowSeconds,
			}
		}

		routes = append(routes, model.Route{
			PathPrefix:       rr.PathPrefix,
			Backends:         backends,
			CacheEnabled:     rr.CacheEnabled,
			CacheTTLSeconds:  rr.CacheTTLSeconds,
			WebsocketEnabled: rr.WebsocketEnabled,
			LBPolicy:         policy,
			RateLimit:        override,
		})
	}

	return &Config{
		HTTPPort:    r.Server.HTTPPort,
		MetricsPort: r.Server.MetricsPort,

		JWTAuthEnabled: r.Security.JWTAuthEnabled,
		JWTSecret:      r.Security.JWTSecret,
		CORSOrigins:    r.Security.CORS.AllowedOrigins,
		IPWhitelist:    r.Security.IPWhitelist,

		RateLimit:         r.Performance.RateLimit,
		RateWindowSeconds: r.Performance.RateWindowSeconds,
		GzipEnabled:       r.Performance.GzipEnabled,

		CacheBackend:  r.Cache.Backend,
		RedisHost:     r.Cache.RedisHost,
		RedisPort:     r.Cache.RedisPort,
		RedisPassword: r.Cache.RedisPassword,
		SQLitePath:    r.Cache.SQLitePath,

		ProbeIntervalSeconds: r.Health.ProbeIntervalSeconds,
		ProbeTimeoutSeconds:  r.Health.ProbeTimeoutSeconds,
		ProbeQPS:             r.Health.ProbeQPS,

		Routes: routes,
	}, nil
}

// Dump renders the effective, normalized Config as YAML for operator
// inspection (the "gateway validate --show" path), independent of
// whatever format the source file was written in.
func Dump(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Watcher holds the live Config behind an atomic.Pointer and, when
// started, rebuilds it on every change to the backing file. A reload
// candidate that fails to load or validate is logged and discarded;
// the prior generation keeps serving.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	logger  *log.Logger
	watcher *fsnotify.Watcher
	onReload func(*Config)
	done    chan struct{}
}

// NewWatcher loads path once and returns a Watcher holding that initial
// snapshot. Call Watch to begin reacting to file changes.
func NewWatcher(path string, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, logger: logger, done: make(chan struct{})}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the live Config snapshot.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnReload registers a callback invoked with the new snapshot after
// every successful reload. It is not called for the initial load.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.onReload = fn
}

// Watch starts an fsnotify watch on the config file. It returns once
// the watch is established; reloads happen on a background goroutine
// until Close is called.
func (w *Watcher) Watch() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: start watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		_ = fw.Close()
		return fmt.Errorf("config: watch %s: %w", w.path, err)
	}
	w.watcher = fw

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.reload()
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Printf("config: watch error: %v", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Printf("config: reload candidate invalid, keeping prior generation: %v", err)
		return
	}
	w.current.Store(cfg)
	w.logger.Printf("config: reloaded %s (routes=%d)", w.path, len(cfg.Routes))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
