// Package config loads, validates, and hot-reloads the gateway's
// configuration, producing immutable Config snapshots consumed by the
// Route Table, Health Registry, Rate Limiter, and Authenticator.
package config

import "github.com/fabian4/gateway-homebrew-go/internal/model"

// Cache selects and configures the Key-Value Store backend shared by
// the Response Cache and the Rate Limiter.
type Cache struct {
	Backend       string `mapstructure:"backend" validate:"omitempty,oneof=memory redis sqlite"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	SQLitePath    string `mapstructure:"sqlite_path"`
}

// Health configures the Health Prober's cycle period, per-probe
// timeout, and issuance throttle.
type Health struct {
	ProbeIntervalSeconds int     `mapstructure:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int     `mapstructure:"probe_timeout_seconds"`
	ProbeQPS             float64 `mapstructure:"probe_qps"`
}

// CORS is the static cross-origin allow-list.
type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Security bundles authentication, CORS, and IP allow-list settings.
type Security struct {
	JWTAuthEnabled bool     `mapstructure:"jwt_auth_enabled"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	CORS           CORS     `mapstructure:"cors"`
	IPWhitelist    []string `mapstructure:"ip_whitelist"`
}

// Performance bundles the gateway-wide rate limit and compression gate.
type Performance struct {
	RateLimit         int  `mapstructure:"rate_limit" validate:"required,gt=0"`
	RateWindowSeconds int  `mapstructure:"rate_window_seconds" validate:"required,gt=0"`
	GzipEnabled       bool `mapstructure:"gzip_enabled"`
}

// Server holds the two listener ports.
type Server struct {
	HTTPPort    int `mapstructure:"http_port" validate:"required,gt=0,lt=65536"`
	MetricsPort int `mapstructure:"metrics_port" validate:"gte=0,lt=65536"`
}

// RouteRateLimit mirrors model.RateLimitOverride in the raw config shape.
type RouteRateLimit struct {
	RequestsPerWindow int `mapstructure:"requests_per_window"`
	WindowSeconds     int `mapstructure:"window_seconds"`
}

// Backend mirrors model.Backend in the raw config shape.
type Backend struct {
	Name   string `mapstructure:"name" validate:"required"`
	Host   string `mapstructure:"host" validate:"required"`
	Port   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	Weight int    `mapstructure:"weight"`
}

// Route mirrors model.Route in the raw config shape, prior to
// normalization into model.Route.
type Route struct {
	PathPrefix       string          `mapstructure:"path_prefix" validate:"required"`
	CacheEnabled     bool            `mapstructure:"cache_enabled"`
	CacheTTLSeconds  int             `mapstructure:"cache_ttl_seconds"`
	WebsocketEnabled bool            `mapstructure:"websocket_enabled"`
	LBPolicy         string          `mapstructure:"lb_policy" validate:"omitempty,oneof=weighted_random round_robin"`
	RateLimit        *RouteRateLimit `mapstructure:"rate_limit"`
	Backends         []Backend       `mapstructure:"backends" validate:"required,min=1,dive"`
}

// raw is the shape config.Load unmarshals the config file into, before
// validation and normalization into Config.
type raw struct {
	Server      Server      `mapstructure:"server" validate:"required"`
	Security    Security    `mapstructure:"security"`
	Performance Performance `mapstructure:"performance"`
	Cache       Cache       `mapstructure:"cache"`
	Health      Health      `mapstructure:"health"`
	Routes      []Route     `mapstructure:"routes" validate:"required,min=1,dive"`
}

// Config is the fully parsed, validated, immutable view of the
// configuration file at one point in time. Every component the
// Dispatch Engine depends on is constructed from one Config; a reload
// produces a brand new Config and a brand new set of components,
// installed atomically (§9).
type Config struct {
	HTTPPort    int
	MetricsPort int

	JWTAuthEnabled bool
	JWTSecret      string
	CORSOrigins    []string
	IPWhitelist    []string

	RateLimit         int
	RateWindowSeconds int
	GzipEnabled       bool

	CacheBackend  string
	RedisHost     string
	RedisPort     int
	RedisPassword string
	SQLitePath    string

	ProbeIntervalSeconds int
	ProbeTimeoutSeconds  int
	ProbeQPS             float64

	Routes []model.Route
}
