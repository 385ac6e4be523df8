package handler

import (
	"fmt"
	"time"

	"github.com/fabian4/gateway-homebrew-go/internal/config"
	"github.com/fabian4/gateway-homebrew-go/internal/kvstore"
)

// newStore builds the Key-Value Store backend named by cfg.CacheBackend.
// memory is the default when the field is empty.
func newStore(cfg *config.Config) (kvstore.Store, error) {
	switch cfg.CacheBackend {
	case "", "memory":
		return kvstore.NewMemory(time.Minute), nil
	case "redis":
		return kvstore.NewRedis(kvstore.RedisOptions{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		}), nil
	case "sqlite":
		return kvstore.NewSQLite(cfg.SQLitePath, "")
	default:
		return nil, fmt.Errorf("handler: unknown cache backend %q", cfg.CacheBackend)
	}
}
