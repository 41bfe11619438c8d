package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/samber/do/v2"

	"github.com/kchartio/kchart/internal/cache"
	"github.com/kchartio/kchart/internal/config"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/store/sqlite"
)

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the sqlite catalog store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Data.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := cfg.Data.DatabasePath()
	db, err := sqlite.Open(dbPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", dbPath)

	return &StoreHandle{Store: db}, nil
}

// CacheHandle wraps the aggregate cache with shutdown capability.
type CacheHandle struct {
	cache.Cache
}

// Shutdown implements do.Shutdownable.
func (h *CacheHandle) Shutdown() error {
	return h.Close()
}

// ProvideCache provides the aggregate cache selected by configuration.
func ProvideCache(i do.Injector) (*CacheHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	switch cfg.Cache.Backend {
	case config.CacheRedis:
		c, err := cache.OpenRedis(context.Background(), cfg.Cache.RedisURL, log.Logger)
		if err != nil {
			return nil, err
		}
		log.Info("Aggregate cache initialized", "backend", config.CacheRedis)
		return &CacheHandle{Cache: c}, nil
	default:
		path := cfg.Data.CachePath()
		c, err := cache.OpenBadger(path, log.Logger)
		if err != nil {
			return nil, err
		}
		log.Info("Aggregate cache initialized", "backend", config.CacheBadger, "path", path)
		return &CacheHandle{Cache: c}, nil
	}
}
