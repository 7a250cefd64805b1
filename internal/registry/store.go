// Package registry tracks order identity. Every order placed through the
// gateway leaves three durable correlations behind (event id, exchange id
// and client id, each keyed by its counterpart) plus an in-memory entry in
// the open order set. Later commands and unsolicited exchange updates are
// stitched back to the originating request through these tables.
package registry

import (
	"context"
	"fmt"

	"flashgate/internal/config"
	"flashgate/internal/core"
)

// Store is the durable key-value backend behind the registry. Get reports
// a miss with ok=false and reserves the error return for backend trouble.
type Store interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Close() error
}

// NewStore builds the configured backend.
func NewStore(ctx context.Context, cfg config.CacheConfig, logger core.ILogger) (Store, error) {
	switch cfg.Driver {
	case config.CacheDriverRedis:
		return NewRedisStore(ctx, cfg.RedisAddr, logger)
	case config.CacheDriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.CacheDriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache driver: %q", cfg.Driver)
	}
}
