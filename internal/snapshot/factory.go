package snapshot

import (
	"fmt"

	"go.uber.org/zap"

	"classsync/internal/config"
	"classsync/pkg/interfaces"
)

// NewStoreFromConfig builds the snapshot cache backend the configuration
// selects.
func NewStoreFromConfig(cfg config.CacheConfig, log *zap.Logger) (interfaces.SnapshotStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path, log)
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
