package store

import (
	"context"
	"fmt"

	"wattwatch/config"

	"go.uber.org/zap"
)

// Open connects the backend selected by STORE_BACKEND
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("Using in-memory store, usage history is lost on restart")
		return NewMemoryStore(), nil
	case config.StoreFirebase:
		s, err := NewFirebaseStore(ctx, cfg.FirebaseDbUrl, cfg.FirebaseServiceAccountJSON, "wattwatch", logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreNats:
		s, err := NewNatsStore(ctx, cfg.NatsURL, cfg.NatsBucket, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreSqlite:
		s, err := NewSQLiteStore(cfg.SqlitePath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
