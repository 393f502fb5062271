package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wayfarer-planner/internal/config"
	"wayfarer-planner/internal/itinerary"
)

// Store is an itinerary repository that can report its health and be closed.
type Store interface {
	itinerary.Repository
	Ping(ctx context.Context) error
	Close() error
}

// New opens the backend named by cfg.Backend.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		return OpenPostgres(ctx, cfg, logger)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
