package store

import (
	"context"
	"fmt"

	"github.com/kilianp07/fleetbridge/config"
	"github.com/kilianp07/fleetbridge/core/store"
)

// Open returns the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "bolt":
		b, err := OpenBolt(cfg.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		r, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
