package main

import (
	"context"
	"fmt"

	"github.com/zulandar/relayhub/internal/config"
	"github.com/zulandar/relayhub/internal/db"
	"github.com/zulandar/relayhub/internal/store"
	"github.com/zulandar/relayhub/internal/store/mongo"
)

// openStore connects the configured persistence backend. SQL backends are
// migrated on open; MongoDB indexes are ensured by mongo.Connect.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "mongo":
		st, err := mongo.Connect(ctx, cfg.Store.MongoURI, cfg.Store.Database)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return st, nil
	default:
		gormDB, err := db.Connect(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := db.AutoMigrate(gormDB); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		st, err := store.NewGormStore(gormDB)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// loadConfig reads the config file at path.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
