package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradechat-backend/internal/config"
	"tradechat-backend/internal/store"
	"tradechat-backend/internal/store/badgerstore"
	"tradechat-backend/internal/store/postgres"
)

// connectTimeout bounds the initial database connection.
const connectTimeout = 10 * time.Second

// openStore opens the backend selected by STORE_DRIVER. The postgres schema
// is applied on open.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pgStore, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		migrateCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := pgStore.Migrate(migrateCtx); err != nil {
			pgStore.Close()
			return nil, fmt.Errorf("serve: apply schema: %w", err)
		}
		return pgStore, nil

	case config.DriverBadger:
		bStore, err := badgerstore.Open(cfg.BadgerPath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("badger store opened", "path", cfg.BadgerPath)
		return bStore, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgres.PostgresStore, error) {
	dbCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	dbpool, err := pgxpool.New(dbCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}
	if err := dbpool.Ping(dbCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("database connection pool established")
	return postgres.NewPostgresStore(dbpool, logger), nil
}
