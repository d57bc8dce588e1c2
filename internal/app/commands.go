// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package app

import (
	"context"
	"fmt"

	"github.com/spikeapp/spike-sync/internal/repository/postgres"
)

// migrateDB opens a short-lived pool for migration commands.
func migrateDB(ctx context.Context, cfg *Config) (*postgres.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	return postgres.New(ctx, cfg.Database.URL, postgres.Options{MaxOpenConns: 2})
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(ctx context.Context, cfg *Config) error {
	db, err := migrateDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate(ctx)
}

// RollbackMigrations rolls back the given number of migrations ("1" when
// steps is empty).
func RollbackMigrations(ctx context.Context, cfg *Config, steps string) error {
	db, err := migrateDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.MigrateDown(ctx, steps)
}

// MigrationStatus prints the applied/pending state of every migration.
func MigrationStatus(ctx context.Context, cfg *Config) error {
	db, err := migrateDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.MigrationStatus(ctx)
}
