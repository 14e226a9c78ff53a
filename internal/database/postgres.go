// Package database provides the Postgres-backed repositories. The store is
// the consistency point: upserts and compare-and-swap status updates are
// atomic per row, serializing concurrent writers the core does not lock.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.MaxConns = 25

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations applies the bootstrap schema. Statements are idempotent so
// startup can run them unconditionally.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY,
			code TEXT UNIQUE NOT NULL,
			aliases TEXT[] NOT NULL DEFAULT '{}',
			owner_id UUID,
			class TEXT NOT NULL,
			activation_key TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT FALSE,
			expires_at TIMESTAMPTZ,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_owner_id ON devices(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_aliases ON devices USING GIN(aliases)`,
		`CREATE TABLE IF NOT EXISTS commands (
			id UUID PRIMARY KEY,
			device_id UUID NOT NULL REFERENCES devices(id),
			issuer_id UUID NOT NULL,
			type TEXT NOT NULL,
			parameters JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			sent_at TIMESTAMPTZ,
			acknowledged_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 0,
			timeout_ms BIGINT NOT NULL,
			response JSONB,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_device_id ON commands(device_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status) WHERE status IN ('pending', 'sent', 'acknowledged')`,
		`CREATE TABLE IF NOT EXISTS latest_locations (
			device_id UUID PRIMARY KEY REFERENCES devices(id),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			reported_at TIMESTAMPTZ NOT NULL,
			input_voltage DOUBLE PRECISION NOT NULL,
			battery_voltage DOUBLE PRECISION NOT NULL,
			boundary_crossed BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS location_history (
			id UUID PRIMARY KEY,
			device_id UUID NOT NULL REFERENCES devices(id),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			reported_at TIMESTAMPTZ NOT NULL,
			input_voltage DOUBLE PRECISION NOT NULL,
			battery_voltage DOUBLE PRECISION NOT NULL,
			boundary_crossed BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_location_history_device ON location_history(device_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			device_id UUID NOT NULL,
			kind TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	slog.Info("Database migrations completed")
	return nil
}
