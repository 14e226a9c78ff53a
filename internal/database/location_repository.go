package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
)

type LocationRepo struct {
	pool *pgxpool.Pool
}

func NewLocationRepo(pool *pgxpool.Pool) *LocationRepo {
	return &LocationRepo{pool: pool}
}

// UpsertLatest overwrites the projection unconditionally; the row-level
// upsert serializes concurrent reports for the same device and the last
// committed write wins.
func (r *LocationRepo) UpsertLatest(ctx context.Context, loc *domain.LatestLocation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO latest_locations (device_id, latitude, longitude, reported_at, input_voltage, battery_voltage, boundary_crossed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			reported_at = EXCLUDED.reported_at,
			input_voltage = EXCLUDED.input_voltage,
			battery_voltage = EXCLUDED.battery_voltage,
			boundary_crossed = EXCLUDED.boundary_crossed,
			updated_at = EXCLUDED.updated_at
	`, loc.DeviceID, loc.Latitude, loc.Longitude, loc.ReportedAt,
		loc.InputVoltage, loc.BatteryVoltage, loc.BoundaryCrossed, loc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert latest location: %w", err)
	}
	return nil
}

func (r *LocationRepo) GetLatest(ctx context.Context, deviceID uuid.UUID) (*domain.LatestLocation, error) {
	var loc domain.LatestLocation
	err := r.pool.QueryRow(ctx, `
		SELECT device_id, latitude, longitude, reported_at, input_voltage, battery_voltage, boundary_crossed, updated_at
		FROM latest_locations
		WHERE device_id = $1
	`, deviceID).Scan(
		&loc.DeviceID, &loc.Latitude, &loc.Longitude, &loc.ReportedAt,
		&loc.InputVoltage, &loc.BatteryVoltage, &loc.BoundaryCrossed, &loc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest location: %w", err)
	}
	return &loc, nil
}

func (r *LocationRepo) AppendHistory(ctx context.Context, entry *domain.LocationHistoryEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO location_history (id, device_id, latitude, longitude, reported_at, input_voltage, battery_voltage, boundary_crossed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.DeviceID, entry.Latitude, entry.Longitude, entry.ReportedAt,
		entry.InputVoltage, entry.BatteryVoltage, entry.BoundaryCrossed, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append location history: %w", err)
	}
	return nil
}

func (r *LocationRepo) ListHistory(ctx context.Context, deviceID uuid.UUID, limit int) ([]*domain.LocationHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, device_id, latitude, longitude, reported_at, input_voltage, battery_voltage, boundary_crossed, created_at
		FROM location_history
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list location history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LocationHistoryEntry
	for rows.Next() {
		var e domain.LocationHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.DeviceID, &e.Latitude, &e.Longitude, &e.ReportedAt,
			&e.InputVoltage, &e.BatteryVoltage, &e.BoundaryCrossed, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history entries: %w", err)
	}
	return entries, nil
}
