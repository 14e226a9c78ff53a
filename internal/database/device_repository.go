package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
)

const uniqueViolation = "23505"

const deviceColumns = `id, code, aliases, owner_id, class, activation_key, active, expires_at, metadata, created_at, updated_at`

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func (r *DeviceRepo) Create(ctx context.Context, device *domain.Device) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, device.ID, device.Code, device.Aliases, device.OwnerID, string(device.Class),
		device.ActivationKey, device.Active, device.ExpiresAt, device.Metadata,
		device.CreatedAt, device.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDeviceExists
		}
		return fmt.Errorf("failed to insert device: %w", err)
	}
	return nil
}

func (r *DeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	return r.get(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
}

func (r *DeviceRepo) GetByCode(ctx context.Context, code string) (*domain.Device, error) {
	return r.get(ctx, `SELECT `+deviceColumns+` FROM devices WHERE code = $1`, code)
}

func (r *DeviceRepo) GetByAlias(ctx context.Context, alias string) (*domain.Device, error) {
	return r.get(ctx, `SELECT `+deviceColumns+` FROM devices WHERE $1 = ANY(aliases)`, alias)
}

func (r *DeviceRepo) get(ctx context.Context, query string, arg any) (*domain.Device, error) {
	var (
		device domain.Device
		class  string
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&device.ID, &device.Code, &device.Aliases, &device.OwnerID, &class,
		&device.ActivationKey, &device.Active, &device.ExpiresAt, &device.Metadata,
		&device.CreatedAt, &device.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	device.Class = domain.DeviceClass(class)
	return &device, nil
}

// Claim sets the owner only while the device is unclaimed; the conditional
// update is the arbiter under concurrent claims.
func (r *DeviceRepo) Claim(ctx context.Context, id, ownerID uuid.UUID, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET owner_id = $2, active = TRUE, expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id IS NULL
	`, id, ownerID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to claim device: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Lost the race or already claimed: a claim by the same user stays a
	// no-op success.
	device, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if device.OwnedBy(ownerID) {
		return nil
	}
	return domain.ErrAlreadyClaimed
}

func (r *DeviceRepo) Unassign(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET owner_id = NULL, active = FALSE, expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to unassign device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}
