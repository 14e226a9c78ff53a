package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
)

const commandColumns = `id, device_id, issuer_id, type, parameters, status, created_at, sent_at, acknowledged_at, completed_at, retry_count, max_retries, timeout_ms, response, last_error`

// CommandRepo persists commands. Every status mutation is a conditional
// UPDATE guarded on the stored status; zero affected rows means a concurrent
// writer won and the caller gets ErrStaleTransition instead of a blind
// overwrite.
type CommandRepo struct {
	pool *pgxpool.Pool
}

func NewCommandRepo(pool *pgxpool.Pool) *CommandRepo {
	return &CommandRepo{pool: pool}
}

func (r *CommandRepo) Create(ctx context.Context, cmd *domain.Command) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO commands (`+commandColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, cmd.ID, cmd.DeviceID, cmd.IssuerID, string(cmd.Type), cmd.Parameters,
		string(cmd.Status), cmd.CreatedAt, cmd.SentAt, cmd.AcknowledgedAt, cmd.CompletedAt,
		cmd.RetryCount, cmd.MaxRetries, cmd.Timeout.Milliseconds(), cmd.Response, cmd.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	return nil
}

func (r *CommandRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Command, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = $1`, id)
	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query command: %w", err)
	}
	return cmd, nil
}

func (r *CommandRepo) ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*domain.Command, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()
	return collectCommands(rows)
}

func (r *CommandRepo) ListStale(ctx context.Context, now time.Time) ([]*domain.Command, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE status IN ('pending', 'sent', 'acknowledged')
		  AND COALESCE(sent_at, created_at) + (timeout_ms * INTERVAL '1 millisecond') < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale commands: %w", err)
	}
	defer rows.Close()
	return collectCommands(rows)
}

func (r *CommandRepo) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, retryCount int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE commands
		SET status = 'sent', sent_at = $2, retry_count = $3
		WHERE id = $1 AND status IN ('pending', 'sent')
	`, id, sentAt, retryCount)
	if err != nil {
		return fmt.Errorf("failed to mark command sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleTransition
	}
	return nil
}

func (r *CommandRepo) MarkAcknowledged(ctx context.Context, id uuid.UUID, to domain.CommandStatus, response map[string]any, errMsg string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE commands
		SET status = $2,
		    acknowledged_at = COALESCE(acknowledged_at, $3),
		    completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END,
		    response = $4,
		    last_error = $5
		WHERE id = $1 AND status IN ('sent', 'acknowledged')
	`, id, string(to), at, response, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark command acknowledged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleTransition
	}
	return nil
}

func (r *CommandRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE commands
		SET status = 'failed', last_error = $2, completed_at = $3
		WHERE id = $1 AND status IN ('pending', 'sent', 'acknowledged')
	`, id, errMsg, at)
	if err != nil {
		return fmt.Errorf("failed to mark command failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleTransition
	}
	return nil
}

func (r *CommandRepo) MarkTimeout(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE commands
		SET status = 'timeout', completed_at = $2
		WHERE id = $1 AND status IN ('pending', 'sent', 'acknowledged')
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark command timed out: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleTransition
	}
	return nil
}

func (r *CommandRepo) RecordError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE commands
		SET last_error = $2, retry_count = $3
		WHERE id = $1 AND status IN ('pending', 'sent', 'acknowledged')
	`, id, errMsg, retryCount)
	if err != nil {
		return fmt.Errorf("failed to record command error: %w", err)
	}
	return nil
}

func scanCommand(row pgx.Row) (*domain.Command, error) {
	var (
		cmd       domain.Command
		typ       string
		status    string
		timeoutMS int64
	)
	err := row.Scan(
		&cmd.ID, &cmd.DeviceID, &cmd.IssuerID, &typ, &cmd.Parameters, &status,
		&cmd.CreatedAt, &cmd.SentAt, &cmd.AcknowledgedAt, &cmd.CompletedAt,
		&cmd.RetryCount, &cmd.MaxRetries, &timeoutMS, &cmd.Response, &cmd.LastError,
	)
	if err != nil {
		return nil, err
	}
	cmd.Type = domain.CommandType(typ)
	cmd.Status = domain.CommandStatus(status)
	cmd.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return &cmd, nil
}

func collectCommands(rows pgx.Rows) ([]*domain.Command, error) {
	var commands []*domain.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commands: %w", err)
	}
	return commands, nil
}
