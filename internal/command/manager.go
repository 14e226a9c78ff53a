// Package command implements the remote-command lifecycle: creation,
// dispatch to live sessions, acknowledgment, and timeout handling.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
	"github.com/intern-cubit/trackerApp-sub002/internal/metrics"
	"github.com/intern-cubit/trackerApp-sub002/internal/registry"
)

// Event name on the device-facing channel carrying the command envelope.
const envelopeEvent = "command"

// SessionDirectory is the slice of the connection registry the manager
// needs: identifier to live session, O(1).
type SessionDirectory interface {
	Lookup(identityOrAlias string) (*registry.Session, bool)
}

// Envelope is the wire shape pushed to a device session.
type Envelope struct {
	CommandID  uuid.UUID      `json:"commandId"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
	IssuedAt   time.Time      `json:"issuedAt"`
}

// AcknowledgeRequest is the validated inbound acknowledgment.
type AcknowledgeRequest struct {
	CommandID uuid.UUID
	Status    domain.CommandStatus // acknowledged, completed, or failed
	Response  map[string]any
	Error     string
}

// BatchResult is the per-device outcome of a bulk dispatch.
type BatchResult struct {
	DeviceID uuid.UUID
	Command  *domain.Command
	Err      error
}

// Manager drives the command state machine. Status persistence always
// commits before any live notification; a failed push never rolls state
// back, and retries are exclusively the sweep's responsibility.
type Manager struct {
	devices  domain.DeviceRepository
	commands domain.CommandRepository
	sessions SessionDirectory
	events   domain.EventPublisher
	clock    clockwork.Clock

	defaultTimeout    time.Duration
	defaultMaxRetries int
}

func NewManager(devices domain.DeviceRepository, commands domain.CommandRepository, sessions SessionDirectory, events domain.EventPublisher, clock clockwork.Clock, defaultTimeout time.Duration, defaultMaxRetries int) *Manager {
	return &Manager{
		devices:           devices,
		commands:          commands,
		sessions:          sessions,
		events:            events,
		clock:             clock,
		defaultTimeout:    defaultTimeout,
		defaultMaxRetries: defaultMaxRetries,
	}
}

// Create persists a pending command for the device. The issuer must own the
// device.
func (m *Manager) Create(ctx context.Context, deviceID, issuerID uuid.UUID, typ domain.CommandType, params map[string]any) (*domain.Command, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCommandType, typ)
	}

	device, err := m.devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !device.OwnedBy(issuerID) {
		return nil, domain.ErrForbidden
	}

	cmd := &domain.Command{
		ID:         uuid.New(),
		DeviceID:   device.ID,
		IssuerID:   issuerID,
		Type:       typ,
		Parameters: params,
		Status:     domain.CommandPending,
		CreatedAt:  m.clock.Now(),
		MaxRetries: m.defaultMaxRetries,
		Timeout:    m.defaultTimeout,
	}
	if err := m.commands.Create(ctx, cmd); err != nil {
		return nil, fmt.Errorf("persist command: %w", err)
	}

	metrics.CommandTransitionsTotal.WithLabelValues(string(domain.CommandPending)).Inc()
	return cmd, nil
}

// Dispatch delivers the command to the device's live session. No bound
// session means the command fails terminally with "device offline" and
// ErrDeviceUnreachable is returned; a push failure on a live session is
// recorded but left for the sweep to retry.
func (m *Manager) Dispatch(ctx context.Context, cmd *domain.Command) error {
	return m.dispatch(ctx, cmd, cmd.RetryCount)
}

func (m *Manager) dispatch(ctx context.Context, cmd *domain.Command, retryCount int) error {
	device, err := m.devices.GetByID(ctx, cmd.DeviceID)
	if err != nil {
		return err
	}

	sess, ok := m.sessions.Lookup(device.ID.String())
	if !ok {
		sess, ok = m.sessions.Lookup(device.Code)
	}
	if !ok {
		now := m.clock.Now()
		if err := m.commands.MarkFailed(ctx, cmd.ID, "device offline", now); err != nil {
			if errors.Is(err, domain.ErrStaleTransition) {
				metrics.StaleTransitionsTotal.Inc()
				slog.Info("Skipped failed transition, command already moved on", "command_id", cmd.ID.String())
				return nil
			}
			return fmt.Errorf("mark command failed: %w", err)
		}
		cmd.Status = domain.CommandFailed
		cmd.LastError = "device offline"
		metrics.CommandDispatchesTotal.WithLabelValues("unreachable").Inc()
		metrics.CommandTransitionsTotal.WithLabelValues(string(domain.CommandFailed)).Inc()
		m.publishStatus(device, cmd)
		return domain.ErrDeviceUnreachable
	}

	now := m.clock.Now()
	envelope := Envelope{
		CommandID:  cmd.ID,
		Type:       string(cmd.Type),
		Parameters: cmd.Parameters,
		IssuedAt:   now,
	}
	if err := sess.Push(envelopeEvent, envelope); err != nil {
		// The retry is consumed even though the push failed; a session
		// that keeps erroring must still exhaust the budget.
		if recErr := m.commands.RecordError(ctx, cmd.ID, err.Error(), retryCount); recErr != nil {
			slog.Error("Failed to record dispatch error", "command_id", cmd.ID.String(), "error", recErr)
		}
		cmd.RetryCount = retryCount
		cmd.LastError = err.Error()
		metrics.CommandDispatchesTotal.WithLabelValues("push_error").Inc()
		return fmt.Errorf("push command to session: %w", err)
	}

	if err := m.commands.MarkSent(ctx, cmd.ID, now, retryCount); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			metrics.StaleTransitionsTotal.Inc()
			slog.Info("Skipped sent transition, command already moved on", "command_id", cmd.ID.String())
			return nil
		}
		return fmt.Errorf("mark command sent: %w", err)
	}
	cmd.Status = domain.CommandSent
	cmd.SentAt = &now
	cmd.RetryCount = retryCount

	metrics.CommandDispatchesTotal.WithLabelValues("sent").Inc()
	metrics.CommandTransitionsTotal.WithLabelValues(string(domain.CommandSent)).Inc()
	m.publishStatus(device, cmd)
	return nil
}

// Acknowledge applies a device-reported outcome. Valid only while the
// command is sent (or acknowledged, for idempotent replays); anything else
// is logged and ignored so a late or duplicate ack can never resurrect a
// terminal command.
func (m *Manager) Acknowledge(ctx context.Context, req AcknowledgeRequest) error {
	switch req.Status {
	case domain.CommandAcknowledged, domain.CommandCompleted, domain.CommandFailed:
	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidAckStatus, req.Status)
	}

	cmd, err := m.commands.GetByID(ctx, req.CommandID)
	if err != nil {
		return err
	}

	if cmd.Status != domain.CommandSent && cmd.Status != domain.CommandAcknowledged {
		slog.Warn("Ignoring acknowledgment for command not in flight",
			"command_id", cmd.ID.String(),
			"status", string(cmd.Status),
			"reported", string(req.Status))
		return nil
	}

	now := m.clock.Now()
	if err := m.commands.MarkAcknowledged(ctx, cmd.ID, req.Status, req.Response, req.Error, now); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			metrics.StaleTransitionsTotal.Inc()
			slog.Warn("Acknowledgment lost transition race", "command_id", cmd.ID.String())
			return nil
		}
		return fmt.Errorf("mark command acknowledged: %w", err)
	}

	cmd.Status = req.Status
	cmd.Response = req.Response
	cmd.LastError = req.Error
	cmd.AcknowledgedAt = &now
	if req.Status == domain.CommandCompleted {
		cmd.CompletedAt = &now
	}

	metrics.CommandTransitionsTotal.WithLabelValues(string(req.Status)).Inc()

	device, err := m.devices.GetByID(ctx, cmd.DeviceID)
	if err != nil {
		slog.Error("Failed to load device for status publish", "command_id", cmd.ID.String(), "error", err)
		return nil
	}
	m.publishStatus(device, cmd)
	return nil
}

// CreateBatch verifies ownership across the whole batch before creating any
// record; a single mismatch aborts everything with ErrForbidden. Delivery
// failures after that point are independent per device.
func (m *Manager) CreateBatch(ctx context.Context, deviceIDs []uuid.UUID, issuerID uuid.UUID, typ domain.CommandType, params map[string]any) ([]BatchResult, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCommandType, typ)
	}

	devices := make([]*domain.Device, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		device, err := m.devices.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !device.OwnedBy(issuerID) {
			return nil, domain.ErrForbidden
		}
		devices = append(devices, device)
	}

	results := make([]BatchResult, 0, len(devices))
	for _, device := range devices {
		cmd, err := m.Create(ctx, device.ID, issuerID, typ, params)
		if err != nil {
			results = append(results, BatchResult{DeviceID: device.ID, Err: err})
			continue
		}
		err = m.Dispatch(ctx, cmd)
		results = append(results, BatchResult{DeviceID: device.ID, Command: cmd, Err: err})
	}
	return results, nil
}

// ListByDevice returns the most recent commands for a device, newest first.
func (m *Manager) ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*domain.Command, error) {
	return m.commands.ListByDevice(ctx, deviceID, limit)
}

// Sweep retries or times out stale commands. A non-terminal command past its
// deadline is re-dispatched while retries remain, then transitioned to
// timeout. Races with in-flight acknowledgments resolve via the repository's
// compare-and-swap; losers are dropped, not applied.
func (m *Manager) Sweep(ctx context.Context, now time.Time) {
	start := m.clock.Now()
	defer func() {
		metrics.SweepDurationSeconds.Observe(m.clock.Since(start).Seconds())
	}()

	stale, err := m.commands.ListStale(ctx, now)
	if err != nil {
		slog.Error("Sweep: listing stale commands failed", "error", err)
		return
	}

	for _, cmd := range stale {
		if cmd.RetryCount < cmd.MaxRetries {
			metrics.SweepRetriesTotal.Inc()
			if err := m.dispatch(ctx, cmd, cmd.RetryCount+1); err != nil {
				slog.Warn("Sweep: re-dispatch failed",
					"command_id", cmd.ID.String(),
					"retry", cmd.RetryCount+1,
					"error", err)
			}
			continue
		}

		if err := m.commands.MarkTimeout(ctx, cmd.ID, now); err != nil {
			if errors.Is(err, domain.ErrStaleTransition) {
				metrics.StaleTransitionsTotal.Inc()
				slog.Info("Sweep: command acknowledged before timeout applied", "command_id", cmd.ID.String())
				continue
			}
			slog.Error("Sweep: timeout transition failed", "command_id", cmd.ID.String(), "error", err)
			continue
		}
		cmd.Status = domain.CommandTimeout
		metrics.CommandTransitionsTotal.WithLabelValues(string(domain.CommandTimeout)).Inc()

		device, err := m.devices.GetByID(ctx, cmd.DeviceID)
		if err != nil {
			slog.Error("Sweep: device lookup for status publish failed", "command_id", cmd.ID.String(), "error", err)
			continue
		}
		m.publishStatus(device, cmd)
	}
}

func (m *Manager) publishStatus(device *domain.Device, cmd *domain.Command) {
	if m.events == nil || device.OwnerID == nil {
		return
	}
	m.events.Publish(*device.OwnerID, domain.EventCommandStatus, map[string]any{
		"commandId": cmd.ID,
		"deviceId":  cmd.DeviceID,
		"type":      string(cmd.Type),
		"status":    string(cmd.Status),
		"error":     cmd.LastError,
	})
}
