package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CommandStatus is the delivery state of a remote command. Transitions are
// monotonic: pending < sent < {acknowledged, failed, timeout} < completed.
type CommandStatus string

const (
	CommandPending      CommandStatus = "pending"
	CommandSent         CommandStatus = "sent"
	CommandAcknowledged CommandStatus = "acknowledged"
	CommandCompleted    CommandStatus = "completed"
	CommandFailed       CommandStatus = "failed"
	CommandTimeout      CommandStatus = "timeout"
)

// Terminal reports whether no further transition is allowed from s.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandCompleted, CommandFailed, CommandTimeout:
		return true
	}
	return false
}

// CommandType enumerates the remote actions a device understands.
type CommandType string

const (
	CommandLock            CommandType = "lock"
	CommandUnlock          CommandType = "unlock"
	CommandAlarm           CommandType = "alarm"
	CommandStopAlarm       CommandType = "stop-alarm"
	CommandCapturePhoto    CommandType = "capture-photo"
	CommandCaptureVideo    CommandType = "capture-video"
	CommandStopVideo       CommandType = "stop-video"
	CommandFactoryReset    CommandType = "factory-reset"
	CommandGetStatus       CommandType = "get-status"
	CommandConfigUpdate    CommandType = "config-update"
	CommandEnableGeofence  CommandType = "enable-geofence"
	CommandDisableGeofence CommandType = "disable-geofence"
	CommandEnableTracking  CommandType = "enable-tracking"
	CommandDisableTracking CommandType = "disable-tracking"
)

var validCommandTypes = map[CommandType]struct{}{
	CommandLock: {}, CommandUnlock: {},
	CommandAlarm: {}, CommandStopAlarm: {},
	CommandCapturePhoto: {}, CommandCaptureVideo: {}, CommandStopVideo: {},
	CommandFactoryReset: {}, CommandGetStatus: {}, CommandConfigUpdate: {},
	CommandEnableGeofence: {}, CommandDisableGeofence: {},
	CommandEnableTracking: {}, CommandDisableTracking: {},
}

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	_, ok := validCommandTypes[t]
	return ok
}

// Command is the durable record of a requested remote action and its
// delivery/acknowledgment outcome.
type Command struct {
	ID         uuid.UUID
	DeviceID   uuid.UUID
	IssuerID   uuid.UUID
	Type       CommandType
	Parameters map[string]any
	Status     CommandStatus

	CreatedAt      time.Time
	SentAt         *time.Time
	AcknowledgedAt *time.Time
	CompletedAt    *time.Time

	RetryCount int
	MaxRetries int
	Timeout    time.Duration

	Response  map[string]any
	LastError string
}

// Deadline is the instant after which the command counts as stale. Each
// dispatch pushes the deadline forward.
func (c *Command) Deadline() time.Time {
	ref := c.CreatedAt
	if c.SentAt != nil {
		ref = *c.SentAt
	}
	return ref.Add(c.Timeout)
}

// CommandRepository persists commands. All status mutations are
// compare-and-swap on the stored status: when the stored status is not in the
// allowed source set the write is rejected with ErrStaleTransition instead of
// applied unconditionally.
type CommandRepository interface {
	Create(ctx context.Context, cmd *Command) error
	GetByID(ctx context.Context, id uuid.UUID) (*Command, error)
	ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*Command, error)

	// ListStale returns non-terminal commands whose deadline has passed.
	ListStale(ctx context.Context, now time.Time) ([]*Command, error)

	// MarkSent transitions pending|sent -> sent, stamping sentAt and the new
	// retry count.
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, retryCount int) error

	// MarkAcknowledged transitions sent|acknowledged -> to, where to is one of
	// acknowledged, completed, failed. Stores response and error verbatim.
	MarkAcknowledged(ctx context.Context, id uuid.UUID, to CommandStatus, response map[string]any, errMsg string, at time.Time) error

	// MarkFailed transitions any non-terminal status -> failed.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error

	// MarkTimeout transitions any non-terminal status -> timeout.
	MarkTimeout(ctx context.Context, id uuid.UUID, at time.Time) error

	// RecordError stores a delivery error and the consumed retry count
	// without changing status. No-op once the command is terminal.
	RecordError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
}
