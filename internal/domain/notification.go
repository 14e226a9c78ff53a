package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notification kinds produced by the core.
const (
	NotificationGeofenceAlert = "geofence-alert"
)

// Notification is a durable record of an event addressed to a user. The
// record exists even when no live session is present to receive the push.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	DeviceID  uuid.UUID
	Kind      string
	Payload   map[string]any
	CreatedAt time.Time
}

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
}

// EventPublisher pushes best-effort live events to sessions bound to a user.
// Implementations swallow transport errors; a failed push never fails the
// triggering operation.
type EventPublisher interface {
	Publish(userID uuid.UUID, event string, payload any)
	PublishLiveLocation(userID, deviceID uuid.UUID, payload any)
}

// Live push event names, scoped per user/device.
const (
	EventAuthenticated = "authenticated"
	EventAlert         = "alert"
	EventLiveLocation  = "live-location"
	EventCommandStatus = "command-status"
	EventDeviceStatus  = "device-status"
)
