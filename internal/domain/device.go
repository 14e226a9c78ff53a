package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeviceClass distinguishes hardware trackers from mobile companion agents.
type DeviceClass string

const (
	DeviceClassTracker DeviceClass = "tracker"
	DeviceClassMobile  DeviceClass = "mobile"
)

// Device is the canonical identity of a tracker or mobile agent. The
// canonical Code is unique; Aliases resolve many-to-one onto it.
type Device struct {
	ID            uuid.UUID
	Code          string
	Aliases       []string
	OwnerID       *uuid.UUID // nil until claimed
	Class         DeviceClass
	ActivationKey string
	Active        bool
	ExpiresAt     *time.Time
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OwnedBy reports whether the device is claimed by the given user.
func (d *Device) OwnedBy(userID uuid.UUID) bool {
	return d.OwnerID != nil && *d.OwnerID == userID
}

type DeviceRepository interface {
	Create(ctx context.Context, device *Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*Device, error)
	GetByCode(ctx context.Context, code string) (*Device, error)
	GetByAlias(ctx context.Context, alias string) (*Device, error)

	// Claim atomically sets the owner if the device is still unclaimed.
	// Returns ErrAlreadyClaimed when another owner won.
	Claim(ctx context.Context, id, ownerID uuid.UUID, expiresAt time.Time) error

	// Unassign clears the owner and deactivates the device.
	Unassign(ctx context.Context, id uuid.UUID) error
}

// PresenceStore records ephemeral per-device connectivity state.
type PresenceStore interface {
	SetOnline(ctx context.Context, deviceID uuid.UUID, at time.Time) error
	SetOffline(ctx context.Context, deviceID uuid.UUID, lastSeen time.Time) error
}
