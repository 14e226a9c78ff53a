package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LatestLocation is the single current-state snapshot per device, overwritten
// wholesale on every accepted report. The most recently processed report
// wins, not the most recent report timestamp.
type LatestLocation struct {
	DeviceID        uuid.UUID
	Latitude        float64
	Longitude       float64
	ReportedAt      time.Time
	InputVoltage    float64
	BatteryVoltage  float64
	BoundaryCrossed bool
	UpdatedAt       time.Time
}

// LocationHistoryEntry is an immutable audit-log row, one per ingested
// report. Never mutated or deleted by the core.
type LocationHistoryEntry struct {
	ID              uuid.UUID
	DeviceID        uuid.UUID
	Latitude        float64
	Longitude       float64
	ReportedAt      time.Time
	InputVoltage    float64
	BatteryVoltage  float64
	BoundaryCrossed bool
	CreatedAt       time.Time
}

type LocationRepository interface {
	// UpsertLatest overwrites the device's latest projection unconditionally.
	UpsertLatest(ctx context.Context, loc *LatestLocation) error
	GetLatest(ctx context.Context, deviceID uuid.UUID) (*LatestLocation, error)

	AppendHistory(ctx context.Context, entry *LocationHistoryEntry) error
	ListHistory(ctx context.Context, deviceID uuid.UUID, limit int) ([]*LocationHistoryEntry, error)
}
